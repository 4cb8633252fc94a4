package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/internal/oracle"
	"github.com/xkilldash9x/ouroboros/internal/store"
)

const (
	knowledgeFile = "knowledge_base.json"

	maxInsights          = 200
	summaryMaxAge        = 24 * time.Hour
	summaryNewEntryCount = 20
	summaryPromptEntries = 50
)

const knowledgeSummarySystem = `You summarize engineering insights gathered from code review outcomes.
Group recurring themes, keep it under 150 words, and state lessons as plain imperatives.`

// Insight is one learned observation, usually distilled from a review
// outcome or community feedback.
type Insight struct {
	Insight string   `json:"insight"`
	Tags    []string `json:"tags,omitempty"`
	TS      int64    `json:"ts"`
}

// knowledgeDocument is the single persisted blob: the bounded entry list
// plus the cached summary and its generation time.
type knowledgeDocument struct {
	Entries          []Insight `json:"entries"`
	SummaryCache     string    `json:"summary_cache"`
	SummaryUpdatedAt int64     `json:"summary_updated_at"`
}

// KnowledgeBase accumulates insights and serves a cached oracle-written
// summary of them for prompt context.
type KnowledgeBase struct {
	mu     sync.Mutex
	store  *store.Store
	gen    oracle.Generator
	logger *zap.Logger
}

// NewKnowledgeBase returns a knowledge base persisting through st. The
// generator may be nil; Summary then serves only the cached text.
func NewKnowledgeBase(st *store.Store, gen oracle.Generator, logger *zap.Logger) *KnowledgeBase {
	return &KnowledgeBase{
		store:  st,
		gen:    gen,
		logger: logger.Named("knowledge"),
	}
}

// AddInsight appends one insight, dropping the oldest entries beyond the
// capacity.
func (k *KnowledgeBase) AddInsight(text string, tags ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	doc := k.load()
	doc.Entries = append(doc.Entries, Insight{
		Insight: text,
		Tags:    tags,
		TS:      time.Now().Unix(),
	})
	if len(doc.Entries) > maxInsights {
		doc.Entries = doc.Entries[len(doc.Entries)-maxInsights:]
	}
	if err := k.store.SaveJSON(knowledgeFile, &doc); err != nil {
		return fmt.Errorf("failed to persist knowledge base: %w", err)
	}
	return nil
}

// Entries returns all stored insights, oldest first.
func (k *KnowledgeBase) Entries() []Insight {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.load().Entries
}

// Summary returns a condensed view of the stored insights. The cached
// text is served until it is absent, older than 24 hours, or twenty or
// more entries arrived after it was generated; then the fast oracle tier
// rewrites it. A failed regeneration falls back to the cached text, so
// the caller always gets a string.
func (k *KnowledgeBase) Summary(ctx context.Context) string {
	k.mu.Lock()
	defer k.mu.Unlock()

	doc := k.load()
	if len(doc.Entries) == 0 {
		return ""
	}

	entriesSince := 0
	for _, e := range doc.Entries {
		if e.TS > doc.SummaryUpdatedAt {
			entriesSince++
		}
	}
	age := time.Since(time.Unix(doc.SummaryUpdatedAt, 0))
	fresh := doc.SummaryCache != "" && age <= summaryMaxAge && entriesSince < summaryNewEntryCount
	if fresh || k.gen == nil {
		return doc.SummaryCache
	}

	entries := doc.Entries
	if len(entries) > summaryPromptEntries {
		entries = entries[len(entries)-summaryPromptEntries:]
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s\n", strings.Join(e.Tags, ", "), e.Insight)
	}

	text, err := k.gen.Generate(ctx, oracle.Request{
		Tier:         oracle.TierFast,
		SystemPrompt: knowledgeSummarySystem,
		UserPrompt:   b.String(),
	})
	if err != nil || strings.TrimSpace(text) == "" {
		k.logger.Warn("Knowledge summary regeneration failed, serving cached", zap.Error(err))
		return doc.SummaryCache
	}

	doc.SummaryCache = strings.TrimSpace(text)
	doc.SummaryUpdatedAt = time.Now().Unix()
	if err := k.store.SaveJSON(knowledgeFile, &doc); err != nil {
		k.logger.Warn("Failed to cache knowledge summary", zap.Error(err))
	}
	return doc.SummaryCache
}

// load returns the persisted document, treating absence or corruption as
// an empty knowledge base.
func (k *KnowledgeBase) load() knowledgeDocument {
	var doc knowledgeDocument
	if _, err := k.store.LoadJSON(knowledgeFile, &doc); err != nil {
		k.logger.Warn("Knowledge base unreadable, starting fresh", zap.Error(err))
		return knowledgeDocument{}
	}
	return doc
}
