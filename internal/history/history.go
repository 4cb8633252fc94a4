// Package history keeps the durable record of improvement attempts and
// the distilled knowledge gained from their review outcomes. The record
// is what makes the engine accountable: every validated cycle lands here
// whatever its outcome, and reviewers' verdicts flow back in later.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/store"
)

const (
	historyFile = "evaluation_history.json"

	// outcomePollConcurrency bounds parallel review-state lookups.
	outcomePollConcurrency = 4
)

// Outcome is what eventually became of a recorded improvement.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeMerged   Outcome = "merged"
	OutcomeClosed   Outcome = "closed"
	OutcomeReverted Outcome = "reverted"
)

// TestCounts is the pass/fail snapshot of one harness run.
type TestCounts struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// TestDelta pairs the snapshots taken before and after a validation.
type TestDelta struct {
	Before TestCounts `json:"before"`
	After  TestCounts `json:"after"`
}

// EvaluationRecord is one attempted improvement and what became of it.
type EvaluationRecord struct {
	TaskID      string           `json:"task_id"`
	TaskType    schemas.TaskType `json:"task_type"`
	Description string           `json:"description"`
	TestDelta   TestDelta        `json:"test_delta"`
	PublishURL  string           `json:"publish_url,omitempty"`
	Outcome     Outcome          `json:"outcome"`
	Feedback    string           `json:"feedback,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// OutcomeMirror receives outcome flips for records that are also
// mirrored elsewhere. The Postgres archive implements it; mirror
// failures are logged and never fail a poll.
type OutcomeMirror interface {
	UpdateOutcome(ctx context.Context, taskID string, outcome Outcome) error
}

// EvaluationStore appends evaluation records to the durable history and
// serves the queries the orchestrators gate on.
type EvaluationStore struct {
	store     *store.Store
	knowledge *KnowledgeBase
	mirror    OutcomeMirror
	logger    *zap.Logger
}

// NewEvaluationStore returns a store writing through st. The knowledge
// base is optional; when present, outcome flips feed insights into it.
func NewEvaluationStore(st *store.Store, knowledge *KnowledgeBase, logger *zap.Logger) *EvaluationStore {
	return &EvaluationStore{
		store:     st,
		knowledge: knowledge,
		logger:    logger.Named("history"),
	}
}

// SetOutcomeMirror registers a mirror to receive outcome flips found by
// PollOutcomes. Without one, flips stay local to the file store.
func (s *EvaluationStore) SetOutcomeMirror(m OutcomeMirror) {
	s.mirror = m
}

// Record converts a finished result into an evaluation record and
// appends it. Reverted results are final immediately; everything else
// starts pending so outcome polling can pick it up once reviewed.
func (s *EvaluationStore) Record(result schemas.Result, feedback string) error {
	outcome := OutcomePending
	if result.Status == schemas.StatusReverted {
		outcome = OutcomeReverted
	}
	return s.Append(EvaluationRecord{
		TaskID:      result.Task.ID,
		TaskType:    result.Task.Type,
		Description: result.Task.Description,
		TestDelta: TestDelta{
			Before: TestCounts{Passed: result.TestBefore.Passed, Failed: result.TestBefore.Failed},
			After:  TestCounts{Passed: result.TestAfter.Passed, Failed: result.TestAfter.Failed},
		},
		PublishURL: result.PublishURL,
		Outcome:    outcome,
		Feedback:   feedback,
		Timestamp:  time.Now().UTC(),
	})
}

// Append adds one record to the history.
func (s *EvaluationStore) Append(rec EvaluationRecord) error {
	records := s.Load()
	records = append(records, rec)
	if err := s.store.SaveJSON(historyFile, records); err != nil {
		return fmt.Errorf("failed to persist evaluation history: %w", err)
	}
	return nil
}

// Load returns all records, oldest first. An absent or corrupt history
// yields an empty list with a warning, never an error; losing history
// must not stop the engine.
func (s *EvaluationStore) Load() []EvaluationRecord {
	var records []EvaluationRecord
	if _, err := s.store.LoadJSON(historyFile, &records); err != nil {
		s.logger.Warn("Evaluation history unreadable, starting empty", zap.Error(err))
		return nil
	}
	return records
}

// CountSince counts records stamped inside the trailing window. The
// rolling-24h rate gate is built on this.
func (s *EvaluationStore) CountSince(window time.Duration) int {
	cutoff := time.Now().Add(-window)
	count := 0
	for _, rec := range s.Load() {
		if rec.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// Summarize renders the most recent n records for oracle context, one
// line per attempt with its outcome and test delta.
func (s *EvaluationStore) Summarize(n int) string {
	records := s.Load()
	if len(records) == 0 {
		return "No previous improvement attempts."
	}
	if n <= 0 {
		n = 10
	}
	if len(records) > n {
		records = records[len(records)-n:]
	}

	var b strings.Builder
	b.WriteString("# Recent Improvement History\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "- [%s] %s: %s (tests: %dp/%df -> %dp/%df)\n",
			rec.Outcome, rec.TaskType, rec.Description,
			rec.TestDelta.Before.Passed, rec.TestDelta.Before.Failed,
			rec.TestDelta.After.Passed, rec.TestDelta.After.Failed,
		)
		if rec.Feedback != "" {
			fmt.Fprintf(&b, "  Feedback: %s\n", rec.Feedback)
		}
	}
	return b.String()
}

// PollOutcomes asks the publisher about every pending record that has a
// publish URL and flips those that were merged or closed. The lookups
// run with bounded concurrency; individual failures are logged and
// skipped. Flips also propagate to the outcome mirror when one is
// registered. The history is rewritten only when something changed.
// Returns the number of flipped records.
func (s *EvaluationStore) PollOutcomes(ctx context.Context, publisher schemas.Publisher) (int, error) {
	records := s.Load()
	flipped := make([]Outcome, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(outcomePollConcurrency)
	for i := range records {
		rec := records[i]
		if rec.Outcome != OutcomePending || rec.PublishURL == "" {
			continue
		}
		i := i
		g.Go(func() error {
			state, err := publisher.RequestState(gctx, rec.PublishURL)
			if err != nil {
				s.logger.Warn("Could not check review request state",
					zap.String("url", rec.PublishURL), zap.Error(err))
				return nil
			}
			switch state {
			case schemas.RequestMerged:
				flipped[i] = OutcomeMerged
			case schemas.RequestClosed:
				flipped[i] = OutcomeClosed
			}
			return nil
		})
	}
	_ = g.Wait()

	changed := 0
	for i, outcome := range flipped {
		if outcome == "" {
			continue
		}
		records[i].Outcome = outcome
		changed++
		s.logger.Info("Review request outcome updated",
			zap.String("url", records[i].PublishURL),
			zap.String("outcome", string(outcome)),
		)
		if s.knowledge != nil {
			insight := fmt.Sprintf("Improvement %q (%s) was %s by reviewers.",
				records[i].Description, records[i].TaskType, outcome)
			if err := s.knowledge.AddInsight(insight, string(records[i].TaskType)); err != nil {
				s.logger.Warn("Failed to store outcome insight", zap.Error(err))
			}
		}
		if s.mirror != nil {
			if err := s.mirror.UpdateOutcome(ctx, records[i].TaskID, outcome); err != nil {
				s.logger.Warn("Failed to mirror outcome update",
					zap.String("task_id", records[i].TaskID), zap.Error(err))
			}
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.store.SaveJSON(historyFile, records); err != nil {
		return 0, fmt.Errorf("failed to persist polled outcomes: %w", err)
	}
	return changed, nil
}
