// File: internal/community/machine.go
package community

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/config"
	"github.com/xkilldash9x/ouroboros/internal/feed"
	"github.com/xkilldash9x/ouroboros/internal/history"
	"github.com/xkilldash9x/ouroboros/internal/improve"
	"github.com/xkilldash9x/ouroboros/internal/policy"
	"github.com/xkilldash9x/ouroboros/internal/store"
)

// stateFile is the single durable document holding the machine's world.
const stateFile = "community_state.json"

// Tick tokens. Every transition answers with exactly one of these so an
// operator can follow the machine from the log alone.
const (
	TokenIdleInterval         = "idle_interval"
	TokenOpenRequest          = "open_request_exists"
	TokenNoProblems           = "no_problems"
	TokenIdentified           = "identified"
	TokenWaitingForInterval   = "waiting_for_post_interval"
	TokenDryRun               = "dry_run"
	TokenPostFailed           = "post_failed"
	TokenPosted               = "posted"
	TokenWaitingForComments   = "waiting_for_comments"
	TokenEarlyAnalysis        = "early_analysis"
	TokenDeadlineAnalysis     = "deadline_analysis"
	TokenFallbackNoComments   = "fallback_no_comments"
	TokenFallbackNoActionable = "fallback_no_actionable"
	TokenSuggestionSelected   = "suggestion_selected"
	TokenImplementedSuccess   = "implemented_success"
	TokenImplementedFailed    = "implemented_failed"
	TokenImplementedReverted  = "implemented_reverted"
	TokenArchived             = "archived"
	TokenStateReset           = "state_reset"
)

// Machine is the community-assisted improvement orchestrator. It owns no
// in-memory lifecycle: every tick loads the durable document, advances
// at most one transition, and saves the document back, so any process
// can pick up exactly where the last one stopped.
type Machine struct {
	cfg       config.Interface
	oracle    *improve.Oracle
	runner    *improve.ValidationRunner
	validator *policy.Validator
	publisher schemas.Publisher
	feed      feed.Service
	harness   schemas.TestHarness
	history   *history.EvaluationStore
	mirror    improve.Mirror
	store     *store.Store
	logger    *zap.Logger

	// now is replaceable so tests can drive the interval guards.
	now func() time.Time
}

// NewMachine wires the state machine. mirror may be nil.
func NewMachine(
	cfg config.Interface,
	roles *improve.Oracle,
	runner *improve.ValidationRunner,
	validator *policy.Validator,
	publisher schemas.Publisher,
	feedSvc feed.Service,
	harness schemas.TestHarness,
	evalStore *history.EvaluationStore,
	mirror improve.Mirror,
	st *store.Store,
	logger *zap.Logger,
) *Machine {
	return &Machine{
		cfg:       cfg,
		oracle:    roles,
		runner:    runner,
		validator: validator,
		publisher: publisher,
		feed:      feedSvc,
		harness:   harness,
		history:   evalStore,
		mirror:    mirror,
		store:     st,
		logger:    logger.Named("community"),
	}
}

// clock returns the machine's time source.
func (m *Machine) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// Tick advances the machine by at most one transition and persists the
// result. The returned token describes what happened; the error only
// reports a failure to persist, which callers treat as a loop error.
func (m *Machine) Tick(ctx context.Context) (string, error) {
	doc := m.load()
	token := m.step(ctx, doc)
	if err := m.store.SaveJSON(stateFile, doc); err != nil {
		return token, fmt.Errorf("failed to persist community state: %w", err)
	}
	return token, nil
}

// step dispatches the current phase. Malformed state self-heals: it is
// logged, cleared, and the machine starts over on the next tick.
func (m *Machine) step(ctx context.Context, doc *document) string {
	if doc.Current == nil {
		return m.stepIdentify(ctx, doc)
	}
	current, err := decode(doc.Current)
	if err != nil {
		m.logger.Warn("Corrupt community state, resetting", zap.Error(err))
		doc.Current = nil
		return TokenStateReset
	}

	switch v := current.(type) {
	case identified:
		return m.stepPost(ctx, doc, v)
	case posted:
		return m.stepWait(ctx, doc, v)
	case waiting:
		return m.stepWait(ctx, doc, v.posted)
	case analyzing:
		return m.stepAnalyze(ctx, doc, v)
	case implementing:
		return m.stepImplement(ctx, doc, v.taskContext, v.PostID, &v.Selected)
	case fallback:
		return m.stepImplement(ctx, doc, v.taskContext, v.PostID, nil)
	case terminal:
		return m.stepArchive(doc, v)
	default:
		m.logger.Warn("Unhandled community state, resetting",
			zap.String("status", string(current.status())))
		doc.Current = nil
		return TokenStateReset
	}
}

// stepIdentify starts a new improvement once the cycle interval has
// elapsed and no improvement request is already open.
func (m *Machine) stepIdentify(ctx context.Context, doc *document) string {
	now := m.clock()
	interval := m.cfg.Feed().CycleInterval()
	if doc.LastCycleStart > 0 && now.Sub(time.Unix(doc.LastCycleStart, 0)) < interval {
		return TokenIdleInterval
	}

	open, err := m.publisher.HasOpenRequests(ctx, m.cfg.Publish().BranchPrefix)
	if err != nil {
		m.logger.Warn("Could not check open review requests, proceeding", zap.Error(err))
	} else if open {
		m.logger.Debug("Open improvement request exists, skipping")
		return TokenOpenRequest
	}

	root := m.cfg.Engine().RepoRoot
	m.logger.Info("Analyzing codebase for community-suitable problems")
	summary := improve.CodebaseSummary(root)
	baseline := m.harness.Run(ctx)
	testOutput := improve.TestText(baseline.Passed, baseline.Failed, baseline.Errors, baseline.FailureDetails)

	task := m.oracle.IdentifyTask(ctx, summary, testOutput,
		m.history.Summarize(10), m.validator.ConstraintsText())
	doc.LastCycleStart = now.Unix()
	if task == nil {
		m.logger.Info("No problems identified for community input")
		return TokenNoProblems
	}

	doc.Current = encode(identified{taskContext{
		Task:        *task,
		CodeContext: improve.TruncateForContext(improve.ReadTargetFiles(root, task.TargetFiles)),
		TestOutput:  testOutput,
	}})
	m.logger.Info("Community improvement identified",
		zap.String("task_id", task.ID),
		zap.String("type", string(task.Type)),
		zap.String("description", task.Description),
	)
	return TokenIdentified
}

// stepPost publishes the question to the feed, unless our own posting
// interval has not elapsed yet, in which case the state holds.
func (m *Machine) stepPost(ctx context.Context, doc *document, cur identified) string {
	now := m.clock()
	if last := m.lastPostTime(ctx, doc); !last.IsZero() {
		if elapsed := now.Sub(last); elapsed < m.cfg.Feed().MinPostInterval() {
			m.logger.Info("Too soon to post, holding",
				zap.Duration("since_last_post", elapsed),
				zap.Duration("min_interval", m.cfg.Feed().MinPostInterval()),
			)
			return TokenWaitingForInterval
		}
	}

	draft := m.oracle.DraftPost(ctx, cur.Task, cur.CodeContext, cur.TestOutput)
	if draft == nil {
		m.logger.Warn("Failed to draft community question")
		doc.Current = encode(terminal{taskContext: cur.taskContext, St: StatusFailed})
		return TokenPostFailed
	}

	if m.cfg.Engine().DryRun {
		m.logger.Info("Dry run, would post question",
			zap.String("title", draft.Title))
		doc.Current = encode(terminal{taskContext: cur.taskContext, St: StatusCompleted})
		doc.LastPost = now.Unix()
		return TokenDryRun
	}

	postID, err := m.feed.CreatePost(ctx, m.cfg.Feed().Group, draft.Title, draft.Content)
	if err != nil {
		m.logger.Error("Failed to create community post", zap.Error(err))
		doc.Current = encode(terminal{taskContext: cur.taskContext, St: StatusFailed})
		return TokenPostFailed
	}

	doc.Current = encode(posted{
		taskContext: cur.taskContext,
		PostID:      postID,
		PostedAt:    now,
		WaitUntil:   now.Add(m.cfg.Feed().WaitWindow()),
	})
	doc.LastPost = now.Unix()
	m.logger.Info("Community question posted",
		zap.String("post_id", postID),
		zap.String("title", draft.Title),
		zap.Duration("wait_window", m.cfg.Feed().WaitWindow()),
	)
	return TokenPosted
}

// stepWait polls comments and fires the early or deadline trigger.
func (m *Machine) stepWait(ctx context.Context, doc *document, cur posted) string {
	if cur.PostID == "" {
		m.logger.Warn("Waiting state has no post ID, failing")
		doc.Current = encode(terminal{taskContext: cur.taskContext, St: StatusFailed})
		return TokenPostFailed
	}

	comments, err := m.feed.Comments(ctx, cur.PostID)
	if err != nil {
		// A failed poll keeps the previous snapshot; the deadline can
		// still fire on stale data.
		m.logger.Warn("Failed to fetch comments, keeping snapshot", zap.Error(err))
		comments = cur.Comments
	}
	cur.Comments = comments

	minEarly := m.cfg.Feed().MinCommentsForEarly
	now := m.clock()
	switch {
	case len(comments) >= minEarly:
		m.logger.Info("Early analysis trigger",
			zap.Int("comments", len(comments)), zap.Int("min_for_early", minEarly))
		doc.Current = encode(analyzing{taskContext: cur.taskContext, PostID: cur.PostID, Comments: comments})
		return TokenEarlyAnalysis
	case !now.Before(cur.WaitUntil):
		m.logger.Info("Wait window expired, advancing to analysis",
			zap.Int("comments", len(comments)))
		doc.Current = encode(analyzing{taskContext: cur.taskContext, PostID: cur.PostID, Comments: comments})
		return TokenDeadlineAnalysis
	default:
		doc.Current = encode(waiting{cur})
		return TokenWaitingForComments
	}
}

// stepAnalyze reads the thread for actionable suggestions and selects
// the most confident one, or falls back to oracle-only generation.
func (m *Machine) stepAnalyze(ctx context.Context, doc *document, cur analyzing) string {
	if len(cur.Comments) == 0 {
		m.logger.Info("No comments received, falling back to oracle-only generation")
		doc.Current = encode(fallback{taskContext: cur.taskContext, PostID: cur.PostID})
		return TokenFallbackNoComments
	}

	analysis := m.oracle.AnalyzeComments(ctx, cur.Task.Description, cur.CodeContext, cur.Comments)
	if analysis == nil || !analysis.HasActionable || len(analysis.Suggestions) == 0 {
		m.logger.Info("No actionable suggestions, falling back to oracle-only generation")
		doc.Current = encode(fallback{taskContext: cur.taskContext, PostID: cur.PostID})
		return TokenFallbackNoActionable
	}

	// Highest confidence wins; a strict comparison keeps first-seen
	// order on ties.
	best := analysis.Suggestions[0]
	for _, s := range analysis.Suggestions[1:] {
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	doc.Current = encode(implementing{taskContext: cur.taskContext, PostID: cur.PostID, Selected: best})
	m.logger.Info("Suggestion selected",
		zap.String("author", best.Author),
		zap.Float64("confidence", best.Confidence),
	)
	return TokenSuggestionSelected
}

// stepImplement generates and validates the change, from the selected
// suggestion when there is one and from the oracle alone on fallback,
// then publishes and records the outcome.
func (m *Machine) stepImplement(ctx context.Context, doc *document, tc taskContext, postID string, selected *improve.Suggestion) string {
	root := m.cfg.Engine().RepoRoot
	files := improve.ReadTargetFiles(root, tc.Task.TargetFiles)

	fail := func(token string) string {
		t := terminal{taskContext: tc, St: StatusFailed, PostID: postID, FallbackUsed: selected == nil}
		if selected != nil {
			t.SelectedAuthor = selected.Author
		}
		doc.Current = encode(t)
		return token
	}

	plan := m.oracle.PlanChange(ctx, tc.Task, improve.RenderFiles(files, 0))
	if plan == "" {
		m.logger.Warn("Failed to generate plan")
		return fail(TokenImplementedFailed)
	}

	var changes []schemas.Change
	if selected != nil {
		changes = m.oracle.GenerateFromSuggestion(ctx, *selected, files, plan, m.validator.ConstraintsText())
	} else {
		changes = m.oracle.GenerateChanges(ctx, plan, files, m.validator.ConstraintsText())
	}
	if len(changes) == 0 {
		m.logger.Warn("Failed to generate code changes")
		return fail(TokenImplementedFailed)
	}

	m.logger.Info("Validating community changes", zap.Int("files", len(changes)))
	result := m.runner.Validate(ctx, tc.Task, changes)

	var token string
	switch result.Status {
	case schemas.StatusSuccess:
		url, err := m.publish(ctx, &result, postID, selected)
		if err != nil {
			m.logger.Error("Failed to publish community improvement", zap.Error(err))
			token = fail(TokenImplementedFailed)
		} else {
			result.PublishURL = url
			t := terminal{taskContext: tc, St: StatusCompleted, PostID: postID, PublishURL: url, FallbackUsed: selected == nil}
			if selected != nil {
				t.SelectedAuthor = selected.Author
			}
			doc.Current = encode(t)
			token = TokenImplementedSuccess
		}
	case schemas.StatusReverted:
		token = fail(TokenImplementedReverted)
	default:
		token = fail(TokenImplementedFailed)
	}

	m.record(ctx, result)
	return token
}

// stepArchive moves a finished improvement into the bounded history and
// clears the live record.
func (m *Machine) stepArchive(doc *document, cur terminal) string {
	doc.History = append(doc.History, cur.archive(m.clock()))
	if len(doc.History) > maxHistory {
		doc.History = doc.History[len(doc.History)-maxHistory:]
	}
	doc.Current = nil
	m.logger.Info("Community improvement archived",
		zap.String("task_id", cur.Task.ID),
		zap.String("status", string(cur.St)),
	)
	return TokenArchived
}

// publish ships a validated community result, restoring the original
// branch on every path.
func (m *Machine) publish(ctx context.Context, result *schemas.Result, postID string, selected *improve.Suggestion) (url string, err error) {
	originalBranch, err := m.publisher.CurrentBranch()
	if err != nil {
		return "", fmt.Errorf("failed to determine current branch: %w", err)
	}
	defer func() {
		if restoreErr := m.publisher.CheckoutBranch(originalBranch); restoreErr != nil {
			m.logger.Error("Failed to restore original branch",
				zap.String("branch", originalBranch), zap.Error(restoreErr))
			if err == nil {
				err = restoreErr
			}
		}
	}()

	task := result.Task
	branch := improve.BranchName(m.cfg.Publish().BranchPrefix, fmt.Sprintf("community-%s", task.Type), m.clock())
	if err := m.publisher.CreateBranch(branch); err != nil {
		return "", err
	}
	paths := make([]string, 0, len(result.Changes))
	for _, change := range result.Changes {
		paths = append(paths, change.FilePath)
	}
	message := fmt.Sprintf("ouroboros: community %s - %s", task.Type, task.Description)
	if err := m.publisher.CommitFiles(paths, message); err != nil {
		return "", err
	}
	if err := m.publisher.Push(ctx); err != nil {
		return "", err
	}

	title := fmt.Sprintf("[ouroboros] community %s: %s", task.Type, clip(task.Description, 50))
	return m.publisher.OpenPullRequest(ctx, title, communityRequestBody(*result, postID, selected), branch)
}

// record persists the validated result and mirrors it when configured.
func (m *Machine) record(ctx context.Context, result schemas.Result) {
	if err := m.history.Record(result, ""); err != nil {
		m.logger.Error("Failed to record community result", zap.Error(err))
		return
	}
	if m.mirror == nil {
		return
	}
	records := m.history.Load()
	if len(records) == 0 {
		return
	}
	if err := m.mirror.RecordEvaluation(ctx, records[len(records)-1]); err != nil {
		m.logger.Warn("Failed to mirror evaluation record", zap.Error(err))
	}
}

// lastPostTime returns the most recent of the locally remembered post
// time and what the feed reports, so reinstalls do not double-post.
func (m *Machine) lastPostTime(ctx context.Context, doc *document) time.Time {
	var last time.Time
	if doc.LastPost > 0 {
		last = time.Unix(doc.LastPost, 0)
	}
	posts, err := m.feed.OwnRecentPosts(ctx, 1)
	if err != nil {
		m.logger.Warn("Could not fetch own recent posts", zap.Error(err))
		return last
	}
	if len(posts) > 0 && posts[0].CreatedAt.After(last) {
		last = posts[0].CreatedAt
	}
	return last
}

// load reads the durable document, healing absence and corruption into
// the empty document.
func (m *Machine) load() *document {
	var doc document
	if _, err := m.store.LoadJSON(stateFile, &doc); err != nil {
		m.logger.Warn("Community state unreadable, starting fresh", zap.Error(err))
		return &document{}
	}
	return &doc
}

// communityRequestBody builds the review request description, crediting
// the commenter when a suggestion drove the change.
func communityRequestBody(result schemas.Result, postID string, selected *improve.Suggestion) string {
	task := result.Task
	lines := []string{
		"## Community-Assisted Self-Improvement",
		"",
		fmt.Sprintf("**Type**: %s", task.Type),
		fmt.Sprintf("**Task ID**: %s", task.ID),
	}
	if postID != "" {
		lines = append(lines, fmt.Sprintf("**Community Post**: %s", postID))
	}
	lines = append(lines,
		"",
		"### Description",
		task.Description,
		"",
		"### Evidence",
		task.Evidence,
		"",
	)
	if selected != nil {
		lines = append(lines,
			"### Community Credit",
			fmt.Sprintf("Solution inspired by **%s**'s suggestion:", selected.Author),
			fmt.Sprintf("> %s", selected.Approach),
			"",
		)
	} else {
		lines = append(lines,
			"### Note",
			"No actionable community suggestions were received. This improvement was generated by oracle-only fallback.",
			"",
		)
	}
	lines = append(lines, "### Changes")
	for _, change := range result.Changes {
		lines = append(lines, fmt.Sprintf("- `%s`: %s", change.FilePath, change.Description))
	}
	lines = append(lines,
		"",
		"### Test Results",
		fmt.Sprintf("- **Before**: %s", result.TestBefore.Summary()),
		fmt.Sprintf("- **After**: %s", result.TestAfter.Summary()),
		"",
		"---",
		"Generated by the Ouroboros community-assisted self-improvement engine.",
		"Human review and approval required before merge.",
	)
	return strings.Join(lines, "\n")
}

// clip bounds s to at most n bytes, backing off to the nearest rune
// boundary so a multi-byte character is never split.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Overview is a read-only snapshot for operators.
type Overview struct {
	Status         Status         `json:"status"`
	TaskID         string         `json:"task_id,omitempty"`
	Description    string         `json:"description,omitempty"`
	PostID         string         `json:"post_id,omitempty"`
	WaitUntil      time.Time      `json:"wait_until,omitempty"`
	CommentCount   int            `json:"comment_count"`
	FallbackUsed   bool           `json:"fallback_used"`
	PublishURL     string         `json:"publish_url,omitempty"`
	LastCycleStart time.Time      `json:"last_cycle_start,omitempty"`
	LastPost       time.Time      `json:"last_post,omitempty"`
	History        []ArchiveEntry `json:"history,omitempty"`
}

// Overview reports the live state without advancing it.
func (m *Machine) Overview() Overview {
	return ReadOverview(m.store, m.logger)
}

// ReadOverview reads the durable state directly, for inspection
// commands that have no business constructing a full machine.
func ReadOverview(st *store.Store, logger *zap.Logger) Overview {
	m := &Machine{store: st, logger: logger}
	doc := m.load()
	ov := Overview{Status: "none", History: doc.History}
	if doc.LastCycleStart > 0 {
		ov.LastCycleStart = time.Unix(doc.LastCycleStart, 0)
	}
	if doc.LastPost > 0 {
		ov.LastPost = time.Unix(doc.LastPost, 0)
	}
	if doc.Current == nil {
		return ov
	}
	rec := doc.Current
	ov.Status = rec.Status
	ov.TaskID = rec.TaskID
	ov.Description = rec.Description
	ov.PostID = rec.PostID
	if rec.WaitUntil > 0 {
		ov.WaitUntil = time.Unix(rec.WaitUntil, 0)
	}
	ov.CommentCount = len(rec.Comments)
	ov.FallbackUsed = rec.FallbackUsed
	ov.PublishURL = rec.PublishURL
	return ov
}
