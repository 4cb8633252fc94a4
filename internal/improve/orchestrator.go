// File: internal/improve/orchestrator.go
package improve

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/config"
	"github.com/xkilldash9x/ouroboros/internal/history"
	"github.com/xkilldash9x/ouroboros/internal/policy"
)

// rateWindow is the rolling window the daily attempt ceiling applies to.
const rateWindow = 24 * time.Hour

// BranchName builds the branch a cycle publishes on, like
// ouroboros/improve-fix_test-1706000000. Both the direct and the
// community orchestrators publish through it.
func BranchName(prefix, kind string, at time.Time) string {
	return fmt.Sprintf("%simprove-%s-%d", prefix, kind, at.Unix())
}

// Mirror receives a copy of every evaluation record. The optional
// Postgres archive implements it; a mirror failure never fails a cycle.
type Mirror interface {
	RecordEvaluation(ctx context.Context, rec history.EvaluationRecord) error
}

// Summarizer provides accumulated review lessons for the identification
// prompt. The knowledge base implements it.
type Summarizer interface {
	Summary(ctx context.Context) string
}

// Orchestrator runs the direct improvement cycle end to end.
type Orchestrator struct {
	cfg       config.Interface
	oracle    *Oracle
	runner    *ValidationRunner
	validator *policy.Validator
	publisher schemas.Publisher
	harness   schemas.TestHarness
	history   *history.EvaluationStore
	knowledge Summarizer
	mirror    Mirror
	logger    *zap.Logger
}

// NewOrchestrator wires the cycle. knowledge and mirror may be nil.
func NewOrchestrator(
	cfg config.Interface,
	roles *Oracle,
	runner *ValidationRunner,
	validator *policy.Validator,
	publisher schemas.Publisher,
	harness schemas.TestHarness,
	evalStore *history.EvaluationStore,
	knowledge Summarizer,
	mirror Mirror,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		oracle:    roles,
		runner:    runner,
		validator: validator,
		publisher: publisher,
		harness:   harness,
		history:   evalStore,
		knowledge: knowledge,
		mirror:    mirror,
		logger:    logger.Named("improve"),
	}
}

// RunCycle executes one identify, plan, generate, validate, publish
// sequence. A nil result with a nil error means the cycle stopped at a
// soft gate: rate limited, request already open, or nothing identified.
func (o *Orchestrator) RunCycle(ctx context.Context) (*schemas.Result, error) {
	safety := o.cfg.Safety()

	if count := o.history.CountSince(rateWindow); count >= safety.MaxPerDay {
		o.logger.Info("Rate limit reached, skipping cycle",
			zap.Int("attempts", count), zap.Int("max_per_day", safety.MaxPerDay))
		return nil, nil
	}

	prefix := o.cfg.Publish().BranchPrefix
	open, err := o.publisher.HasOpenRequests(ctx, prefix)
	if err != nil {
		// Proceeding on a failed gate query trades a possible duplicate
		// request for not silently wedging the engine.
		o.logger.Warn("Could not check open review requests, proceeding", zap.Error(err))
	} else if open {
		o.logger.Info("Open improvement request exists, skipping cycle")
		return nil, nil
	}

	root := o.cfg.Engine().RepoRoot
	o.logger.Info("Analyzing codebase")
	summary := CodebaseSummary(root)
	baseline := o.harness.Run(ctx)
	historySummary := o.history.Summarize(10)
	if o.knowledge != nil {
		if lessons := o.knowledge.Summary(ctx); lessons != "" {
			historySummary += "\n\n# Lessons From Review Outcomes\n" + lessons
		}
	}

	task := o.oracle.IdentifyTask(ctx, summary,
		TestText(baseline.Passed, baseline.Failed, baseline.Errors, baseline.FailureDetails),
		historySummary, o.validator.ConstraintsText())
	if task == nil {
		o.logger.Info("No improvement identified")
		return nil, nil
	}
	o.logger.Info("Improvement identified",
		zap.String("task_id", task.ID),
		zap.String("type", string(task.Type)),
		zap.String("description", task.Description),
	)

	if o.cfg.Engine().DryRun {
		o.logger.Info("Dry run, stopping before any changes",
			zap.Strings("target_files", task.TargetFiles))
		return &schemas.Result{Task: *task, Status: schemas.StatusSkipped}, nil
	}

	files := ReadTargetFiles(root, task.TargetFiles)

	o.logger.Info("Planning changes")
	plan := o.oracle.PlanChange(ctx, *task, RenderFiles(files, 0))
	if plan == "" {
		o.logger.Warn("Planning produced nothing, stopping cycle")
		return nil, nil
	}

	o.logger.Info("Generating code changes")
	changes := o.oracle.GenerateChanges(ctx, plan, files, o.validator.ConstraintsText())
	if len(changes) == 0 {
		o.logger.Warn("Generation produced no changes, stopping cycle")
		return nil, nil
	}

	o.logger.Info("Validating changes", zap.Int("files", len(changes)))
	result := o.runner.Validate(ctx, *task, changes)

	if result.Status == schemas.StatusSuccess {
		if err := o.publish(ctx, &result); err != nil {
			// The branch and commit stay behind for manual recovery.
			o.logger.Error("Publishing failed", zap.Error(err))
			result.Status = schemas.StatusFailed
		}
	} else {
		o.logger.Warn("Validation did not pass", zap.String("status", string(result.Status)))
	}

	o.record(ctx, result)
	return &result, nil
}

// publish ships a validated result: branch, commit, push, review
// request. Whatever happens, the branch that was checked out when the
// cycle began is restored.
func (o *Orchestrator) publish(ctx context.Context, result *schemas.Result) (err error) {
	originalBranch, err := o.publisher.CurrentBranch()
	if err != nil {
		return fmt.Errorf("failed to determine current branch: %w", err)
	}
	defer func() {
		if restoreErr := o.publisher.CheckoutBranch(originalBranch); restoreErr != nil {
			o.logger.Error("Failed to restore original branch",
				zap.String("branch", originalBranch), zap.Error(restoreErr))
			if err == nil {
				err = restoreErr
			}
		}
	}()

	task := result.Task
	branch := BranchName(o.cfg.Publish().BranchPrefix, string(task.Type), time.Now())
	if err := o.publisher.CreateBranch(branch); err != nil {
		return err
	}

	paths := make([]string, 0, len(result.Changes))
	for _, change := range result.Changes {
		paths = append(paths, change.FilePath)
	}
	message := fmt.Sprintf("ouroboros: %s - %s", task.Type, task.Description)
	if err := o.publisher.CommitFiles(paths, message); err != nil {
		return err
	}
	if err := o.publisher.Push(ctx); err != nil {
		return err
	}

	title := fmt.Sprintf("[ouroboros] %s: %s", task.Type, clip(task.Description, 60))
	url, err := o.publisher.OpenPullRequest(ctx, title, requestBody(*result), branch)
	if err != nil {
		return err
	}
	result.PublishURL = url
	o.logger.Info("Review request published", zap.String("url", url))
	return nil
}

// record persists the result in the evaluation history and mirrors it
// when an archive is configured.
func (o *Orchestrator) record(ctx context.Context, result schemas.Result) {
	if err := o.history.Record(result, ""); err != nil {
		o.logger.Error("Failed to record improvement result", zap.Error(err))
		return
	}
	if o.mirror == nil {
		return
	}
	records := o.history.Load()
	if len(records) == 0 {
		return
	}
	if err := o.mirror.RecordEvaluation(ctx, records[len(records)-1]); err != nil {
		o.logger.Warn("Failed to mirror evaluation record", zap.Error(err))
	}
}

// requestBody builds the review request description for a direct cycle.
func requestBody(result schemas.Result) string {
	task := result.Task
	lines := []string{
		"## Autonomous Self-Improvement",
		"",
		fmt.Sprintf("**Type**: %s", task.Type),
		fmt.Sprintf("**Task ID**: %s", task.ID),
		"",
		"### Description",
		task.Description,
		"",
		"### Evidence",
		task.Evidence,
		"",
		"### Changes",
	}
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
		"Generated autonomously by the Ouroboros self-improvement engine.",
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
