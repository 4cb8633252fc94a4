// File: cmd/deps.go
package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/archive"
	"github.com/xkilldash9x/ouroboros/internal/community"
	"github.com/xkilldash9x/ouroboros/internal/config"
	"github.com/xkilldash9x/ouroboros/internal/feed"
	"github.com/xkilldash9x/ouroboros/internal/harness"
	"github.com/xkilldash9x/ouroboros/internal/history"
	"github.com/xkilldash9x/ouroboros/internal/improve"
	"github.com/xkilldash9x/ouroboros/internal/oracle"
	"github.com/xkilldash9x/ouroboros/internal/policy"
	"github.com/xkilldash9x/ouroboros/internal/publish"
	"github.com/xkilldash9x/ouroboros/internal/store"
)

// engine bundles the wired components a command needs. Only the pieces
// the requested mode uses are constructed.
type engine struct {
	cfg       config.Interface
	store     *store.Store
	evalStore *history.EvaluationStore
	publisher schemas.Publisher
	orch      *improve.Orchestrator
	machine   *community.Machine
	mirror    *archive.Mirror
	logger    *zap.Logger
}

// close releases held resources.
func (e *engine) close() {
	if e.mirror != nil {
		e.mirror.Close()
	}
}

// buildEngine constructs the full dependency graph for cfg's mode. In
// dry run the publisher is replaced by an offline stand-in so no git
// hosting credentials are needed.
func buildEngine(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*engine, error) {
	st, err := store.New(cfg.Engine().StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	gen, err := oracle.NewGeminiClient(ctx, cfg.Oracle(), logger)
	if err != nil {
		return nil, err
	}

	knowledge := history.NewKnowledgeBase(st, gen, logger)
	evalStore := history.NewEvaluationStore(st, knowledge, logger)
	validator := policy.NewValidator(cfg.Safety())
	roles := improve.NewOracle(gen, logger)

	testHarness, err := harness.NewRunner(cfg.Harness(), cfg.Engine().RepoRoot, logger)
	if err != nil {
		return nil, err
	}
	runner := improve.NewValidationRunner(testHarness, validator, cfg.Engine().RepoRoot, logger)

	var publisher schemas.Publisher
	if cfg.Engine().DryRun {
		publisher = offlinePublisher{}
	} else {
		publisher, err = publish.NewCoordinator(cfg.Engine().RepoRoot, cfg.Publish(), logger)
		if err != nil {
			return nil, err
		}
	}

	mirror, err := archive.Connect(ctx, cfg.Archive(), logger)
	if err != nil {
		return nil, err
	}
	var mirrorIface improve.Mirror
	if mirror != nil {
		mirrorIface = mirror
		evalStore.SetOutcomeMirror(mirror)
	}

	e := &engine{
		cfg:       cfg,
		store:     st,
		evalStore: evalStore,
		publisher: publisher,
		mirror:    mirror,
		logger:    logger,
	}

	switch cfg.Engine().Mode {
	case config.ModeDirect:
		e.orch = improve.NewOrchestrator(cfg, roles, runner, validator, publisher,
			testHarness, evalStore, knowledge, mirrorIface, logger)
	case config.ModeCommunity:
		feedSvc, err := feed.NewClient(cfg.Feed(), logger)
		if err != nil {
			return nil, err
		}
		e.machine = community.NewMachine(cfg, roles, runner, validator, publisher,
			feedSvc, testHarness, evalStore, mirrorIface, st, logger)
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Engine().Mode)
	}
	return e, nil
}

// offlinePublisher satisfies the publisher interface without touching
// git or the hosting service. Dry runs stop before publishing, so only
// the read-side queries ever fire.
type offlinePublisher struct{}

func (offlinePublisher) CurrentBranch() (string, error)       { return "main", nil }
func (offlinePublisher) CheckoutBranch(string) error          { return nil }
func (offlinePublisher) CreateBranch(string) error            { return nil }
func (offlinePublisher) CommitFiles([]string, string) error   { return nil }
func (offlinePublisher) Push(context.Context) error           { return nil }
func (offlinePublisher) HasOpenRequests(context.Context, string) (bool, error) {
	return false, nil
}
func (offlinePublisher) OpenPullRequest(context.Context, string, string, string) (string, error) {
	return "", fmt.Errorf("publishing is disabled in dry run")
}
func (offlinePublisher) RequestState(context.Context, string) (schemas.RequestState, error) {
	return schemas.RequestOpen, nil
}
