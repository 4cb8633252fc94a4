// File: internal/improve/mocks_test.go
package improve

import (
	"context"
	"sync"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/config"
	"github.com/xkilldash9x/ouroboros/internal/oracle"
)

// mockConfig implements config.Interface with settable sections.
type mockConfig struct {
	engine  config.EngineConfig
	safety  config.SafetyConfig
	publish config.PublishConfig
}

func newMockConfig(repoRoot string) *mockConfig {
	return &mockConfig{
		engine: config.EngineConfig{
			Mode:            config.ModeDirect,
			IntervalSeconds: 300,
			RepoRoot:        repoRoot,
		},
		safety: config.SafetyConfig{
			MaxFilesPerChange: 5,
			MaxLinesPerChange: 200,
			MaxPerDay:         10,
			AllowedPaths:      []string{"src/", "internal/", "tests/"},
			ForbiddenFiles:    []string{".env"},
		},
		publish: config.PublishConfig{
			Remote:       "origin",
			BaseBranch:   "main",
			BranchPrefix: "ouroboros/",
		},
	}
}

func (c *mockConfig) Engine() config.EngineConfig   { return c.engine }
func (c *mockConfig) Safety() config.SafetyConfig   { return c.safety }
func (c *mockConfig) Oracle() config.OracleConfig   { return config.OracleConfig{} }
func (c *mockConfig) Harness() config.HarnessConfig { return config.HarnessConfig{} }
func (c *mockConfig) Feed() config.FeedConfig       { return config.FeedConfig{} }
func (c *mockConfig) Publish() config.PublishConfig { return c.publish }
func (c *mockConfig) Archive() config.ArchiveConfig { return config.ArchiveConfig{} }
func (c *mockConfig) Logging() config.LoggingConfig { return config.LoggingConfig{} }
func (c *mockConfig) SetEngineMode(mode string)     { c.engine.Mode = mode }
func (c *mockConfig) SetEngineDryRun(b bool)        { c.engine.DryRun = b }

// scriptedHarness returns the queued results in order, repeating the
// last one when the queue runs dry.
type scriptedHarness struct {
	mu      sync.Mutex
	results []schemas.TestResult
	runs    int
}

func (h *scriptedHarness) Run(context.Context) schemas.TestResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs++
	if len(h.results) == 0 {
		return schemas.TestResult{}
	}
	res := h.results[0]
	if len(h.results) > 1 {
		h.results = h.results[1:]
	}
	return res
}

func (h *scriptedHarness) runCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

// scriptedGenerator answers each oracle call with the next queued
// response; an empty queue yields errors.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []oracle.Request
}

func (g *scriptedGenerator) Generate(_ context.Context, req oracle.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, req)
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", context.Canceled
	}
	resp := g.responses[0]
	g.responses = g.responses[1:]
	return resp, nil
}

// recordingPublisher records every interaction and answers from fixed
// fields. Failures are injected per method.
type recordingPublisher struct {
	mu sync.Mutex

	currentBranch string
	openRequests  bool
	openErr       error
	pushErr       error
	prErr         error
	prURL         string

	created    []string
	checkouts  []string
	committed  [][]string
	messages   []string
	pushed     int
	prTitles   []string
	prBodies   []string
	prHeads    []string
	stateByURL map[string]schemas.RequestState
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{
		currentBranch: "main",
		prURL:         "https://github.com/xkilldash9x/ouroboros/pull/7",
	}
}

func (p *recordingPublisher) CurrentBranch() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentBranch, nil
}

func (p *recordingPublisher) CheckoutBranch(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, name)
	p.currentBranch = name
	return nil
}

func (p *recordingPublisher) CreateBranch(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, name)
	p.currentBranch = name
	return nil
}

func (p *recordingPublisher) CommitFiles(paths []string, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.committed = append(p.committed, paths)
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingPublisher) Push(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pushErr != nil {
		return p.pushErr
	}
	p.pushed++
	return nil
}

func (p *recordingPublisher) OpenPullRequest(_ context.Context, title, body, head string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prErr != nil {
		return "", p.prErr
	}
	p.prTitles = append(p.prTitles, title)
	p.prBodies = append(p.prBodies, body)
	p.prHeads = append(p.prHeads, head)
	return p.prURL, nil
}

func (p *recordingPublisher) HasOpenRequests(context.Context, string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openRequests, p.openErr
}

func (p *recordingPublisher) RequestState(_ context.Context, url string) (schemas.RequestState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state, ok := p.stateByURL[url]; ok {
		return state, nil
	}
	return schemas.RequestOpen, nil
}
