// File: internal/community/mocks_test.go
package community

import (
	"context"
	"sync"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/config"
	"github.com/xkilldash9x/ouroboros/internal/feed"
	"github.com/xkilldash9x/ouroboros/internal/oracle"
)

// mockConfig implements config.Interface with settable sections.
type mockConfig struct {
	engine  config.EngineConfig
	safety  config.SafetyConfig
	feedCfg config.FeedConfig
	publish config.PublishConfig
}

func newMockConfig(repoRoot string) *mockConfig {
	return &mockConfig{
		engine: config.EngineConfig{
			Mode:            config.ModeCommunity,
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
		feedCfg: config.FeedConfig{
			BaseURL:                "http://feed.test",
			Group:                  "golang",
			CycleHours:             72,
			WaitHours:              24,
			MinCommentsForEarly:    3,
			MinPostIntervalSeconds: 1800,
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
func (c *mockConfig) Feed() config.FeedConfig       { return c.feedCfg }
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

// scriptedGenerator answers each oracle call with the next queued
// response; an empty queue yields errors.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (g *scriptedGenerator) Generate(_ context.Context, _ oracle.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
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

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// stubFeed is a scriptable feed.Service.
type stubFeed struct {
	mu sync.Mutex

	postID      string
	createErr   error
	comments    []feed.Comment
	commentsErr error
	recent      []feed.Post
	recentErr   error

	createdGroups []string
	createdTitles []string
	createdBodies []string
}

func newStubFeed() *stubFeed {
	return &stubFeed{postID: "post-42"}
}

func (f *stubFeed) CreatePost(_ context.Context, group, title, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.createdGroups = append(f.createdGroups, group)
	f.createdTitles = append(f.createdTitles, title)
	f.createdBodies = append(f.createdBodies, content)
	return f.postID, nil
}

func (f *stubFeed) Comments(_ context.Context, _ string) ([]feed.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments, f.commentsErr
}

func (f *stubFeed) OwnRecentPosts(_ context.Context, _ int) ([]feed.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recent, f.recentErr
}

func (f *stubFeed) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createdTitles)
}

// recordingPublisher records every interaction and answers from fixed
// fields. Failures are injected per method.
type recordingPublisher struct {
	mu sync.Mutex

	currentBranch string
	openRequests  bool
	openErr       error
	pushErr       error
	prURL         string

	created   []string
	checkouts []string
	committed [][]string
	messages  []string
	pushed    int
	prTitles  []string
	prBodies  []string
	prHeads   []string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{
		currentBranch: "main",
		prURL:         "https://github.com/xkilldash9x/ouroboros/pull/11",
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

func (p *recordingPublisher) RequestState(context.Context, string) (schemas.RequestState, error) {
	return schemas.RequestOpen, nil
}
