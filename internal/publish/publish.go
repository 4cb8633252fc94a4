// Package publish ships validated changes: branch, commit, push, and the
// review request that puts a human in the loop. Local operations go
// through go-git; the hosting service is reached through its API client.
// A failure after a commit deliberately leaves branch and commit behind
// for manual recovery; the orchestrator restores the original branch.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/config"
)

// tokenUser is the username GitHub expects alongside a token over HTTPS.
const tokenUser = "x-access-token"

// Coordinator implements schemas.Publisher against a local repository and
// the GitHub API.
type Coordinator struct {
	repo   *git.Repository
	gh     *github.Client
	cfg    config.PublishConfig
	logger *zap.Logger
}

// NewCoordinator opens the repository at repoRoot and prepares the API
// client. The token is required because every operation here ultimately
// exists to open a review request.
func NewCoordinator(repoRoot string, cfg config.PublishConfig, logger *zap.Logger) (*Coordinator, error) {
	if cfg.GitHub.Owner == "" || cfg.GitHub.Repo == "" {
		return nil, fmt.Errorf("publish.github.owner and publish.github.repo are required")
	}
	if cfg.GitHub.Token == "" {
		return nil, fmt.Errorf("publish token is required; set OUROBOROS_GITHUB_TOKEN")
	}
	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", repoRoot, err)
	}
	return &Coordinator{
		repo:   repo,
		gh:     github.NewClient(nil).WithAuthToken(cfg.GitHub.Token),
		cfg:    cfg,
		logger: logger.Named("publish"),
	}, nil
}

// CurrentBranch returns the short name of the checked-out branch.
func (c *Coordinator) CurrentBranch() (string, error) {
	head, err := c.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Name().Short(), nil
}

// CheckoutBranch switches the working tree to an existing branch.
func (c *Coordinator) CheckoutBranch(name string) error {
	wt, err := c.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
	}); err != nil {
		return fmt.Errorf("failed to checkout branch %s: %w", name, err)
	}
	return nil
}

// CreateBranch creates a branch at the current HEAD and checks it out.
func (c *Coordinator) CreateBranch(name string) error {
	wt, err := c.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	}); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", name, err)
	}
	c.logger.Info("Branch created", zap.String("branch", name))
	return nil
}

// CommitFiles stages exactly the listed paths and commits them.
func (c *Coordinator) CommitFiles(paths []string, message string) error {
	if len(paths) == 0 {
		return fmt.Errorf("nothing to commit")
	}
	wt, err := c.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	for _, path := range paths {
		if _, err := wt.Add(path); err != nil {
			return fmt.Errorf("failed to stage %s: %w", path, err)
		}
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  c.cfg.AuthorName,
			Email: c.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	c.logger.Info("Changes committed",
		zap.String("commit", hash.String()),
		zap.Int("files", len(paths)),
	)
	return nil
}

// Push uploads the current branch to the configured remote, retrying
// transient failures.
func (c *Coordinator) Push(ctx context.Context) error {
	branch, err := c.CurrentBranch()
	if err != nil {
		return err
	}
	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))

	operation := func() error {
		err := c.repo.PushContext(ctx, &git.PushOptions{
			RemoteName: c.cfg.Remote,
			RefSpecs:   []gitconfig.RefSpec{refSpec},
			Auth: &githttp.BasicAuth{
				Username: tokenUser,
				Password: c.cfg.GitHub.Token,
			},
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			c.logger.Warn("Push failed", zap.String("branch", branch), zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(operation, retryPolicy(ctx)); err != nil {
		return fmt.Errorf("failed to push branch %s: %w", branch, err)
	}
	c.logger.Info("Branch pushed", zap.String("branch", branch), zap.String("remote", c.cfg.Remote))
	return nil
}

// OpenPullRequest opens a review request for head against the configured
// base branch and returns its URL.
func (c *Coordinator) OpenPullRequest(ctx context.Context, title, body, head string) (string, error) {
	var prURL string
	operation := func() error {
		pr, _, err := c.gh.PullRequests.Create(ctx, c.cfg.GitHub.Owner, c.cfg.GitHub.Repo, &github.NewPullRequest{
			Title:               github.String(title),
			Body:                github.String(body),
			Head:                github.String(head),
			Base:                github.String(c.cfg.BaseBranch),
			MaintainerCanModify: github.Bool(true),
		})
		if err != nil {
			c.logger.Warn("Review request creation failed", zap.String("head", head), zap.Error(err))
			return classifyGitHubError(err)
		}
		prURL = pr.GetHTMLURL()
		return nil
	}
	if err := backoff.Retry(operation, retryPolicy(ctx)); err != nil {
		return "", fmt.Errorf("failed to open review request for %s: %w", head, err)
	}
	c.logger.Info("Review request opened", zap.String("url", prURL))
	return prURL, nil
}

// HasOpenRequests reports whether any open review request originates from
// a branch with the given prefix. This backs the single-flight gate.
func (c *Coordinator) HasOpenRequests(ctx context.Context, branchPrefix string) (bool, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, c.cfg.GitHub.Owner, c.cfg.GitHub.Repo, opts)
		if err != nil {
			return false, fmt.Errorf("failed to list open review requests: %w", err)
		}
		for _, pr := range prs {
			if strings.HasPrefix(pr.GetHead().GetRef(), branchPrefix) {
				return true, nil
			}
		}
		if resp.NextPage == 0 {
			return false, nil
		}
		opts.Page = resp.NextPage
	}
}

// RequestState returns the lifecycle state of the review request at
// rawURL. Merged wins over closed: a merged request is also closed on
// the hosting service.
func (c *Coordinator) RequestState(ctx context.Context, rawURL string) (schemas.RequestState, error) {
	number, err := pullNumberFromURL(rawURL)
	if err != nil {
		return "", err
	}
	pr, _, err := c.gh.PullRequests.Get(ctx, c.cfg.GitHub.Owner, c.cfg.GitHub.Repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to fetch review request #%d: %w", number, err)
	}
	switch {
	case pr.GetMerged():
		return schemas.RequestMerged, nil
	case pr.GetState() == "closed":
		return schemas.RequestClosed, nil
	default:
		return schemas.RequestOpen, nil
	}
}

// pullNumberFromURL extracts the request number from a canonical URL of
// the form https://host/owner/repo/pull/N.
func pullNumberFromURL(rawURL string) (int, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("invalid review request URL %q: %w", rawURL, err)
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "pull" || parts[i] == "pulls" {
			number, err := strconv.Atoi(parts[i+1])
			if err != nil || number <= 0 {
				return 0, fmt.Errorf("invalid review request number in %q", rawURL)
			}
			return number, nil
		}
	}
	return 0, fmt.Errorf("no review request number in %q", rawURL)
}

// retryPolicy bounds the push/request retries well under the loop tick.
func retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 20 * time.Second
	b.MaxElapsedTime = time.Minute
	return backoff.WithContext(b, ctx)
}

// classifyGitHubError marks non-retryable API failures permanent.
// Rate limiting and server errors stay transient.
func classifyGitHubError(err error) error {
	var errResp *github.ErrorResponse
	if !errors.As(err, &errResp) || errResp.Response == nil {
		return err
	}
	code := errResp.Response.StatusCode
	if code == 429 || code >= 500 {
		return err
	}
	return backoff.Permanent(err)
}
