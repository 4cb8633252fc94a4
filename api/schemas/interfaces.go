package schemas

import "context"

// -- Publishing --

// Publisher pushes validated changes to the remote repository and manages
// the review requests that track them. This abstraction keeps the engine
// independent of the concrete git and code-host clients, and lets tests
// substitute a recorder.
type Publisher interface {
	// CurrentBranch returns the name of the branch currently checked out.
	CurrentBranch() (string, error)
	// CheckoutBranch switches the working tree to an existing branch.
	CheckoutBranch(name string) error
	// CreateBranch creates a branch at the current HEAD and checks it out.
	CreateBranch(name string) error
	// CommitFiles stages the given paths and commits them with message.
	CommitFiles(paths []string, message string) error
	// Push uploads the current branch to the configured remote.
	Push(ctx context.Context) error
	// OpenPullRequest opens a review request for head against the base
	// branch and returns its URL.
	OpenPullRequest(ctx context.Context, title, body, head string) (string, error)
	// HasOpenRequests reports whether any open review request originates
	// from a branch whose name starts with branchPrefix.
	HasOpenRequests(ctx context.Context, branchPrefix string) (bool, error)
	// RequestState returns the lifecycle state of the review request at url.
	RequestState(ctx context.Context, url string) (RequestState, error)
}

// -- Validation --

// TestHarness runs the project's test suite and reports aggregate counts.
// Failures to launch, parse, or finish in time are encoded in the returned
// result as errors, so callers never mistake a broken run for a clean one.
type TestHarness interface {
	Run(ctx context.Context) TestResult
}
