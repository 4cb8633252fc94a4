// Package schemas holds the shared data model of the improvement engine.
// Components exchange these types instead of importing each other, which
// keeps the dependency graph acyclic.
package schemas

import "fmt"

// TaskType classifies an improvement task by the kind of change it makes.
type TaskType string

const (
	TaskFixTest TaskType = "fix_test"
	TaskAddTest TaskType = "add_test"
	TaskFixBug  TaskType = "fix_bug"
)

// Task is a unit of self-improvement work derived from observed evidence,
// such as a failing test or an error cluster in the logs. A task is
// immutable once identified.
type Task struct {
	ID          string   `json:"id"`
	Type        TaskType `json:"type"`
	Description string   `json:"description"`
	TargetFiles []string `json:"target_files"`
	Evidence    string   `json:"evidence,omitempty"`
}

// Change is a proposed modification to a single file. OriginalContent is
// the full file content before the change, or empty when the file did not
// exist; reverting a creation deletes the file again.
type Change struct {
	FilePath        string `json:"file_path"`
	OriginalContent string `json:"original_content"`
	NewContent      string `json:"new_content"`
	Description     string `json:"description,omitempty"`
}

// Creates reports whether the change introduces a file that did not exist.
func (c Change) Creates() bool {
	return c.OriginalContent == ""
}

// Status is the disposition of an improvement attempt.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusReverted Status = "reverted"
	StatusSkipped  Status = "skipped"
)

// Terminal reports whether the status is a final disposition.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusReverted, StatusSkipped:
		return true
	}
	return false
}

// TestResult summarizes one run of the test harness. Launch and parse
// failures surface as counted errors with a detail line, so a result of
// all zeroes always means a genuinely clean run.
type TestResult struct {
	Passed         int      `json:"passed"`
	Failed         int      `json:"failed"`
	Errors         int      `json:"errors"`
	FailureDetails []string `json:"failure_details,omitempty"`
	ReturnCode     int      `json:"return_code"`
}

// Regressed reports whether r is worse than the baseline: more failing
// tests, or more harness errors. Equal counts are not a regression.
func (r TestResult) Regressed(baseline TestResult) bool {
	return r.Failed > baseline.Failed || r.Errors > baseline.Errors
}

// Summary renders the counts as a single line.
func (r TestResult) Summary() string {
	return fmt.Sprintf("%d passed, %d failed, %d errors", r.Passed, r.Failed, r.Errors)
}

// Result captures the outcome of one full improvement cycle.
type Result struct {
	Task       Task       `json:"task"`
	Changes    []Change   `json:"changes"`
	TestBefore TestResult `json:"test_before"`
	TestAfter  TestResult `json:"test_after"`
	PublishURL string     `json:"publish_url,omitempty"`
	Status     Status     `json:"status"`
}

// RequestState is the lifecycle state of a published review request.
type RequestState string

const (
	RequestOpen   RequestState = "open"
	RequestMerged RequestState = "merged"
	RequestClosed RequestState = "closed"
)
