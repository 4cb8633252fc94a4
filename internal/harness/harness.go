// Package harness executes the configured test command and condenses its
// output into the aggregate counts the engine reasons about. The exact
// output format of the suite is a boundary concern: the parser first
// looks for explicit "N passed / N failed / N error(s)" summaries, then
// falls back to go test markers.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/config"
)

// failureDetailLimit caps how many trailing output lines a failing run
// carries along as diagnostic context.
const failureDetailLimit = 50

var (
	passedRe  = regexp.MustCompile(`(\d+) passed`)
	failedRe  = regexp.MustCompile(`(\d+) failed`)
	errorsRe  = regexp.MustCompile(`(\d+) errors?\b`)
	okLineRe  = regexp.MustCompile(`(?m)^ok\s+\S+`)
	testPass  = "--- PASS:"
	testFail  = "--- FAIL:"
	buildFail = "[build failed]"
)

// Runner executes the test command under the repository root.
type Runner struct {
	cfg    config.HarnessConfig
	root   string
	logger *zap.Logger
}

// NewRunner validates the configured command and returns a Runner.
func NewRunner(cfg config.HarnessConfig, repoRoot string, logger *zap.Logger) (*Runner, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("harness command must not be empty")
	}
	return &Runner{
		cfg:    cfg,
		root:   repoRoot,
		logger: logger.Named("harness"),
	}, nil
}

// Run executes one bounded test run. Failures to launch, to finish in
// time, or to parse never surface as a Go error; they are encoded in the
// result so a broken run can never be mistaken for a clean one.
func (r *Runner) Run(ctx context.Context) schemas.TestResult {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Dir = r.root
	cmd.Env = os.Environ()

	output, err := cmd.CombinedOutput()

	if ctxErr := runCtx.Err(); ctxErr != nil {
		detail := fmt.Sprintf("test run aborted: %v", ctxErr)
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			detail = fmt.Sprintf("test run timed out after %s", r.cfg.Timeout())
		}
		r.logger.Warn("Test run did not finish", zap.String("detail", detail))
		return schemas.TestResult{
			Errors:         1,
			ReturnCode:     -1,
			FailureDetails: []string{detail},
		}
	}

	result := parseOutput(string(output))
	result.ReturnCode = exitCode(cmd, err)

	if err != nil && result.Failed == 0 && result.Errors == 0 {
		// Non-zero exit without any parsed counts means the command
		// itself broke: missing binary, compile failure, bad flags.
		result.Errors = 1
		result.FailureDetails = append(result.FailureDetails, err.Error())
	}
	if result.Failed > 0 || result.Errors > 0 {
		result.FailureDetails = appendTail(result.FailureDetails, string(output))
	}

	r.logger.Info("Test harness finished",
		zap.Int("passed", result.Passed),
		zap.Int("failed", result.Failed),
		zap.Int("errors", result.Errors),
		zap.Int("return_code", result.ReturnCode),
	)
	return result
}

// parseOutput extracts counts from the combined output. An explicit
// summary line wins; otherwise go test markers are counted, with ok
// lines standing in for per-test passes when the run is not verbose.
func parseOutput(output string) schemas.TestResult {
	var res schemas.TestResult
	summary := false
	if m := passedRe.FindStringSubmatch(output); m != nil {
		res.Passed, _ = strconv.Atoi(m[1])
		summary = true
	}
	if m := failedRe.FindStringSubmatch(output); m != nil {
		res.Failed, _ = strconv.Atoi(m[1])
		summary = true
	}
	if m := errorsRe.FindStringSubmatch(output); m != nil {
		res.Errors, _ = strconv.Atoi(m[1])
		summary = true
	}
	if summary {
		return res
	}

	res.Passed = strings.Count(output, testPass)
	if res.Passed == 0 {
		res.Passed = len(okLineRe.FindAllString(output, -1))
	}
	res.Failed = strings.Count(output, testFail)
	res.Errors = strings.Count(output, buildFail)
	return res
}

// appendTail attaches the last lines of output as context, keeping the
// combined detail list within failureDetailLimit.
func appendTail(details []string, output string) []string {
	trimmed := strings.TrimRight(output, "\n")
	if strings.TrimSpace(trimmed) == "" {
		return details
	}
	lines := strings.Split(trimmed, "\n")
	room := failureDetailLimit - len(details)
	if room <= 0 {
		return details
	}
	if len(lines) > room {
		lines = lines[len(lines)-room:]
	}
	return append(details, lines...)
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		if cmd.ProcessState != nil {
			return cmd.ProcessState.ExitCode()
		}
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
