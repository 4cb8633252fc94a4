// File: internal/improve/runner_test.go
package improve

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/config"
	"github.com/xkilldash9x/ouroboros/internal/policy"
)

func testValidator() *policy.Validator {
	return policy.NewValidator(config.SafetyConfig{
		MaxFilesPerChange: 5,
		MaxLinesPerChange: 200,
		AllowedPaths:      []string{"src/", "internal/", "tests/"},
		ForbiddenFiles:    []string{".env"},
	})
}

func newTestRunner(t *testing.T, harness schemas.TestHarness) (*ValidationRunner, string) {
	t.Helper()
	root := t.TempDir()
	runner := NewValidationRunner(harness, testValidator(), root, zaptest.NewLogger(t))
	return runner, root
}

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func readBack(t *testing.T, root, rel string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(content)
}

func TestApplyRevertRoundTrip(t *testing.T) {
	t.Parallel()
	runner, root := newTestRunner(t, &scriptedHarness{})

	writeFixture(t, root, "src/existing.go", "package src\n\nvar old = 1\n")
	changes := []schemas.Change{
		{
			FilePath:        "src/existing.go",
			OriginalContent: "package src\n\nvar old = 1\n",
			NewContent:      "package src\n\nvar old = 2\n",
		},
		{
			FilePath:        "src/created/brand_new.go",
			OriginalContent: "",
			NewContent:      "package created\n",
		},
	}

	require.NoError(t, runner.Apply(changes))
	assert.Equal(t, "package src\n\nvar old = 2\n", readBack(t, root, "src/existing.go"))
	assert.Equal(t, "package created\n", readBack(t, root, "src/created/brand_new.go"))

	require.NoError(t, runner.Revert(changes))
	assert.Equal(t, "package src\n\nvar old = 1\n", readBack(t, root, "src/existing.go"),
		"revert restores byte-exact original content")
	_, err := os.Stat(filepath.Join(root, "src/created/brand_new.go"))
	assert.True(t, os.IsNotExist(err), "revert removes files that did not exist before")
}

func TestApplyRefusesForbiddenPath(t *testing.T) {
	t.Parallel()
	runner, root := newTestRunner(t, &scriptedHarness{})

	err := runner.Apply([]schemas.Change{{FilePath: "scripts/outside.sh", NewContent: "echo hi\n"}})
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(root, "scripts/outside.sh"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApplyRefusesTraversal(t *testing.T) {
	t.Parallel()
	runner, _ := newTestRunner(t, &scriptedHarness{})

	err := runner.Apply([]schemas.Change{{FilePath: "src/../../escape.go", NewContent: "x"}})
	require.Error(t, err)
}

func TestValidateStopsOnPolicyViolationWithoutWriting(t *testing.T) {
	t.Parallel()
	harness := &scriptedHarness{results: []schemas.TestResult{{Passed: 5}}}
	runner, root := newTestRunner(t, harness)

	task := schemas.Task{ID: "t1", Type: schemas.TaskFixBug}
	result := runner.Validate(context.Background(), task, []schemas.Change{
		{FilePath: "secrets/.env", NewContent: "KEY=1\n"},
	})

	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Equal(t, 1, harness.runCount(), "only the baseline run happens")
	_, err := os.Stat(filepath.Join(root, "secrets/.env"))
	assert.True(t, os.IsNotExist(err), "no disk mutation for a rejected change")
}

func TestValidateRevertsOnRegression(t *testing.T) {
	t.Parallel()
	harness := &scriptedHarness{results: []schemas.TestResult{
		{Passed: 5, Failed: 1},
		{Passed: 4, Failed: 2},
	}}
	runner, root := newTestRunner(t, harness)

	original := "package src\n\nfunc Working() {}\n"
	writeFixture(t, root, "src/thing.go", original)

	task := schemas.Task{ID: "t2", Type: schemas.TaskFixBug}
	result := runner.Validate(context.Background(), task, []schemas.Change{
		{FilePath: "src/thing.go", OriginalContent: original, NewContent: "package src\n\nfunc Broken() {}\n"},
	})

	assert.Equal(t, schemas.StatusReverted, result.Status)
	assert.Equal(t, original, readBack(t, root, "src/thing.go"))
	assert.Equal(t, 1, result.TestBefore.Failed)
	assert.Equal(t, 2, result.TestAfter.Failed)
}

func TestValidateRevertsOnNewErrors(t *testing.T) {
	t.Parallel()
	harness := &scriptedHarness{results: []schemas.TestResult{
		{Passed: 5},
		{Passed: 5, Errors: 1},
	}}
	runner, root := newTestRunner(t, harness)

	original := "package src\n"
	writeFixture(t, root, "src/thing.go", original)

	result := runner.Validate(context.Background(), schemas.Task{ID: "t3"}, []schemas.Change{
		{FilePath: "src/thing.go", OriginalContent: original, NewContent: "package broken\n"},
	})

	assert.Equal(t, schemas.StatusReverted, result.Status)
	assert.Equal(t, original, readBack(t, root, "src/thing.go"))
}

func TestValidateSucceedsWhenSuiteImproves(t *testing.T) {
	t.Parallel()
	harness := &scriptedHarness{results: []schemas.TestResult{
		{Passed: 5, Failed: 1},
		{Passed: 6, Failed: 0},
	}}
	runner, root := newTestRunner(t, harness)

	writeFixture(t, root, "tests/t.go", "package tests\n// failing\n")
	result := runner.Validate(context.Background(),
		schemas.Task{ID: "t4", Type: schemas.TaskFixTest, TargetFiles: []string{"tests/t.go"}},
		[]schemas.Change{{
			FilePath:        "tests/t.go",
			OriginalContent: "package tests\n// failing\n",
			NewContent:      "package tests\n// fixed\n",
		}},
	)

	assert.Equal(t, schemas.StatusSuccess, result.Status)
	assert.Equal(t, "package tests\n// fixed\n", readBack(t, root, "tests/t.go"), "no revert on success")
}

func TestValidateIsIdempotentForEqualRuns(t *testing.T) {
	t.Parallel()

	// Identical before/after counts: same terminal status both times.
	for run := 0; run < 2; run++ {
		harness := &scriptedHarness{results: []schemas.TestResult{{Passed: 3, Failed: 1}}}
		runner, root := newTestRunner(t, harness)
		writeFixture(t, root, "src/a.go", "package src\n")

		result := runner.Validate(context.Background(), schemas.Task{ID: "t5"}, []schemas.Change{
			{FilePath: "src/a.go", OriginalContent: "package src\n", NewContent: "package src\n// touched\n"},
		})
		assert.Equal(t, schemas.StatusSuccess, result.Status, "equal counts are not a regression")
	}
}
