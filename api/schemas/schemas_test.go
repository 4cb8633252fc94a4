package schemas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/ouroboros/api/schemas"
)

func TestTestResultRegressed(t *testing.T) {
	t.Parallel()

	baseline := schemas.TestResult{Passed: 10, Failed: 2, Errors: 0}

	tests := []struct {
		name  string
		after schemas.TestResult
		want  bool
	}{
		{"identical counts", schemas.TestResult{Passed: 10, Failed: 2, Errors: 0}, false},
		{"more passes, same failures", schemas.TestResult{Passed: 12, Failed: 2, Errors: 0}, false},
		{"fewer failures", schemas.TestResult{Passed: 12, Failed: 1, Errors: 0}, false},
		{"one more failure", schemas.TestResult{Passed: 10, Failed: 3, Errors: 0}, true},
		{"new harness error", schemas.TestResult{Passed: 10, Failed: 2, Errors: 1}, true},
		{"fewer passes alone is not a regression", schemas.TestResult{Passed: 4, Failed: 2, Errors: 0}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.after.Regressed(baseline))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, schemas.StatusPending.Terminal())
	assert.False(t, schemas.Status("").Terminal())
	for _, s := range []schemas.Status{
		schemas.StatusSuccess,
		schemas.StatusFailed,
		schemas.StatusReverted,
		schemas.StatusSkipped,
	} {
		assert.True(t, s.Terminal(), "status %q should be terminal", s)
	}
}

func TestChangeCreates(t *testing.T) {
	t.Parallel()

	assert.True(t, schemas.Change{FilePath: "internal/new.go", NewContent: "package new\n"}.Creates())
	assert.False(t, schemas.Change{FilePath: "internal/old.go", OriginalContent: "package old\n"}.Creates())
}
