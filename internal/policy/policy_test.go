// File: internal/policy/policy_test.go
package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/config"
)

func testSafetyConfig() config.SafetyConfig {
	return config.SafetyConfig{
		MaxFilesPerChange: 3,
		MaxLinesPerChange: 10,
		MaxPerDay:         10,
		AllowedPaths:      []string{"src/", "internal/", "docs/"},
		ForbiddenFiles:    []string{".env", "secrets.yaml"},
	}
}

func TestValidatorAllowed(t *testing.T) {
	t.Parallel()
	v := NewValidator(testSafetyConfig())

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"under allowed prefix", "internal/feed/client.go", true},
		{"dot-slash normalizes", "./src/main.go", true},
		{"outside allowed prefixes", "scripts/deploy.sh", false},
		{"forbidden basename beats allowed prefix", "src/.env", false},
		{"forbidden basename in subdirectory", "internal/config/secrets.yaml", false},
		{"module definition is immutable", "go.mod", false},
		{"module definition immutable under allowed prefix", "src/go.mod", false},
		{"safety code is immutable", "internal/policy/policy.go", false},
		{"durability code is immutable", "internal/store/store.go", false},
		{"absolute path", "/etc/passwd", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, v.Allowed(tt.path), "path %q", tt.path)
		})
	}
}

func TestValidatorValidateFileCount(t *testing.T) {
	t.Parallel()
	v := NewValidator(testSafetyConfig())

	change := func(path string) schemas.Change {
		return schemas.Change{FilePath: path, OriginalContent: "a\n", NewContent: "a\n"}
	}

	atLimit := []schemas.Change{change("src/a.go"), change("src/b.go"), change("src/c.go")}
	assert.Empty(t, v.Validate(atLimit), "a change set at the file limit is compliant")

	overLimit := append(atLimit, change("src/d.go"))
	violations := v.Validate(overLimit)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "too many files")
}

func TestValidatorValidateDisallowedPath(t *testing.T) {
	t.Parallel()
	v := NewValidator(testSafetyConfig())

	violations := v.Validate([]schemas.Change{
		{FilePath: "scripts/evil.sh", OriginalContent: "", NewContent: "x\n"},
	})
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], `"scripts/evil.sh"`)
}

func TestValidatorValidateLineBudget(t *testing.T) {
	t.Parallel()
	v := NewValidator(testSafetyConfig())

	// Ten replaced lines: exactly at the limit.
	orig := strings.Repeat("old\n", 10)
	updated := strings.Repeat("new\n", 10)
	atLimit := []schemas.Change{{FilePath: "src/a.go", OriginalContent: orig, NewContent: updated}}
	assert.Empty(t, v.Validate(atLimit))

	// The budget applies to the sum across files, not per file.
	split := []schemas.Change{
		{FilePath: "src/a.go", OriginalContent: strings.Repeat("old\n", 6), NewContent: strings.Repeat("new\n", 6)},
		{FilePath: "src/b.go", OriginalContent: strings.Repeat("old\n", 6), NewContent: strings.Repeat("new\n", 6)},
	}
	violations := v.Validate(split)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "change too large")
}

func TestValidatorValidateReportsAllViolations(t *testing.T) {
	t.Parallel()
	cfg := testSafetyConfig()
	cfg.MaxFilesPerChange = 1
	cfg.MaxLinesPerChange = 1
	v := NewValidator(cfg)

	violations := v.Validate([]schemas.Change{
		{FilePath: "src/a.go", OriginalContent: "", NewContent: "one\ntwo\nthree\n"},
		{FilePath: "scripts/evil.sh", OriginalContent: "", NewContent: "x\n"},
	})
	assert.Len(t, violations, 3, "file count, path, and size violations all reported")
}

func TestLineDelta(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		original string
		updated  string
		want     int
	}{
		{"identical", "a\nb\nc", "a\nb\nc", 0},
		{"one line replaced", "a\nb\nc", "a\nX\nc", 1},
		{"appended tail counts in both terms", "a\nb", "a\nb\nc\nd", 4},
		{"removed tail counts in both terms", "a\nb\nc\nd", "a\nb", 4},
		{"new single-line file", "", "hello", 1},
		{"file emptied", "hello", "", 1},
		{"shift counts every displaced position", "a\nb\nc", "x\na\nb\nc", 5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, lineDelta(tt.original, tt.updated))
		})
	}
}

func TestConstraintsText(t *testing.T) {
	t.Parallel()
	v := NewValidator(testSafetyConfig())

	text := v.ConstraintsText()
	assert.Contains(t, text, "at most 3 files")
	assert.Contains(t, text, "under 10 changed lines")
	assert.Contains(t, text, "src/, internal/, docs/")
	assert.Contains(t, text, ".env")
	assert.Contains(t, text, "go.mod")
}
