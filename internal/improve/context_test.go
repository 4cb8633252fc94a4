// File: internal/improve/context_test.go
package improve

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodebaseSummaryListsDeclarations(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	source := "package pager\n\ntype Pager struct {\n\tn int\n}\n\nfunc (p *Pager) Last() int {\n\treturn p.n\n}\n\nfunc New(n int) *Pager {\n\treturn &Pager{n: n}\n}\n"
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "pager.go"), []byte(source), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("not source"), 0o644))

	summary := CodebaseSummary(root)
	assert.Contains(t, summary, "## src/pager.go")
	assert.Contains(t, summary, "type Pager struct [line 3]")
	assert.Contains(t, summary, "func (p *Pager) Last() int [line 7]")
	assert.Contains(t, summary, "func New(n int) *Pager [line 11]")
	assert.NotContains(t, summary, "notes.txt")
}

func TestCodebaseSummaryParsesRatherThanScans(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	source := "package tmpl\n\nvar page = `\nfunc NotARealDecl() {}\ntype Phantom struct{}\n`\n\nvar (\n\tRealA = 1\n\tRealB = 2\n)\n\nconst (\n\tModeOn  = \"on\"\n\tModeOff = \"off\"\n)\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "tmpl.go"), []byte(source), 0o644))

	summary := CodebaseSummary(root)
	assert.NotContains(t, summary, "NotARealDecl", "raw string contents are not declarations")
	assert.NotContains(t, summary, "Phantom")
	assert.Contains(t, summary, "var page = ` [line 3]")
	assert.Contains(t, summary, "var RealA = 1 [line 9]")
	assert.Contains(t, summary, "var RealB = 2 [line 10]")
	assert.Contains(t, summary, "const ModeOn  = \"on\" [line 14]")
	assert.Contains(t, summary, "const ModeOff = \"off\" [line 15]")
}

func TestCodebaseSummaryToleratesUnparsableFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.go"), []byte("package broken\n\nfunc {{{\n"), 0o644))

	summary := CodebaseSummary(root)
	assert.Contains(t, summary, "## broken.go")
}

func TestCodebaseSummarySkipsHiddenAndUnderscoreDirs(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	for _, dir := range []string{".git", "_attic", "vendor"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, "hidden.go"), []byte("package hidden\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "visible.go"), []byte("package visible\n"), 0o644))

	summary := CodebaseSummary(root)
	assert.Contains(t, summary, "visible.go")
	assert.NotContains(t, summary, "hidden.go")
}

func TestReadTargetFilesMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "present.go"), []byte("package p\n"), 0o644))

	files := ReadTargetFiles(root, []string{"present.go", "absent.go", "../escape.go"})
	assert.Equal(t, "package p\n", files["present.go"])
	assert.Equal(t, "", files["absent.go"], "missing file reads as empty string")
	assert.Equal(t, "", files["../escape.go"], "traversal reads as empty string")
}

func TestTruncateForContextBoundsContent(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"small.go": "short",
		"big.go":   strings.Repeat("x", maxContextChars+100),
	}
	bounded := TruncateForContext(files)
	assert.Equal(t, "short", bounded["small.go"])
	assert.Contains(t, bounded["big.go"], "... (truncated)")
	assert.Less(t, len(bounded["big.go"]), maxContextChars+50)
}

func TestTestTextIncludesDetails(t *testing.T) {
	t.Parallel()

	text := TestText(5, 1, 0, []string{"TestPager: expected 4, got 5"})
	assert.Contains(t, text, "5 passed, 1 failed, 0 errors")
	assert.Contains(t, text, "- TestPager: expected 4, got 5")

	assert.Equal(t, "3 passed, 0 failed, 0 errors", TestText(3, 0, 0, nil))
}

func TestResolvePathRejectsEscapes(t *testing.T) {
	t.Parallel()

	_, err := resolvePath("/repo", "/etc/passwd")
	assert.Error(t, err)
	_, err = resolvePath("/repo", "../outside.go")
	assert.Error(t, err)
	_, err = resolvePath("/repo", "")
	assert.Error(t, err)

	full, err := resolvePath("/repo", "src/./a.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/repo", "src", "a.go"), full)
}
