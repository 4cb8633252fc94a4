// File: internal/improve/context.go
package improve

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// maxContextChars bounds per-file content when rendered into prompts.
	maxContextChars = 3000
	// maxSummaryChars bounds the whole codebase summary.
	maxSummaryChars = 12000
)

// skippedDirs are never walked for the codebase summary.
var skippedDirs = map[string]struct{}{
	".git":         {},
	"vendor":       {},
	"node_modules": {},
	"testdata":     {},
}

// CodebaseSummary walks the repository and renders an oracle-consumable
// inventory: each source file with its line count and top-level
// declarations. The summary is bounded; a huge tree gets cut off rather
// than blowing the prompt budget.
func CodebaseSummary(root string) string {
	var b strings.Builder
	b.WriteString("# Codebase Summary\n\n")

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if _, skip := skippedDirs[name]; skip || (name != "." && strings.HasPrefix(name, ".")) || strings.HasPrefix(name, "_") {
				if path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if filepath.Ext(name) != ".go" {
			return nil
		}
		if b.Len() >= maxSummaryChars {
			return filepath.SkipAll
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		lines := strings.Split(string(content), "\n")
		fmt.Fprintf(&b, "## %s (%d lines)\n", filepath.ToSlash(rel), len(lines))
		writeDecls(&b, path, content, lines)
		b.WriteString("\n")
		return nil
	})

	summary := b.String()
	if len(summary) > maxSummaryChars {
		summary = summary[:maxSummaryChars] + "\n... (truncated)"
	}
	return summary
}

// writeDecls parses the file and lists its package-level declarations,
// expanding grouped var/const/type blocks into their members. Parse
// errors are tolerated: a partial AST still lists what parsed, and a
// file that does not parse at all contributes only its header. The
// inventory never comes from unparsed text, so string literals cannot
// masquerade as declarations.
func writeDecls(b *strings.Builder, path string, content []byte, lines []string) {
	fset := token.NewFileSet()
	file, _ := parser.ParseFile(fset, path, content, parser.SkipObjectResolution)
	if file == nil {
		return
	}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			writeDeclLine(b, lines, fset.Position(d.Pos()).Line, "")
		case *ast.GenDecl:
			if d.Tok == token.IMPORT {
				continue
			}
			if !d.Lparen.IsValid() {
				writeDeclLine(b, lines, fset.Position(d.Pos()).Line, "")
				continue
			}
			for _, spec := range d.Specs {
				writeDeclLine(b, lines, fset.Position(spec.Pos()).Line, d.Tok.String()+" ")
			}
		}
	}
}

// writeDeclLine renders one declaration as its source line's head. The
// prefix restores the keyword for members of grouped blocks.
func writeDeclLine(b *strings.Builder, lines []string, line int, prefix string) {
	if line < 1 || line > len(lines) {
		return
	}
	head := declHead(strings.TrimLeft(lines[line-1], " \t"))
	if head == "" {
		return
	}
	fmt.Fprintf(b, "  %s%s [line %d]\n", prefix, head, line)
}

// declHead trims a declaration line down to its signature.
func declHead(line string) string {
	head := strings.TrimRight(strings.TrimSuffix(strings.TrimRight(line, " \t"), "{"), " \t")
	if idx := strings.Index(head, "//"); idx > 0 {
		head = strings.TrimRight(head[:idx], " \t")
	}
	return head
}

// ReadTargetFiles returns the current content of every target file,
// resolved under root. A file that does not exist maps to the empty
// string, which is what marks a change as a creation.
func ReadTargetFiles(root string, targets []string) map[string]string {
	files := make(map[string]string, len(targets))
	for _, target := range targets {
		full, err := resolvePath(root, target)
		if err != nil {
			files[target] = ""
			continue
		}
		content, err := os.ReadFile(full)
		if err != nil {
			files[target] = ""
			continue
		}
		files[target] = string(content)
	}
	return files
}

// TruncateForContext bounds each file's content for prompt embedding.
func TruncateForContext(files map[string]string) map[string]string {
	bounded := make(map[string]string, len(files))
	for path, content := range files {
		if len(content) > maxContextChars {
			content = content[:maxContextChars] + "\n... (truncated)"
		}
		bounded[path] = content
	}
	return bounded
}

// TestText renders a harness result for prompt embedding: the aggregate
// counts plus any failure details.
func TestText(passed, failed, errors int, details []string) string {
	text := fmt.Sprintf("%d passed, %d failed, %d errors", passed, failed, errors)
	if len(details) > 0 {
		text += "\n\nFailure details:\n- " + strings.Join(details, "\n- ")
	}
	return text
}

// resolvePath joins a change path onto the repository root, rejecting
// absolute paths and traversal outside the root.
func resolvePath(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path %q is not allowed", rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the repository root", rel)
	}
	return filepath.Join(root, clean), nil
}
