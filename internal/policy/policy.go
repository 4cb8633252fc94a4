// Package policy enforces the safety constraints on proposed changes:
// which files may be touched, how many, and how large the combined edit
// may be. Every write path in the engine consults it before touching disk.
package policy

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/config"
)

// immutableFiles are basenames the engine must never modify regardless of
// configuration. They guard the safety and durability machinery itself,
// plus the module definition.
var immutableFiles = map[string]struct{}{
	"policy.go":    {},
	"store.go":     {},
	"history.go":   {},
	"publisher.go": {},
	"machine.go":   {},
	"go.mod":       {},
	"go.sum":       {},
}

// Validator checks proposed changes against the configured safety limits.
type Validator struct {
	cfg config.SafetyConfig
}

// NewValidator returns a Validator enforcing the given limits.
func NewValidator(cfg config.SafetyConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Allowed reports whether the engine may modify path. The immutable set
// and the configured forbidden basenames always win over any allowed
// prefix; otherwise the slash-normalized path must sit under one of the
// configured allowed prefixes.
func (v *Validator) Allowed(path string) bool {
	base := filepath.Base(path)
	if _, ok := immutableFiles[base]; ok {
		return false
	}
	for _, forbidden := range v.cfg.ForbiddenFiles {
		if base == forbidden {
			return false
		}
	}
	rel := filepath.ToSlash(filepath.Clean(path))
	for _, prefix := range v.cfg.AllowedPaths {
		if strings.HasPrefix(rel, prefix) {
			return true
		}
	}
	return false
}

// Validate checks a set of changes as a unit and returns one human
// readable violation per broken constraint. An empty slice means the
// changes are compliant.
func (v *Validator) Validate(changes []schemas.Change) []string {
	var violations []string
	if len(changes) > v.cfg.MaxFilesPerChange {
		violations = append(violations, fmt.Sprintf(
			"too many files changed: %d exceeds the limit of %d",
			len(changes), v.cfg.MaxFilesPerChange))
	}
	totalDelta := 0
	for _, change := range changes {
		if !v.Allowed(change.FilePath) {
			violations = append(violations, fmt.Sprintf(
				"modification of %q is not allowed", change.FilePath))
		}
		totalDelta += lineDelta(change.OriginalContent, change.NewContent)
	}
	if totalDelta > v.cfg.MaxLinesPerChange {
		violations = append(violations, fmt.Sprintf(
			"change too large: %d lines exceeds the limit of %d",
			totalDelta, v.cfg.MaxLinesPerChange))
	}
	return violations
}

// ConstraintsText renders the active limits for embedding in generation
// prompts, so proposals are steered toward compliance instead of being
// rejected after the fact.
func (v *Validator) ConstraintsText() string {
	protected := make([]string, 0, len(immutableFiles)+len(v.cfg.ForbiddenFiles))
	for name := range immutableFiles {
		protected = append(protected, name)
	}
	protected = append(protected, v.cfg.ForbiddenFiles...)
	sort.Strings(protected)

	var b strings.Builder
	fmt.Fprintf(&b, "- Modify at most %d files.\n", v.cfg.MaxFilesPerChange)
	fmt.Fprintf(&b, "- Keep the combined edit under %d changed lines.\n", v.cfg.MaxLinesPerChange)
	fmt.Fprintf(&b, "- Only touch files under: %s\n", strings.Join(v.cfg.AllowedPaths, ", "))
	fmt.Fprintf(&b, "- Never touch: %s\n", strings.Join(protected, ", "))
	return b.String()
}

// lineDelta approximates the size of an edit as the absolute difference
// in line count plus the number of positions whose content differs; a
// position past the shorter side always differs. Not a true diff: a
// shifted line counts at every displaced position, which overcounts
// rather than undercounts.
func lineDelta(original, updated string) int {
	origLines := strings.Split(original, "\n")
	newLines := strings.Split(updated, "\n")

	delta := len(newLines) - len(origLines)
	if delta < 0 {
		delta = -delta
	}
	longer := len(origLines)
	if len(newLines) > longer {
		longer = len(newLines)
	}
	for i := 0; i < longer; i++ {
		if i >= len(origLines) || i >= len(newLines) || origLines[i] != newLines[i] {
			delta++
		}
	}
	return delta
}
