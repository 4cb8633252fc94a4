// File: internal/improve/runner.go
package improve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/policy"
)

// ValidationRunner drives the apply/test/revert protocol. The steps are
// ordered and never interrupted: baseline run, policy check, apply,
// second run, and an all-or-nothing revert when the suite regressed.
type ValidationRunner struct {
	harness schemas.TestHarness
	policy  *policy.Validator
	root    string
	logger  *zap.Logger
}

// NewValidationRunner returns a runner applying changes under repoRoot.
func NewValidationRunner(harness schemas.TestHarness, validator *policy.Validator, repoRoot string, logger *zap.Logger) *ValidationRunner {
	return &ValidationRunner{
		harness: harness,
		policy:  validator,
		root:    repoRoot,
		logger:  logger.Named("validation"),
	}
}

// Validate applies the changes, measures the suite before and after, and
// reverts everything on regression. Policy violations stop the protocol
// before any byte reaches disk.
func (r *ValidationRunner) Validate(ctx context.Context, task schemas.Task, changes []schemas.Change) schemas.Result {
	result := schemas.Result{
		Task:    task,
		Changes: changes,
		Status:  schemas.StatusPending,
	}

	result.TestBefore = r.harness.Run(ctx)
	r.logger.Info("Baseline test run",
		zap.Int("passed", result.TestBefore.Passed),
		zap.Int("failed", result.TestBefore.Failed),
		zap.Int("errors", result.TestBefore.Errors),
	)

	if violations := r.policy.Validate(changes); len(violations) > 0 {
		r.logger.Warn("Safety violations, nothing written", zap.Strings("violations", violations))
		result.Status = schemas.StatusFailed
		return result
	}

	if err := r.Apply(changes); err != nil {
		// Files written before the trip stay on disk; the working tree
		// is dirty and the cycle is failed either way.
		r.logger.Error("Applying changes failed", zap.Error(err))
		result.Status = schemas.StatusFailed
		return result
	}

	result.TestAfter = r.harness.Run(ctx)
	r.logger.Info("Post-change test run",
		zap.Int("passed", result.TestAfter.Passed),
		zap.Int("failed", result.TestAfter.Failed),
		zap.Int("errors", result.TestAfter.Errors),
	)

	if result.TestAfter.Regressed(result.TestBefore) {
		r.logger.Warn("Test regression detected, reverting all changes",
			zap.Int("failed_before", result.TestBefore.Failed),
			zap.Int("failed_after", result.TestAfter.Failed),
			zap.Int("errors_before", result.TestBefore.Errors),
			zap.Int("errors_after", result.TestAfter.Errors),
		)
		if err := r.Revert(changes); err != nil {
			r.logger.Error("Revert failed, working tree needs manual attention", zap.Error(err))
		}
		result.Status = schemas.StatusReverted
		return result
	}

	result.Status = schemas.StatusSuccess
	return result
}

// Apply writes every change to disk, creating parent directories as
// needed. The per-file policy check here is defense in depth behind
// Validate; tripping it stops mid-set.
func (r *ValidationRunner) Apply(changes []schemas.Change) error {
	for _, change := range changes {
		if !r.policy.Allowed(change.FilePath) {
			return fmt.Errorf("refusing to write forbidden file %q", change.FilePath)
		}
		full, err := resolvePath(r.root, change.FilePath)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", change.FilePath, err)
		}
		if err := os.WriteFile(full, []byte(change.NewContent), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", change.FilePath, err)
		}
	}
	return nil
}

// Revert restores every changed file to its byte-exact original content
// and deletes files that did not exist before. Errors are collected so
// one bad file never strands the rest mid-revert.
func (r *ValidationRunner) Revert(changes []schemas.Change) error {
	var firstErr error
	for _, change := range changes {
		full, err := resolvePath(r.root, change.FilePath)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if change.Creates() {
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to remove created file %s: %w", change.FilePath, err)
				}
			}
			continue
		}
		if err := os.WriteFile(full, []byte(change.OriginalContent), 0o644); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to restore %s: %w", change.FilePath, err)
			}
		}
	}
	return firstErr
}
