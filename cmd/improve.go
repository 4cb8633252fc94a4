// File: cmd/improve.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ouroboros/internal/config"
	"github.com/xkilldash9x/ouroboros/internal/improve"
	"github.com/xkilldash9x/ouroboros/internal/observability"
)

var improveDryRun bool

var improveCmd = &cobra.Command{
	Use:   "improve",
	Short: "Run a single direct improvement cycle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.SetEngineMode(config.ModeDirect)
		if improveDryRun {
			cfg.SetEngineDryRun(true)
		}

		e, err := buildEngine(cmd.Context(), cfg, observability.GetLogger())
		if err != nil {
			return err
		}
		defer e.close()

		return runImprove(cmd.Context(), e.orch, cmd.OutOrStdout())
	},
}

// runImprove executes one cycle and prints its outcome.
func runImprove(ctx context.Context, orch *improve.Orchestrator, out io.Writer) error {
	result, err := orch.RunCycle(ctx)
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Fprintln(out, "No improvement attempted (rate limited, request open, or nothing identified).")
		return nil
	}

	fmt.Fprintf(out, "Task:   %s (%s)\n", result.Task.ID, result.Task.Type)
	fmt.Fprintf(out, "Status: %s\n", result.Status)
	fmt.Fprintf(out, "Tests:  %s -> %s\n", result.TestBefore.Summary(), result.TestAfter.Summary())
	if result.PublishURL != "" {
		fmt.Fprintf(out, "Review: %s\n", result.PublishURL)
	}
	return nil
}

func init() {
	improveCmd.Flags().BoolVar(&improveDryRun, "dry-run", false, "identify and plan without modifying or publishing anything")
	rootCmd.AddCommand(improveCmd)
}
