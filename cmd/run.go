// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/internal/config"
	"github.com/xkilldash9x/ouroboros/internal/observability"
	"github.com/xkilldash9x/ouroboros/internal/runner"
)

var runMode string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the improvement loop until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runMode != "" {
			if runMode != config.ModeDirect && runMode != config.ModeCommunity {
				return fmt.Errorf("invalid --mode %q: must be %q or %q", runMode, config.ModeDirect, config.ModeCommunity)
			}
			cfg.SetEngineMode(runMode)
		}

		logger := observability.GetLogger()
		e, err := buildEngine(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer e.close()

		return runLoop(cmd.Context(), e, logger)
	},
}

// runLoop drives one step per interval until the context is cancelled.
func runLoop(ctx context.Context, e *engine, logger *zap.Logger) error {
	step := engineStep(e, logger)
	logger.Info("Engine loop starting",
		zap.String("mode", e.cfg.Engine().Mode),
		zap.Duration("interval", e.cfg.Engine().Interval()),
	)

	loop := runner.NewLoop(step, e.cfg.Engine().Interval(), logger)
	err := loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Engine loop stopped")
		return nil
	}
	return err
}

// engineStep adapts the configured mode to a loop step.
func engineStep(e *engine, logger *zap.Logger) runner.Step {
	if e.machine != nil {
		return func(ctx context.Context) error {
			token, err := e.machine.Tick(ctx)
			if err != nil {
				return err
			}
			logger.Info("Community tick", zap.String("transition", token))
			return nil
		}
	}
	return func(ctx context.Context) error {
		result, err := e.orch.RunCycle(ctx)
		if err != nil {
			return err
		}
		if result != nil {
			logger.Info("Improvement cycle finished",
				zap.String("task_id", result.Task.ID),
				zap.String("status", string(result.Status)),
			)
		}
		return nil
	}
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "override engine mode (direct or community)")
	rootCmd.AddCommand(runCmd)
}
