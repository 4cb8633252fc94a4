// File: cmd/history.go
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/internal/history"
	"github.com/xkilldash9x/ouroboros/internal/observability"
	"github.com/xkilldash9x/ouroboros/internal/store"
)

var (
	historyLimit   int
	historyRefresh bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent improvement attempts and their review outcomes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		if historyRefresh {
			// Refreshing outcomes needs the full engine for the
			// hosting-service client.
			e, err := buildEngine(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer e.close()
			updated, err := e.evalStore.PollOutcomes(cmd.Context(), e.publisher)
			if err != nil {
				return err
			}
			logger.Info("Review outcomes refreshed", zap.Int("updated", updated))
			return runHistory(e.evalStore, cmd.OutOrStdout(), historyLimit)
		}

		st, err := store.New(cfg.Engine().StateDir)
		if err != nil {
			return err
		}
		evalStore := history.NewEvaluationStore(st, nil, logger)
		return runHistory(evalStore, cmd.OutOrStdout(), historyLimit)
	},
}

// runHistory prints the most recent records and the outcome tally.
func runHistory(evalStore *history.EvaluationStore, out io.Writer, limit int) error {
	records := evalStore.Load()
	if len(records) == 0 {
		fmt.Fprintln(out, "No improvement history recorded yet.")
		return nil
	}

	counts := map[history.Outcome]int{}
	for _, rec := range records {
		counts[rec.Outcome]++
	}

	start := len(records) - limit
	if start < 0 {
		start = 0
	}
	for _, rec := range records[start:] {
		fmt.Fprintf(out, "%s  %-10s %-8s %s (%d/%d -> %d/%d)\n",
			rec.Timestamp.Format("2006-01-02 15:04"),
			rec.Outcome, rec.TaskType, rec.Description,
			rec.TestDelta.Before.Passed, rec.TestDelta.Before.Failed,
			rec.TestDelta.After.Passed, rec.TestDelta.After.Failed,
		)
		if rec.PublishURL != "" {
			fmt.Fprintf(out, "    %s\n", rec.PublishURL)
		}
	}

	fmt.Fprintf(out, "\n%d recorded: %d merged, %d closed, %d reverted, %d pending\n",
		len(records), counts[history.OutcomeMerged], counts[history.OutcomeClosed],
		counts[history.OutcomeReverted], counts[history.OutcomePending])
	return nil
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of recent records to show")
	historyCmd.Flags().BoolVar(&historyRefresh, "refresh", false, "poll the hosting service for review outcomes first")
	rootCmd.AddCommand(historyCmd)
}
