// File: cmd/tick.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ouroboros/internal/community"
	"github.com/xkilldash9x/ouroboros/internal/config"
	"github.com/xkilldash9x/ouroboros/internal/observability"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Advance the community state machine by one transition.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.SetEngineMode(config.ModeCommunity)

		e, err := buildEngine(cmd.Context(), cfg, observability.GetLogger())
		if err != nil {
			return err
		}
		defer e.close()

		return runTick(cmd.Context(), e.machine, cmd.OutOrStdout())
	},
}

// runTick advances the machine once and prints the transition taken.
func runTick(ctx context.Context, m *community.Machine, out io.Writer) error {
	token, err := m.Tick(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func init() {
	rootCmd.AddCommand(tickCmd)
}
