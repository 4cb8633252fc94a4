// File: cmd/watch.go
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ouroboros/internal/runner"
)

var watchFromStart bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the engine's log file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := runner.FollowLog(cmd.Context(), cfg.Logging().File, cmd.OutOrStdout(), watchFromStart)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchFromStart, "from-start", false, "replay the whole log before following")
	rootCmd.AddCommand(watchCmd)
}
