// File: cmd/status.go
package cmd

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/internal/community"
	"github.com/xkilldash9x/ouroboros/internal/observability"
	"github.com/xkilldash9x/ouroboros/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the community state machine's current position.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.New(cfg.Engine().StateDir)
		if err != nil {
			return err
		}
		return runStatus(st, observability.GetLogger(), cmd.OutOrStdout())
	},
}

// runStatus prints the durable community state as indented JSON.
func runStatus(st *store.Store, logger *zap.Logger, out io.Writer) error {
	overview := community.ReadOverview(st, logger)
	encoded, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(overview, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state overview: %w", err)
	}
	fmt.Fprintln(out, string(encoded))
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
