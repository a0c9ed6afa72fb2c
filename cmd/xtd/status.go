package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/services"
)

var (
	resetStuckAfter time.Duration
	resetMoldID     int64
)

func init() {
	resetStatusCmd.Flags().DurationVar(&resetStuckAfter, "stuck-after", 2*time.Hour, "age after which DOING questions and PARSING files count as stuck")
	resetStatusCmd.Flags().Int64Var(&resetMoldID, "mold", 0, "limit question resets to one mold")

	rootCmd.AddCommand(resetStatusCmd)
}

var resetStatusCmd = &cobra.Command{
	Use:   "reset-status",
	Short: "Reset failed and stuck statuses so they run again",
	Long: `Flip FAILED and stuck DOING extractor statuses of questions back to TODO
and fail files stuck in PARSING, then re-run the predictions of the reset
questions.

Examples:
  # Everything idle for two hours
  xtd reset-status

  # One mold, shorter window
  xtd reset-status --mold 12 --stuck-after 30m`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetStuckAfter <= 0 {
			return fmt.Errorf("--stuck-after must be positive")
		}
		return withRegistry(cmd, func(ctx context.Context, reg services.Registry) error {
			rep, err := reg.Orchestrator().ResetStatuses(ctx, orchestrator.ResetRequest{
				StuckAfter: resetStuckAfter,
				MoldID:     resetMoldID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d questions, %d files\n", rep.Questions, rep.Files)
			return nil
		})
	},
}
