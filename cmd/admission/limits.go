package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/admission/pkg/cli"
)

var limitsFlags struct {
	tier      string
	resources []string
}

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Inspect and reset per-identifier quota state",
	Long: `Inspect and reset the quota state of callers on a running server.

Examples:
  # Show usage of a caller under its tier
  admission limits usage user-42 --tier premium

  # Include per-resource execution windows
  admission limits usage user-42 --tier basic --resource summarizer

  # Clear all windows, counters and budgets of callers
  admission limits reset user-42 user-43`,
}

var limitsUsageCmd = &cobra.Command{
	Use:   "usage <identifier>",
	Short: "Show current usage of an identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := newAdminClient().Usage(cmd.Context(), args[0], limitsFlags.tier, limitsFlags.resources...)
		if err != nil {
			return cli.NewCommandError("limits usage", err)
		}
		return render(cmd, usageTable{snap})
	},
}

var limitsResetCmd = &cobra.Command{
	Use:   "reset <identifier>...",
	Short: "Delete all quota state of identifiers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAdminClient()

		var progress cli.ProgressReporter
		if len(args) > 1 {
			progress = cli.NewProgressReporter(cmd.ErrOrStderr())
			progress.Start(int64(len(args)))
		}

		total := 0
		for _, id := range args {
			n, err := client.ResetLimits(cmd.Context(), id)
			if err != nil {
				if progress != nil {
					progress.Error(err)
				}
				return cli.NewCommandError("limits reset", fmt.Errorf("%s: %w", id, err))
			}
			total += n
			if progress != nil {
				progress.Add(1)
			}
		}
		if progress != nil {
			progress.Finish()
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Reset %d identifiers (%d keys deleted)\n", len(args), total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	limitsCmd.AddCommand(limitsUsageCmd, limitsResetCmd)

	limitsUsageCmd.Flags().StringVar(&limitsFlags.tier, "tier", "", "tier to evaluate usage against (fallback tier when empty)")
	limitsUsageCmd.Flags().StringSliceVar(&limitsFlags.resources, "resource", nil, "resource scopes to include (repeatable)")
}
