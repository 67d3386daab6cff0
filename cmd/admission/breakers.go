package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/admission/pkg/cli"
	"mercator-hq/admission/pkg/resilience/breaker"
)

var breakersCmd = &cobra.Command{
	Use:   "breakers",
	Short: "Inspect and reset circuit breakers",
	Long: `Inspect and reset the circuit breakers of a running server.

Examples:
  # List every breaker
  admission breakers list

  # Show one breaker as JSON
  admission breakers get quota-store -o json

  # Close a breaker and clear its history
  admission breakers reset billing-api

  # Reset every breaker
  admission breakers reset-all`,
}

var breakersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List circuit breakers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		metrics, err := newAdminClient().Breakers(cmd.Context())
		if err != nil {
			return cli.NewCommandError("breakers list", err)
		}
		return render(cmd, breakerTable(metrics))
	},
}

var breakersGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one circuit breaker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newAdminClient().Breaker(cmd.Context(), args[0])
		if err != nil {
			return cli.NewCommandError("breakers get", err)
		}
		return render(cmd, breakerTable{m})
	},
}

var breakersResetCmd = &cobra.Command{
	Use:   "reset <name>...",
	Short: "Reset circuit breakers to closed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAdminClient()
		reset := make(breakerTable, 0, len(args))
		for _, name := range args {
			m, err := client.ResetBreaker(cmd.Context(), name)
			if err != nil {
				return cli.NewCommandError("breakers reset", err)
			}
			reset = append(reset, m)
		}
		return render(cmd, reset)
	},
}

var breakersResetAllCmd = &cobra.Command{
	Use:   "reset-all",
	Short: "Reset every circuit breaker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := newAdminClient().ResetAllBreakers(cmd.Context())
		if err != nil {
			return cli.NewCommandError("breakers reset-all", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Reset %d circuit breakers\n", n)
		return nil
	},
}

var breakersHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Summarize circuit breaker states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newAdminClient().BreakerHealth(cmd.Context())
		if err != nil {
			return cli.NewCommandError("breakers health", err)
		}
		return render(cmd, healthTable(h))
	},
}

// healthTable renders a breaker health summary on one row.
type healthTable breaker.HealthSummary

func (t healthTable) Header() []string {
	return []string{"TOTAL", "CLOSED", "HALF-OPEN", "OPEN", "HEALTH"}
}

func (t healthTable) Rows() [][]string {
	return [][]string{{
		fmt.Sprint(t.Total),
		fmt.Sprint(t.Closed),
		fmt.Sprint(t.HalfOpen),
		fmt.Sprint(t.Open),
		fmt.Sprintf("%.1f%%", t.HealthPercentage),
	}}
}

func init() {
	rootCmd.AddCommand(breakersCmd)
	breakersCmd.AddCommand(breakersListCmd, breakersGetCmd, breakersResetCmd, breakersResetAllCmd, breakersHealthCmd)
}
