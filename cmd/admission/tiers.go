package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/admission/pkg/cli"
	"mercator-hq/admission/pkg/quota"
)

var tiersFlags struct {
	local bool
}

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Show the tier comparison table",
	Long: `Show the configured tiers side by side, plus per-resource overrides.

By default the table is read from a running server. With --local it is
built from the configuration file instead.

Examples:
  admission tiers
  admission tiers --local --config config.yaml
  admission tiers -o json`,
	Args: cobra.NoArgs,
	RunE: runTiers,
}

func init() {
	rootCmd.AddCommand(tiersCmd)

	tiersCmd.Flags().BoolVar(&tiersFlags.local, "local", false, "read tiers from the configuration file")
}

func runTiers(cmd *cobra.Command, args []string) error {
	var cmp quota.Comparison
	if tiersFlags.local {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		table, err := quota.NewTierTable(cfg.Tiers, cfg.AgentOverrides)
		if err != nil {
			return cli.NewConfigError("tiers", err.Error())
		}
		cmp = table.Comparison()
	} else {
		var err error
		cmp, err = newAdminClient().Tiers(cmd.Context())
		if err != nil {
			return cli.NewCommandError("tiers", err)
		}
	}

	if err := render(cmd, tierTable(cmp)); err != nil {
		return err
	}
	if format, _ := cli.ParseFormat(output); len(cmp.Overrides) == 0 || format == cli.FormatJSON {
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout())
	return render(cmd, overrideTable(cmp.Overrides))
}
