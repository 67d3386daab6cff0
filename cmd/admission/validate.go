package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/admission/pkg/cli"
	"mercator-hq/admission/pkg/config"
	"mercator-hq/admission/pkg/server"
)

var validateFlags struct {
	ping bool
}

var validateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file after defaults and ADMISSION_*
environment overrides are applied. Every problem is reported, not just the
first.

With --ping the configured quota store is also opened and pinged.

Examples:
  admission validate config.yaml
  admission validate --config /etc/admission/config.yaml --ping`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.ping, "ping", false, "also connect to the configured quota store")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if len(args) == 1 {
		path = args[0]
	}
	out := cmd.OutOrStdout()

	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			for _, fe := range verr.Errors {
				fmt.Fprintf(out, "✗ %s: %s\n", fe.Field, fe.Message)
			}
		}
		return cli.NewConfigError(displayPath(path), err.Error())
	}

	fmt.Fprintf(out, "✓ Configuration valid (%s)\n", displayPath(path))
	fmt.Fprintf(out, "  store:     %s\n", cfg.Store.Backend)
	fmt.Fprintf(out, "  tiers:     %d\n", len(cfg.Tiers))
	fmt.Fprintf(out, "  overrides: %d resources\n", len(cfg.AgentOverrides))
	fmt.Fprintf(out, "  breakers:  %d named\n", len(cfg.Breakers.Named))

	if !validateFlags.ping {
		return nil
	}

	st, err := server.OpenStore(cfg.Store)
	if err != nil {
		return cli.NewCommandError("validate", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return cli.NewCommandError("validate", fmt.Errorf("store %s unreachable: %w", cfg.Store.Backend, err))
	}
	fmt.Fprintf(out, "✓ Store %s reachable\n", cfg.Store.Backend)
	return nil
}

func displayPath(path string) string {
	if path == "" {
		return "defaults"
	}
	return path
}
