package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/admission/pkg/cli"
	"mercator-hq/admission/pkg/config"
	"mercator-hq/admission/pkg/server"
	"mercator-hq/admission/pkg/telemetry/logging"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admission server",
	Long: `Start the admission server with the specified configuration.

The server exposes the decision API used by gateways, the admin API,
health probes and Prometheus metrics on one listener.

Examples:
  # Start with defaults
  admission serve

  # Start with custom config
  admission serve --config /etc/admission/config.yaml

  # Override listen address
  admission serve --listen 0.0.0.0:8080

  # Validate config without starting server
  admission serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply flag overrides
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		if _, err := logging.ParseLevel(serveFlags.logLevel); err != nil {
			return cli.NewConfigError("log-level", err.Error())
		}
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
		Redact:    true,
		Writer:    os.Stdout,
	})
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	if serveFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	printBanner(cmd, cfg)

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	srv, err := server.New(ctx, cfg, server.BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	}, logger)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}

	return cli.NewCommandError("serve", srv.Start(ctx))
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "Admission %s\n", Version)
	fmt.Fprintf(out, "  listen:   %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "  store:    %s\n", cfg.Store.Backend)
	fmt.Fprintf(out, "  tiers:    %d\n", len(cfg.Tiers))
	fmt.Fprintf(out, "  identity: %s\n", cfg.Gateway.Identity)
	if config.Enabled(cfg.Admin.Enabled, true) && cfg.Admin.Token == "" {
		fmt.Fprintln(out, "  warning:  admin API is enabled without a token")
	}
}
