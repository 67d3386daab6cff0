package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mercator-hq/admission/pkg/admin"
	"mercator-hq/admission/pkg/cli"
	"mercator-hq/admission/pkg/config"
)

const defaultServerURL = "http://127.0.0.1:8080"

var (
	// Global flags
	cfgFile    string
	envFile    string
	serverURL  string
	adminToken string
	output     string
)

var rootCmd = &cobra.Command{
	Use:   "admission",
	Short: "Tiered quota enforcement and circuit breaking",
	Long: `Admission decides whether a caller may run more work right now.

Callers are grouped into tiers. Each request is checked against sliding
windows (per minute, hour and day), per-resource execution limits, a
concurrent execution cap and a daily token budget. Calls to downstream
dependencies are guarded by circuit breakers.

Configuration is read from a YAML file and ADMISSION_* environment
variables, which may also be set in a .env file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile, cmd.Flags().Changed("env-file"))
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("ADMISSION_SERVER_URL", defaultServerURL), "admin API base URL")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", "", "admin API token (default $ADMISSION_ADMIN_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text, json, csv")
}

// loadEnvFile loads path into the environment without overriding variables
// already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return cli.NewConfigError("env-file", err.Error())
	}
	return nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// loadConfig loads the configuration file with environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		field := cfgFile
		if field == "" {
			field = "environment"
		}
		return nil, cli.NewConfigError(field, err.Error())
	}
	return cfg, nil
}

// newAdminClient creates a client for the server named by --server.
func newAdminClient() *admin.Client {
	token := adminToken
	if token == "" {
		token = os.Getenv(config.EnvPrefix + "ADMIN_TOKEN")
	}
	return admin.NewClient(serverURL, token, nil)
}

// render writes data to the command's output in the --output format.
func render(cmd *cobra.Command, data any) error {
	format, err := cli.ParseFormat(output)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), data)
}
