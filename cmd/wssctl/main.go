// wssctl CLI - Command line interface for securewss
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucas/securewss/internal/config"
	"github.com/lucas/securewss/internal/observability"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	configPath string
	envFile    string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wssctl",
		Short: "wssctl - Manage the securewss certificate authority",
		Long: `wssctl is the command line interface for securewss.
It runs on-demand certificate passes, inspects the current certificates and
manages the local trust stores.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/securewss/securewss.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "/etc/securewss/securewss.env", "Path to optional environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")

	// Add subcommands
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(certCmd())
	rootCmd.AddCommand(trustCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wssctl %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	return config.NewLoader().LoadFile(configPath)
}

func cliLogger() *slog.Logger {
	level := "warn"
	if verbose {
		level = "info"
	}
	return observability.NewLogger(config.LoggingConfig{Level: level, Format: "text"}, os.Stderr)
}
