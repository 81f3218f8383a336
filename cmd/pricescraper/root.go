package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"pricescraper/pkg/config"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile  string
	logLevel    string
	logFormat   string
	databaseDSN string
	quiet       bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pricescraper",
	Short: "Collects vehicle resale quotes and monthly FIPE valuations",
	Long: `pricescraper periodically gathers resale price quotes for vehicles from
several marketplaces and the official monthly FIPE table, drops quotes the
price service already holds and hands new observations over for storage.

Run 'pricescraper serve' for the scheduled service, or 'pricescraper run'
for a single scrape or valuation pass.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Version = version
		if quiet || cmd.Name() == "help" {
			return
		}
		if cmd.Parent() != nil && cmd.Parent().Name() == "config" {
			return
		}
		ui.PrintBanner()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.pricescraper.yaml or ~/.config/pricescraper/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (auto, console, json)")
	rootCmd.PersistentFlags().StringVar(&databaseDSN, "database-dsn", "", "Postgres connection string for the direct valuation path")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress the banner and summaries")

	rootCmd.SetVersionTemplate(`pricescraper {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig merges the persistent flags with extra command flags and loads
// the configuration, then sets up the global logger
func loadConfig(extra map[string]interface{}) (*config.Config, logger.Logger, error) {
	flags := map[string]interface{}{
		"log-level":    logLevel,
		"log-format":   logFormat,
		"database-dsn": databaseDSN,
	}
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger.GetLogger(), nil
}
