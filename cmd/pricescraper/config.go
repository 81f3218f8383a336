package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pricescraper/pkg/config"
	"pricescraper/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage pricescraper configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (PRICESCRAPER_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with every section and its default.

The file is written to .pricescraper.yaml unless --config names another path.`,
	RunE: runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging every source. The database
password is masked.`,
	RunE: runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleHeader = `# pricescraper configuration
#
# Every key can also be set through PRICESCRAPER_* environment variables,
# e.g. PRICESCRAPER_CATALOG_URL or PRICESCRAPER_DATABASE_DSN.
#
# fipe.catalog and fipe.store accept "http" (the vehicle and price services)
# or "postgres" (direct access through database.dsn).

`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".pricescraper.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Fprintln(ui.Out, "\nTo overwrite, first remove the existing file:")
		fmt.Fprintf(ui.Out, "  rm %s\n", configPath)
		return fmt.Errorf("%s already exists", configPath)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to render defaults: %w", err)
	}
	if err := os.WriteFile(configPath, append([]byte(exampleHeader), data...), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Fprintln(ui.Out, "\nNext steps:")
	fmt.Fprintln(ui.Out, "1. Point catalog, price_store and sources at your services")
	fmt.Fprintln(ui.Out, "2. Run 'pricescraper config validate' to check the configuration")
	fmt.Fprintln(ui.Out, "3. Start the service with 'pricescraper serve'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, map[string]interface{}{
		"log-level":    logLevel,
		"log-format":   logFormat,
		"database-dsn": databaseDSN,
	})
	if err != nil {
		return err
	}

	display := *cfg
	display.Database.DSN = maskDSN(display.Database.DSN)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	fmt.Fprint(ui.Out, string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Configuration validation failed", err)
		return err
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Catalog", cfg.Catalog.BaseURL)
	ui.PrintInfo("Price store", cfg.PriceStore.BaseURL)
	ui.PrintInfo("Sources", joinNames(sourceNames(cfg.Sources)))
	ui.PrintInfo("Workers", fmt.Sprintf("%d (queue %d)", cfg.Scrape.Workers, cfg.Scrape.QueueSize))
	ui.PrintInfo("Valuation backends", "catalog="+cfg.Fipe.Catalog+" store="+cfg.Fipe.Store)
	return nil
}

func sourceNames(sources []config.SourceConfig) []string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}
	return names
}

// maskDSN hides the password of a URL-style connection string
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
