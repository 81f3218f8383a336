package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"pricescraper/internal/fipe"
	"pricescraper/pkg/ui"
)

var (
	runModels  []string
	runWorkers int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single scrape or valuation pass and exit",
}

var runScrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape every configured marketplace once and wait for it to drain",
	Example: `  # Scrape the configured models
  pricescraper run scrape

  # Scrape two specific models
  pricescraper run scrape --model Palio --model Uno`,
	RunE: runScrapeOnce,
}

var runValuationCmd = &cobra.Command{
	Use:   "valuation",
	Short: "Run the FIPE valuation job once",
	Long: `Value every vehicle in the catalog against the newest FIPE table row.
Rows that are not for the current month are skipped. With fipe.resume on,
vehicles already stored this month are not fetched again.`,
	RunE: runValuationOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runScrapeCmd)
	runCmd.AddCommand(runValuationCmd)

	runScrapeCmd.Flags().StringSliceVar(&runModels, "model", nil, "vehicle model to scrape, repeatable (default from config)")
	runScrapeCmd.Flags().IntVar(&runWorkers, "workers", 0, "number of scrape workers (default from config)")
}

func runScrapeOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig(map[string]interface{}{
		"models":  runModels,
		"workers": runWorkers,
	})
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	a.workers.Start()
	run, err := a.orchestrator.ScrapeModels(ctx, cfg.Catalog.Models)
	if err != nil {
		a.workers.Stop()
		return err
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for res := range run.Results() {
			if res.Err != nil && !quiet {
				ui.PrintWarning(fmt.Sprintf("%s / %s: %v", res.Source, res.VehicleID, res.Err))
			}
		}
	}()

	select {
	case <-drained:
		a.workers.Stop()
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.workers.Shutdown(shutdownCtx); err != nil {
			log.WarnWithFields("Scrape units abandoned", map[string]interface{}{"error": err.Error()})
		}
	}

	summary := run.Summary()
	if !quiet {
		ui.PrintCounters("Scrape run "+summary.RunID, summary.Counters())
	}
	if summary.Failed > 0 && summary.Failed == summary.Completed {
		return fmt.Errorf("all %d scrape units failed", summary.Failed)
	}
	return nil
}

func runValuationOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig(nil)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	summary, err := a.valuations.Run(ctx)
	if errors.Is(err, fipe.ErrRunning) {
		return err
	}
	if !quiet && summary.RunID != "" {
		ui.PrintCounters("Valuation run "+summary.Period, summary.Counters())
	}
	return err
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return "(all)"
	}
	return strings.Join(names, ", ")
}
