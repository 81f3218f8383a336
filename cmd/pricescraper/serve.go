package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pricescraper/internal/scheduler"
	"pricescraper/internal/status"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/ui"
)

var (
	serveWorkers    int
	serveStatusAddr string
	serveModels     []string
	shutdownTimeout time.Duration
	scrapeNow       bool
	valuationNow    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled scrape and valuation service",
	Long: `Start the long-running service. It dispatches a marketplace scrape for the
configured models at a fixed rate (and once at startup), runs the FIPE
valuation job once a month, and serves a read-only status page.

SIGINT or SIGTERM stops the triggers and drains in-flight scrape units.`,
	Example: `  # Scrape every hour and value on day 2 at midnight, as configured
  pricescraper serve

  # Override the worker count and status address
  pricescraper serve --workers 8 --status-addr :9090

  # Also run this month's valuation right away
  pricescraper serve --valuation-now`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "number of scrape workers (default from config)")
	serveCmd.Flags().StringVar(&serveStatusAddr, "status-addr", "", "status server address (default from config)")
	serveCmd.Flags().StringSliceVar(&serveModels, "model", nil, "vehicle model to scrape, repeatable (default from config)")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "how long to wait for in-flight work on shutdown")
	serveCmd.Flags().BoolVar(&scrapeNow, "scrape-now", false, "dispatch a scrape immediately, even when the schedule is disabled")
	serveCmd.Flags().BoolVar(&valuationNow, "valuation-now", false, "run the FIPE valuation immediately instead of waiting for its day")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig(map[string]interface{}{
		"workers":     serveWorkers,
		"status-addr": serveStatusAddr,
		"models":      serveModels,
	})
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	hour, minute, _ := cfg.Schedule.ValuationClock()
	sched, err := scheduler.New(scheduler.Config{
		ScrapeInterval: cfg.Schedule.ScrapeInterval,
		ScrapeOnStart:  cfg.Schedule.ScrapeOnStart,
		ValuationDay:   cfg.Schedule.ValuationDay,
		ValuationHour:  hour,
		ValuationMin:   minute,
		Location:       cfg.Fipe.Location(),
	}, a.scrapeJob, a.valuationJob, log)
	if err != nil {
		return err
	}

	a.workers.Start()

	if !quiet {
		ui.PrintInfo("Sources", joinNames(a.registry.Names()))
		ui.PrintInfo("Models", joinNames(cfg.Catalog.Models))
		ui.PrintInfo("Scrape interval", cfg.Schedule.ScrapeInterval.String())
		ui.PrintInfo("Valuation", cfg.Schedule.ValuationTime+" on day "+strconv.Itoa(cfg.Schedule.ValuationDay)+" ("+cfg.Fipe.Timezone+")")
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Schedule.Enabled {
		sched.Start()
	} else {
		log.Warn("Schedule disabled, only the status server is running")
	}
	if scrapeNow {
		sched.TriggerScrape()
	}
	if valuationNow {
		sched.TriggerValuation()
	}

	if cfg.Status.Enabled {
		src := a.statusSources()
		src.Scheduler = sched
		server := status.NewServer(cfg.Status.Addr, src, log)
		g.Go(func() error { return server.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return shutdown(sched, a, log)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if !quiet {
		ui.PrintSuccess("pricescraper stopped")
	}
	return nil
}

func shutdown(sched *scheduler.Scheduler, a *app, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down")
	if err := sched.Stop(ctx); err != nil {
		log.WarnWithFields("Scheduler did not stop cleanly", map[string]interface{}{"error": err.Error()})
	}
	if err := a.workers.Shutdown(ctx); err != nil {
		log.WarnWithFields("Scrape units abandoned at shutdown", map[string]interface{}{"error": err.Error()})
	}
	return nil
}
