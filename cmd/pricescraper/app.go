package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"pricescraper/internal/apiclient"
	"pricescraper/internal/catalog"
	"pricescraper/internal/fipe"
	"pricescraper/internal/ingest"
	"pricescraper/internal/orchestrator"
	"pricescraper/internal/pool"
	"pricescraper/internal/pricestore"
	"pricescraper/internal/session"
	"pricescraper/internal/source"
	"pricescraper/internal/status"
	"pricescraper/internal/store"
	"pricescraper/pkg/checkpoint"
	"pricescraper/pkg/config"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/models"
	"pricescraper/pkg/ratelimit"
	"pricescraper/pkg/retry"
)

// app holds every wired component of one process
type app struct {
	cfg    *config.Config
	logger logger.Logger

	catalog      *catalog.Client
	priceStore   *pricestore.Client
	registry     *source.Registry
	sessions     *session.Pool
	workers      *pool.WorkerPool
	ingestor     *ingest.DedupIngestor
	orchestrator *orchestrator.Orchestrator
	valuations   *fipe.Runner
	tracker      *status.Tracker
	db           *pgxpool.Pool
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log, tracker: &status.Tracker{}}

	catalogAPI := apiclient.New(cfg.Catalog.BaseURL, cfg.Catalog.Timeout, log,
		apiclient.WithLimiter(ratelimit.PerMinute(cfg.Catalog.RequestsPerMinute)))
	a.catalog = catalog.NewClient(catalogAPI, log)

	storeAPI := apiclient.New(cfg.PriceStore.BaseURL, cfg.PriceStore.Timeout, log,
		apiclient.WithLimiter(ratelimit.PerMinute(cfg.PriceStore.RequestsPerMinute)))
	a.priceStore = pricestore.NewClient(storeAPI, log)

	registry, err := source.FromConfig(cfg.Sources, func(endpoint string) *apiclient.Client {
		return apiclient.New(endpoint, cfg.Sessions.Timeout, log)
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to register sources: %w", err)
	}
	a.registry = registry

	factory := session.NewHTTPFactory(cfg.Sessions.Timeout, cfg.Sessions.UserAgent)
	a.sessions = session.NewPool(factory, cfg.Sessions.Max, cfg.Sessions.Reuse, log)
	a.workers = pool.NewWorkerPool(cfg.Scrape.Workers, cfg.Scrape.QueueSize, log)
	a.ingestor = ingest.NewDedupIngestor(a.priceStore, log)

	vehicleType, _ := models.ParseVehicleType(cfg.Scrape.VehicleType)
	a.orchestrator = orchestrator.New(a.registry, a.sessions, a.workers, a.ingestor, a.catalog, orchestrator.Options{
		UnitTimeout:   cfg.Scrape.UnitTimeout,
		IngestTimeout: cfg.Scrape.IngestTimeout,
		VehicleType:   vehicleType,
		SourceTag:     cfg.Scrape.SourceTag,
		Aliases:       models.NewAliasTable(cfg.Scrape.BrandAliases),
	}, log)
	a.orchestrator.OnFinish(a.tracker.RecordScrape)

	if err := a.wireValuations(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wireValuations(ctx context.Context) error {
	cfg := a.cfg
	usesDB := cfg.Fipe.Catalog == config.BackendPostgres || cfg.Fipe.Store == config.BackendPostgres
	if usesDB || cfg.Database.DSN != "" {
		db, err := store.Connect(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			if usesDB {
				return err
			}
			a.logger.WarnWithFields("Database unavailable, continuing over HTTP", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			a.db = db
		}
	}

	var vehicles fipe.Catalog = a.catalog
	if cfg.Fipe.Catalog == config.BackendPostgres {
		vehicles = store.NewVehicleRepo(a.db, a.logger)
	}

	var valuations fipe.Store = a.priceStore
	if cfg.Fipe.Store == config.BackendPostgres {
		if err := store.EnsureSchema(ctx, a.db); err != nil {
			return err
		}
		valuations = store.NewValuationRepo(a.db, a.logger)
	}

	backoff, err := retry.NewBackoff(cfg.Fipe.Backoff, cfg.Fipe.BackoffDelay)
	if err != nil {
		return err
	}

	var checkpoints *checkpoint.Manager
	if cfg.Fipe.Resume {
		checkpoints, err = checkpoint.NewManager(cfg.Fipe.CheckpointDir, a.logger)
		if err != nil {
			return fmt.Errorf("failed to open checkpoint directory: %w", err)
		}
	}

	src := source.NewRemoteFipeSource(apiclient.New(cfg.Fipe.SourceEndpoint, cfg.Fipe.SourceTimeout, a.logger))
	a.valuations = fipe.NewRunner(vehicles, src, valuations, fipe.Options{
		Delay:       cfg.Fipe.Delay,
		MaxAttempts: cfg.Fipe.MaxAttempts,
		Backoff:     backoff,
		Location:    cfg.Fipe.Location(),
		Checkpoints: checkpoints,
	}, a.logger)
	a.valuations.OnFinish(a.tracker.RecordValuation)
	return nil
}

// scrapeJob dispatches a run for the configured models and returns without
// waiting for it
func (a *app) scrapeJob(ctx context.Context) error {
	_, err := a.orchestrator.ScrapeModels(ctx, a.cfg.Catalog.Models)
	return err
}

func (a *app) valuationJob(ctx context.Context) error {
	_, err := a.valuations.Run(ctx)
	return err
}

func (a *app) statusSources() status.Sources {
	src := status.Sources{
		Sessions: a.sessions.Stats,
		Workers:  a.workers.Stats,
		Tracker:  a.tracker,
	}
	if a.db != nil {
		src.Database = a.db.Ping
	}
	return src
}

func (a *app) close() {
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			a.logger.WarnWithFields("Failed to close sessions", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
