// Package orchestrator fans a scrape run out into one unit per vehicle and
// source, runs the units on the worker pool and streams their quotes to the
// ingestor.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pricescraper/internal/ingest"
	"pricescraper/internal/pool"
	"pricescraper/internal/session"
	"pricescraper/internal/source"
	errs "pricescraper/pkg/errors"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/models"
)

// Catalog resolves model names to vehicles
type Catalog interface {
	ByModels(ctx context.Context, names []string) ([]models.Vehicle, error)
}

// Ingestor receives quotes one at a time
type Ingestor interface {
	Ingest(ctx context.Context, q models.Quote) ingest.Report
}

// Sessions lends an exclusive session for the length of fn. The session
// is treated as healthy only when fn returns nil.
type Sessions interface {
	With(ctx context.Context, fn func(session.Session) error) error
}

// Options tune how requests are built and how long units may take
type Options struct {
	UnitTimeout   time.Duration
	IngestTimeout time.Duration
	VehicleType   models.VehicleType
	SourceTag     string
	Aliases       models.AliasTable
}

// Orchestrator dispatches scrape runs. It never retries a unit.
type Orchestrator struct {
	registry *source.Registry
	sessions Sessions
	workers  *pool.WorkerPool
	ingestor Ingestor
	catalog  Catalog
	opts     Options
	logger   logger.Logger

	mu        sync.Mutex
	observers []func(Summary)
}

// New wires an orchestrator. The worker pool must be started by the caller.
func New(registry *source.Registry, sessions Sessions, workers *pool.WorkerPool,
	ingestor Ingestor, catalog Catalog, opts Options, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.UnitTimeout <= 0 {
		opts.UnitTimeout = 2 * time.Minute
	}
	if opts.IngestTimeout <= 0 {
		opts.IngestTimeout = 20 * time.Second
	}
	if opts.VehicleType == "" {
		opts.VehicleType = models.VehicleTypeCar
	}
	if opts.SourceTag == "" {
		opts.SourceTag = "FIPE"
	}
	return &Orchestrator{
		registry: registry,
		sessions: sessions,
		workers:  workers,
		ingestor: ingestor,
		catalog:  catalog,
		opts:     opts,
		logger:   log.WithField("component", "orchestrator"),
	}
}

// OnFinish registers fn to be called with each run's final summary
func (o *Orchestrator) OnFinish(fn func(Summary)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

func (o *Orchestrator) notify(s Summary) {
	o.mu.Lock()
	observers := append([]func(Summary){}, o.observers...)
	o.mu.Unlock()
	for _, fn := range observers {
		fn(s)
	}
}

// ScrapeModels looks the models up in the catalog and dispatches them.
// An empty list scrapes the whole catalog.
func (o *Orchestrator) ScrapeModels(ctx context.Context, names []string) (*Run, error) {
	vehicles, err := o.catalog.ByModels(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("resolve vehicles: %w", err)
	}
	return o.Dispatch(ctx, vehicles), nil
}

// Dispatch submits one unit per vehicle and source and returns at once.
// Cancelling ctx stops further submissions; units already submitted still
// run to completion under their own timeout.
func (o *Orchestrator) Dispatch(ctx context.Context, vehicles []models.Vehicle) *Run {
	scrapers := o.registry.Scrapers()
	run := newRun(len(vehicles), len(scrapers), o.logger, o.notify)

	o.logger.InfoWithFields("Dispatching scrape run", map[string]interface{}{
		"run_id":   run.ID(),
		"vehicles": len(vehicles),
		"sources":  len(scrapers),
	})

	go o.submitAll(ctx, run, vehicles, scrapers)
	return run
}

func (o *Orchestrator) submitAll(ctx context.Context, run *Run, vehicles []models.Vehicle, scrapers []source.StorePriceScraper) {
	defer run.closeDispatch()

	for _, v := range vehicles {
		req := o.buildRequest(v)
		for _, scraper := range scrapers {
			if ctx.Err() != nil {
				run.logger.WarnWithFields("Dispatch cancelled", map[string]interface{}{
					"submitted": run.Summary().Submitted,
					"expected":  run.Summary().Expected,
				})
				return
			}
			task := o.unit(run, req, scraper)
			if err := o.workers.Submit(ctx, task); err != nil {
				run.logger.WarnWithFields("Stopped dispatching", map[string]interface{}{
					"submitted": run.Summary().Submitted,
					"expected":  run.Summary().Expected,
					"error":     err.Error(),
				})
				return
			}
			run.submitted()
		}
	}
}

func (o *Orchestrator) buildRequest(v models.Vehicle) models.ScrapeRequest {
	vt, ok := models.ParseVehicleType(v.Type)
	if !ok {
		vt = o.opts.VehicleType
	}
	return models.ScrapeRequest{
		VehicleID: v.ID,
		Type:      vt,
		Brand:     o.opts.Aliases.Resolve(v.Brand),
		Model:     v.Model,
		Year:      v.Year,
		Version:   v.Name,
		Source:    o.opts.SourceTag,
	}
}

func (o *Orchestrator) unit(run *Run, req models.ScrapeRequest, scraper source.StorePriceScraper) pool.Task {
	res := &UnitResult{
		VehicleID: req.VehicleID,
		Source:    scraper.Name(),
		Outcomes:  make(map[ingest.Outcome]int),
	}

	return pool.Task{
		ID: fmt.Sprintf("%s/%s/%s", run.ID(), req.VehicleID, scraper.Name()),
		Run: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, o.opts.UnitTimeout)
			defer cancel()
			return o.scrapeUnit(ctx, req, scraper, res)
		},
		Done: func(r pool.Result) {
			res.Err = r.Err
			res.Duration = r.Duration
			if r.Err != nil {
				run.logger.WarnWithFields("Scrape unit failed", map[string]interface{}{
					"vehicle_id": req.VehicleID.String(),
					"store":      scraper.Name(),
					"error":      r.Err.Error(),
				})
			}
			run.complete(*res)
		},
	}
}

func (o *Orchestrator) scrapeUnit(ctx context.Context, req models.ScrapeRequest, scraper source.StorePriceScraper, res *UnitResult) error {
	var quotes []models.Quote
	err := o.sessions.With(ctx, func(sess session.Session) error {
		var err error
		quotes, err = scraper.Scrape(ctx, sess, req)
		if errs.IsExtraction(err) {
			// an extraction miss leaves the session healthy
			o.logger.DebugWithFields("Nothing to extract", map[string]interface{}{
				"vehicle_id": req.VehicleID.String(),
				"store":      scraper.Name(),
				"reason":     err.Error(),
			})
			quotes = nil
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		res.Empty = true
		return nil
	}

	for _, q := range quotes {
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.IngestTimeout)
		report := o.ingestor.Ingest(ictx, q)
		cancel()
		res.Quotes++
		res.Outcomes[report.Outcome]++
	}
	return nil
}
