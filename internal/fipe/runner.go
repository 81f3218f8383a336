// Package fipe runs the monthly valuation job: for every vehicle it reads
// the newest row of the official table and stores it when it belongs to the
// current month.
package fipe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pricescraper/internal/source"
	"pricescraper/pkg/checkpoint"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/models"
	"pricescraper/pkg/parse"
	"pricescraper/pkg/retry"
)

// ErrRunning is returned when a run is requested while one is in progress
var ErrRunning = errors.New("valuation run already in progress")

var errStale = errors.New("valuation is not for the current month")

// State is the terminal state of one vehicle
type State string

const (
	Persisted     State = "persisted"
	Skipped       State = "skipped"
	Failed        State = "failed"
	PersistFailed State = "persist_failed"
	Resumed       State = "resumed"
)

// Catalog lists every vehicle to value
type Catalog interface {
	ListAll(ctx context.Context) ([]models.Vehicle, error)
}

// Store persists valuations
type Store interface {
	SaveValuation(ctx context.Context, v models.Valuation) error
}

// Options control pacing, retries and the month gate
type Options struct {
	// Delay is the pause before each vehicle
	Delay       time.Duration
	MaxAttempts int
	Backoff     retry.BackoffStrategy
	Location    *time.Location
	// Checkpoints enables resuming a month's run; nil disables it
	Checkpoints *checkpoint.Manager
}

// Summary counts vehicles per terminal state
type Summary struct {
	RunID         string    `json:"run_id"`
	Period        string    `json:"period"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Vehicles      int       `json:"vehicles"`
	Persisted     int       `json:"persisted"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	PersistFailed int       `json:"persist_failed"`
	Resumed       int       `json:"resumed"`
}

// Counters flattens the summary for logs and terminal output
func (s Summary) Counters() map[string]int {
	return map[string]int{
		"vehicles":       s.Vehicles,
		"persisted":      s.Persisted,
		"skipped":        s.Skipped,
		"failed":         s.Failed,
		"persist_failed": s.PersistFailed,
		"resumed":        s.Resumed,
	}
}

func (s *Summary) add(state State) {
	switch state {
	case Persisted:
		s.Persisted++
	case Skipped:
		s.Skipped++
	case Failed:
		s.Failed++
	case PersistFailed:
		s.PersistFailed++
	case Resumed:
		s.Resumed++
	}
}

// Runner values the catalog one vehicle at a time. Only one run is active
// at once.
type Runner struct {
	catalog Catalog
	source  source.FipeSource
	store   Store
	opts    Options
	logger  logger.Logger
	now     func() time.Time

	running   sync.Mutex
	mu        sync.Mutex
	observers []func(Summary)
}

// NewRunner creates a runner
func NewRunner(catalog Catalog, src source.FipeSource, store Store, opts Options, log logger.Logger) *Runner {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = &retry.ConstantBackoff{Delay: 2 * time.Second}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Runner{
		catalog: catalog,
		source:  src,
		store:   store,
		opts:    opts,
		logger:  log.WithField("component", "fipe_runner"),
		now:     time.Now,
	}
}

// OnFinish registers fn to be called with each run's summary
func (r *Runner) OnFinish(fn func(Summary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Run values every vehicle in the catalog. It stops early when ctx ends,
// returning the partial summary with ctx's error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if !r.running.TryLock() {
		return Summary{}, ErrRunning
	}
	defer r.running.Unlock()

	now := r.now().In(r.opts.Location)
	summary := Summary{
		RunID:     uuid.New().String(),
		Period:    models.Period(int(now.Month()), now.Year()),
		StartedAt: now,
	}
	log := r.logger.WithFields(map[string]interface{}{"run_id": summary.RunID, "period": summary.Period})

	vehicles, err := r.catalog.ListAll(ctx)
	if err != nil {
		return summary, err
	}
	summary.Vehicles = len(vehicles)
	log.InfoWithFields("Starting valuation run", map[string]interface{}{"vehicles": len(vehicles)})

	var cp *checkpoint.Checkpoint
	if r.opts.Checkpoints != nil {
		cp, err = r.opts.Checkpoints.Open(summary.Period, summary.RunID)
		if err != nil {
			log.WarnWithFields("Checkpoint unavailable, running without resume", map[string]interface{}{
				"error": err.Error(),
			})
			cp = nil
		}
	}

	var runErr error
	for _, v := range vehicles {
		if cp != nil && cp.Done(v.ID.String()) {
			summary.add(Resumed)
			continue
		}
		if err := retry.Wait(ctx, r.opts.Delay); err != nil {
			runErr = err
			break
		}

		state := r.value(ctx, log, v)
		summary.add(state)

		if cp != nil {
			if err := r.opts.Checkpoints.Record(cp, v.ID.String(), string(state)); err != nil {
				log.WarnWithFields("Failed to record checkpoint", map[string]interface{}{
					"vehicle_id": v.ID.String(),
					"error":      err.Error(),
				})
			}
		}
	}

	summary.FinishedAt = r.now().In(r.opts.Location)
	counters := make(map[string]interface{})
	for k, v := range summary.Counters() {
		counters[k] = v
	}
	counters["period"] = summary.Period
	logger.LogRunSummary(log, "valuation", summary.RunID, counters)

	r.mu.Lock()
	observers := append([]func(Summary){}, r.observers...)
	r.mu.Unlock()
	for _, fn := range observers {
		fn(summary)
	}
	return summary, runErr
}

type reading struct {
	month int
	year  int
	price decimal.Decimal
}

// value walks one vehicle through fetch, gate and persist
func (r *Runner) value(ctx context.Context, log logger.Logger, v models.Vehicle) State {
	fields := map[string]interface{}{"vehicle_id": v.ID.String(), "name": v.Name}

	if v.FullURL == "" {
		log.WarnWithFields("Vehicle has no FIPE URL", fields)
		return Failed
	}

	current := r.now().In(r.opts.Location)
	got, err := retry.DoWithResult(func() (reading, error) {
		return r.fetch(ctx, v.FullURL, current)
	}, &retry.Config{
		MaxAttempts: r.opts.MaxAttempts,
		Backoff:     r.opts.Backoff,
		RetryIf: func(err error) bool {
			return !errors.Is(err, errStale) && ctx.Err() == nil
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.DebugWithFields("Retrying valuation fetch", map[string]interface{}{
				"vehicle_id": v.ID.String(),
				"attempt":    attempt,
				"error":      err.Error(),
				"delay":      delay,
			})
		},
		Context: ctx,
		Logger:  log,
	})
	switch {
	case errors.Is(err, errStale):
		fields["reason"] = err.Error()
		log.DebugWithFields("Skipping stale valuation", fields)
		return Skipped
	case err != nil:
		fields["error"] = err.Error()
		log.WarnWithFields("Valuation fetch failed", fields)
		return Failed
	}

	valuation := models.Valuation{VehicleID: v.ID, Month: got.month, Year: got.year, Price: got.price}
	if err := r.store.SaveValuation(ctx, valuation); err != nil {
		fields["error"] = err.Error()
		log.ErrorWithFields("Failed to persist valuation", fields)
		return PersistFailed
	}
	return Persisted
}

// fetch reads and parses the newest row, failing with errStale when the
// row is not for current's month. The month is checked before the price.
func (r *Runner) fetch(ctx context.Context, url string, current time.Time) (reading, error) {
	label, priceText, err := r.source.FetchLatestValuation(ctx, url)
	if err != nil {
		return reading{}, err
	}
	month, year, err := parse.ParseMonthLabel(label)
	if err != nil {
		return reading{}, err
	}
	if month != current.Month() || year != current.Year() {
		return reading{}, fmt.Errorf("%w: got %s", errStale, label)
	}
	price, err := parse.ParseBRL(priceText)
	if err != nil {
		return reading{}, err
	}
	return reading{month: int(month), year: year, price: price}, nil
}
