// Package ingest forwards scraped quotes to the price store, skipping the
// ones it already holds.
package ingest

import (
	"context"
	"sync/atomic"

	"github.com/shopspring/decimal"

	errs "pricescraper/pkg/errors"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/models"
)

// Outcome is what happened to one quote
type Outcome string

const (
	Persisted     Outcome = "persisted"
	Duplicate     Outcome = "duplicate"
	CheckFailed   Outcome = "check_failed"
	PersistFailed Outcome = "persist_failed"
)

// Store is the remote price store as seen by the ingestor
type Store interface {
	Exists(ctx context.Context, vehicleID string, price decimal.Decimal) (bool, error)
	SaveQuote(ctx context.Context, q models.Quote) error
}

// Report is the result of ingesting one quote
type Report struct {
	Outcome Outcome
	Err     error
}

// Stats counts outcomes since the ingestor was created
type Stats struct {
	Persisted     int64 `json:"persisted"`
	Duplicate     int64 `json:"duplicate"`
	CheckFailed   int64 `json:"check_failed"`
	PersistFailed int64 `json:"persist_failed"`
}

// DedupIngestor checks each quote against the store and saves the new ones.
// Check and save are two calls, so two concurrent ingests of the same quote
// can both save it.
type DedupIngestor struct {
	store  Store
	logger logger.Logger

	persisted     atomic.Int64
	duplicate     atomic.Int64
	checkFailed   atomic.Int64
	persistFailed atomic.Int64
}

// NewDedupIngestor creates an ingestor over store
func NewDedupIngestor(store Store, log logger.Logger) *DedupIngestor {
	if log == nil {
		log = logger.GetLogger()
	}
	return &DedupIngestor{store: store, logger: log.WithField("component", "ingestor")}
}

// Ingest runs the check-then-persist protocol for q. A not_found answer to
// the check means the vehicle has no prices yet and q is saved; any other
// check error drops q. Nothing is retried.
func (in *DedupIngestor) Ingest(ctx context.Context, q models.Quote) Report {
	fields := map[string]interface{}{
		"vehicle_id": q.VehicleID.String(),
		"store":      q.Store,
		"price":      q.Price.String(),
	}

	exists, err := in.store.Exists(ctx, q.VehicleID.String(), q.Price)
	switch {
	case err != nil && !errs.IsNotFound(err):
		in.checkFailed.Add(1)
		fields["error"] = err.Error()
		in.logger.WarnWithFields("Price check failed, dropping quote", fields)
		return Report{Outcome: CheckFailed, Err: err}
	case err == nil && exists:
		in.duplicate.Add(1)
		in.logger.DebugWithFields("Quote already recorded", fields)
		return Report{Outcome: Duplicate}
	}

	if err := in.store.SaveQuote(ctx, q); err != nil {
		in.persistFailed.Add(1)
		fields["error"] = err.Error()
		in.logger.ErrorWithFields("Failed to persist quote", fields)
		return Report{Outcome: PersistFailed, Err: err}
	}

	in.persisted.Add(1)
	in.logger.DebugWithFields("Quote persisted", fields)
	return Report{Outcome: Persisted}
}

// Stats returns the outcome counters
func (in *DedupIngestor) Stats() Stats {
	return Stats{
		Persisted:     in.persisted.Load(),
		Duplicate:     in.duplicate.Load(),
		CheckFailed:   in.checkFailed.Load(),
		PersistFailed: in.persistFailed.Load(),
	}
}
