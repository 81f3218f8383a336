package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pricescraper/internal/ingest"
	"pricescraper/pkg/logger"
)

// UnitResult is the outcome of one (vehicle, source) unit
type UnitResult struct {
	VehicleID uuid.UUID
	Source    string
	Quotes    int
	// Empty is set when the source had nothing to extract
	Empty    bool
	Outcomes map[ingest.Outcome]int
	Err      error
	Duration time.Duration
}

// Summary totals a run
type Summary struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Vehicles      int       `json:"vehicles"`
	Sources       int       `json:"sources"`
	Expected      int       `json:"expected"`
	Submitted     int       `json:"submitted"`
	Completed     int       `json:"completed"`
	Failed        int       `json:"failed"`
	Empty         int       `json:"empty"`
	Quotes        int       `json:"quotes"`
	Persisted     int       `json:"persisted"`
	Duplicate     int       `json:"duplicate"`
	CheckFailed   int       `json:"check_failed"`
	PersistFailed int       `json:"persist_failed"`
}

// Counters flattens the summary for logs and terminal output
func (s Summary) Counters() map[string]int {
	return map[string]int{
		"units_expected":  s.Expected,
		"units_submitted": s.Submitted,
		"units_completed": s.Completed,
		"units_failed":    s.Failed,
		"units_empty":     s.Empty,
		"quotes":          s.Quotes,
		"persisted":       s.Persisted,
		"duplicate":       s.Duplicate,
		"check_failed":    s.CheckFailed,
		"persist_failed":  s.PersistFailed,
	}
}

// Run tracks one dispatched scrape. Results receives exactly one entry per
// submitted unit and is closed once they have all arrived.
type Run struct {
	results    chan UnitResult
	dispatched chan struct{}
	done       chan struct{}

	mu             sync.Mutex
	summary        Summary
	dispatchClosed bool
	onFinish       func(Summary)
	logger         logger.Logger
}

func newRun(vehicles, sources int, log logger.Logger, onFinish func(Summary)) *Run {
	expected := vehicles * sources
	id := uuid.New().String()
	return &Run{
		results:    make(chan UnitResult, expected),
		dispatched: make(chan struct{}),
		done:       make(chan struct{}),
		summary: Summary{
			RunID:     id,
			StartedAt: time.Now(),
			Vehicles:  vehicles,
			Sources:   sources,
			Expected:  expected,
		},
		onFinish: onFinish,
		logger:   log.WithField("run_id", id),
	}
}

// ID identifies the run in logs
func (r *Run) ID() string { return r.summary.RunID }

// Dispatched is closed once every unit has been submitted or submission
// has stopped
func (r *Run) Dispatched() <-chan struct{} { return r.dispatched }

// Done is closed when every submitted unit has reported
func (r *Run) Done() <-chan struct{} { return r.done }

// Results streams per-unit outcomes
func (r *Run) Results() <-chan UnitResult { return r.results }

// Wait blocks until the run is done or ctx ends
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Summary returns the totals so far
func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *Run) submitted() {
	r.mu.Lock()
	r.summary.Submitted++
	r.mu.Unlock()
}

func (r *Run) closeDispatch() {
	r.mu.Lock()
	r.dispatchClosed = true
	close(r.dispatched)
	finished := r.summary.Completed == r.summary.Submitted
	r.mu.Unlock()

	if finished {
		r.finish()
	}
}

func (r *Run) complete(res UnitResult) {
	r.mu.Lock()
	s := &r.summary
	s.Completed++
	s.Quotes += res.Quotes
	switch {
	case res.Err != nil:
		s.Failed++
	case res.Empty:
		s.Empty++
	}
	s.Persisted += res.Outcomes[ingest.Persisted]
	s.Duplicate += res.Outcomes[ingest.Duplicate]
	s.CheckFailed += res.Outcomes[ingest.CheckFailed]
	s.PersistFailed += res.Outcomes[ingest.PersistFailed]
	r.results <- res
	finished := r.dispatchClosed && s.Completed == s.Submitted
	r.mu.Unlock()

	if finished {
		r.finish()
	}
}

func (r *Run) finish() {
	r.mu.Lock()
	r.summary.FinishedAt = time.Now()
	summary := r.summary
	close(r.results)
	close(r.done)
	r.mu.Unlock()

	counters := make(map[string]interface{})
	for k, v := range summary.Counters() {
		counters[k] = v
	}
	counters["duration"] = summary.FinishedAt.Sub(summary.StartedAt)
	logger.LogRunSummary(r.logger, "scrape", summary.RunID, counters)

	if r.onFinish != nil {
		r.onFinish(summary)
	}
}
