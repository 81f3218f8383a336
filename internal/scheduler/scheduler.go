// Package scheduler owns the two process-wide triggers: the fixed-rate
// scrape and the monthly valuation.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pricescraper/pkg/logger"
)

// Job is one triggered run
type Job func(ctx context.Context) error

// Config sets trigger timing
type Config struct {
	ScrapeInterval time.Duration
	ScrapeOnStart  bool
	ValuationDay   int
	ValuationHour  int
	ValuationMin   int
	Location       *time.Location
}

// Entry describes a registered trigger
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

const (
	scrapeEntry    = "scrape"
	valuationEntry = "valuation"
)

// Scheduler fires the scrape job at a fixed rate and the valuation job on a
// day of the month. Scrape runs may overlap; a valuation that would overlap
// a running one is skipped.
type Scheduler struct {
	cron      *cron.Cron
	cfg       Config
	scrape    Job
	valuation Job
	logger    logger.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	stopped bool
	// runs started outside cron: triggers and the startup scrape
	manual sync.WaitGroup
	names   map[cron.EntryID]string
	specs   map[cron.EntryID]string

	scrapeWrapped    cron.Job
	valuationWrapped cron.Job
}

// New builds a scheduler. Nothing fires until Start.
func New(cfg Config, scrape, valuation Job, log logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ScrapeInterval <= 0 {
		return nil, fmt.Errorf("scrape interval must be positive, got %s", cfg.ScrapeInterval)
	}
	if cfg.ValuationDay < 1 || cfg.ValuationDay > 28 {
		return nil, fmt.Errorf("valuation day %d out of range", cfg.ValuationDay)
	}

	log = log.WithField("component", "scheduler")
	adapter := cronLogger{log}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(adapter),
	)

	s := &Scheduler{
		cron:      c,
		cfg:       cfg,
		scrape:    scrape,
		valuation: valuation,
		logger:    log,
		names:     make(map[cron.EntryID]string),
		specs:     make(map[cron.EntryID]string),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.scrapeWrapped = cron.NewChain(cron.Recover(adapter)).Then(s.job(scrapeEntry, scrape))
	s.valuationWrapped = cron.NewChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)).
		Then(s.job(valuationEntry, valuation))

	if err := s.add(scrapeEntry, "@every "+cfg.ScrapeInterval.String(), s.scrapeWrapped); err != nil {
		return nil, err
	}
	monthly := fmt.Sprintf("%d %d %d * *", cfg.ValuationMin, cfg.ValuationHour, cfg.ValuationDay)
	if err := s.add(valuationEntry, monthly, s.valuationWrapped); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, job cron.Job) error {
	id, err := s.cron.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.names[id] = name
	s.specs[id] = spec
	return nil
}

func (s *Scheduler) job(name string, fn Job) cron.Job {
	return cron.FuncJob(func() {
		if fn == nil {
			return
		}
		start := time.Now()
		s.logger.InfoWithFields("Trigger fired", map[string]interface{}{"job": name})
		if err := fn(s.ctx); err != nil {
			s.logger.ErrorWithFields("Triggered job failed", map[string]interface{}{
				"job":      name,
				"error":    err.Error(),
				"duration": time.Since(start),
			})
		}
	})
}

// Start begins firing triggers; with ScrapeOnStart a scrape runs at once
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.running = true
	s.cron.Start()

	logger.LogComponentStart(s.logger, "scheduler", map[string]interface{}{
		"scrape_interval": s.cfg.ScrapeInterval.String(),
		"valuation_day":   s.cfg.ValuationDay,
		"location":        s.cfg.Location.String(),
	})
	if s.cfg.ScrapeOnStart {
		s.goLocked(s.scrapeWrapped)
	}
}

// Stop stops firing and waits for running jobs, including triggered ones.
// When ctx ends first the jobs' context is cancelled and ctx's error is
// returned. A stopped scheduler cannot be restarted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.running = false
	s.mu.Unlock()

	cronStopped := s.cron.Stop()
	drained := make(chan struct{})
	go func() {
		<-cronStopped.Done()
		s.manual.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.cancel()
		logger.LogComponentStop(s.logger, "scheduler", "stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		logger.LogComponentStop(s.logger, "scheduler", "stop deadline exceeded")
		return ctx.Err()
	}
}

// Running reports whether triggers are live
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerScrape runs the scrape job now, in the background. It reports
// false once the scheduler is stopped.
func (s *Scheduler) TriggerScrape() bool {
	return s.trigger(scrapeEntry, s.scrapeWrapped)
}

// TriggerValuation runs the valuation job now, in the background. It is
// skipped when a valuation is already running, and refused once the
// scheduler is stopped.
func (s *Scheduler) TriggerValuation() bool {
	return s.trigger(valuationEntry, s.valuationWrapped)
}

func (s *Scheduler) trigger(name string, job cron.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.WarnWithFields("Trigger refused, scheduler stopped", map[string]interface{}{"job": name})
		return false
	}
	s.goLocked(job)
	return true
}

// goLocked runs job in a tracked goroutine; s.mu must be held so Stop
// cannot start waiting between the check and the Add
func (s *Scheduler) goLocked(job cron.Job) {
	s.manual.Add(1)
	go func() {
		defer s.manual.Done()
		job.Run()
	}()
}

// Entries lists the triggers with their next and previous fire times
func (s *Scheduler) Entries() []Entry {
	var out []Entry
	for _, e := range s.cron.Entries() {
		out = append(out, Entry{
			Name: s.names[e.ID],
			Spec: s.specs[e.ID],
			Next: e.Next,
			Prev: e.Prev,
		})
	}
	return out
}

// cronLogger routes cron's own logging through our logger
type cronLogger struct {
	l logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.DebugWithFields(msg, kv(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kv(keysAndValues)
	fields["error"] = err.Error()
	c.l.ErrorWithFields(msg, fields)
}

func kv(pairs []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return fields
}
