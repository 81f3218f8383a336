// Package status serves a read-only view of the engine: liveness, trigger
// times and the last run of each kind.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pricescraper/internal/fipe"
	"pricescraper/internal/orchestrator"
	"pricescraper/internal/pool"
	"pricescraper/internal/scheduler"
	"pricescraper/internal/session"
	"pricescraper/pkg/logger"
)

// Tracker remembers the latest summary of each run kind
type Tracker struct {
	mu        sync.RWMutex
	scrape    *orchestrator.Summary
	valuation *fipe.Summary
}

// RecordScrape stores a finished scrape run
func (t *Tracker) RecordScrape(s orchestrator.Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scrape = &s
}

// RecordValuation stores a finished valuation run
func (t *Tracker) RecordValuation(s fipe.Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.valuation = &s
}

// Last returns copies of the latest summaries, nil when none ran yet
func (t *Tracker) Last() (*orchestrator.Summary, *fipe.Summary) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var scrape *orchestrator.Summary
	var valuation *fipe.Summary
	if t.scrape != nil {
		s := *t.scrape
		scrape = &s
	}
	if t.valuation != nil {
		v := *t.valuation
		valuation = &v
	}
	return scrape, valuation
}

// Sources are the live components the status page reads. Any may be nil.
type Sources struct {
	Scheduler *scheduler.Scheduler
	Sessions  func() session.Stats
	Workers   func() pool.Stats
	Database  func(ctx context.Context) error
	Tracker   *Tracker
}

type schedulerView struct {
	Running bool              `json:"running"`
	Entries []scheduler.Entry `json:"entries"`
}

type statusView struct {
	Scheduler     *schedulerView        `json:"scheduler,omitempty"`
	LastScrape    *orchestrator.Summary `json:"last_scrape"`
	LastValuation *fipe.Summary         `json:"last_valuation"`
	Sessions      *session.Stats        `json:"sessions,omitempty"`
	Workers       *pool.Stats           `json:"workers,omitempty"`
}

// NewRouter builds the status routes
func NewRouter(src Sources, log logger.Logger) http.Handler {
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithField("component", "status")
	if src.Tracker == nil {
		src.Tracker = &Tracker{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		code := http.StatusOK
		if src.Database != nil {
			if err := src.Database(r.Context()); err != nil {
				body["status"] = "degraded"
				body["database"] = err.Error()
				code = http.StatusServiceUnavailable
			} else {
				body["database"] = "ok"
			}
		}
		writeJSON(w, code, body)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		var view statusView
		view.LastScrape, view.LastValuation = src.Tracker.Last()
		if src.Scheduler != nil {
			view.Scheduler = &schedulerView{
				Running: src.Scheduler.Running(),
				Entries: src.Scheduler.Entries(),
			}
		}
		if src.Sessions != nil {
			s := src.Sessions()
			view.Sessions = &s
		}
		if src.Workers != nil {
			s := src.Workers()
			view.Workers = &s
		}
		writeJSON(w, http.StatusOK, view)
	})

	return r
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.LogRequest(log, r.Method, r.URL.Path, ww.Status(), time.Since(start))
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Server wraps the router in an http.Server
type Server struct {
	srv    *http.Server
	logger logger.Logger
}

// NewServer creates a status server listening on addr
func NewServer(addr string, src Sources, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(src, log),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log.WithField("component", "status"),
	}
}

// Run serves until ctx ends, then shuts down within five seconds
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoWithFields("Status server listening", map[string]interface{}{"addr": s.srv.Addr})
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
