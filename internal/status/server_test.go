package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricescraper/internal/fipe"
	"pricescraper/internal/orchestrator"
	"pricescraper/internal/pool"
	"pricescraper/internal/scheduler"
	"pricescraper/internal/session"
	"pricescraper/pkg/logger"
)

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthz(t *testing.T) {
	h := NewRouter(Sources{}, logger.NewNopLogger())
	rec, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "database")
}

func TestHealthzDatabase(t *testing.T) {
	healthy := NewRouter(Sources{Database: func(context.Context) error { return nil }}, logger.NewNopLogger())
	rec, body := get(t, healthy, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["database"])

	broken := NewRouter(Sources{Database: func(context.Context) error { return errors.New("dial tcp: refused") }}, logger.NewNopLogger())
	rec, body = get(t, broken, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "dial tcp: refused", body["database"])
}

func TestStatusBeforeAnyRun(t *testing.T) {
	h := NewRouter(Sources{}, logger.NewNopLogger())
	rec, body := get(t, h, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["last_scrape"])
	assert.Nil(t, body["last_valuation"])
}

func TestStatusReportsComponents(t *testing.T) {
	tracker := &Tracker{}
	tracker.RecordScrape(orchestrator.Summary{RunID: "scrape-1", Completed: 4, Persisted: 3})
	tracker.RecordValuation(fipe.Summary{RunID: "val-1", Period: "2026-03", Persisted: 10, Skipped: 2})

	sched, err := scheduler.New(scheduler.Config{ScrapeInterval: time.Hour, ValuationDay: 2}, nil, nil, logger.NewNopLogger())
	require.NoError(t, err)

	h := NewRouter(Sources{
		Scheduler: sched,
		Sessions:  func() session.Stats { return session.Stats{Size: 4, InUse: 1} },
		Workers:   func() pool.Stats { return pool.Stats{Workers: 4, Queued: 7} },
		Tracker:   tracker,
	}, logger.NewNopLogger())

	_, body := get(t, h, "/status")

	scrape := body["last_scrape"].(map[string]interface{})
	assert.Equal(t, "scrape-1", scrape["run_id"])
	assert.Equal(t, float64(3), scrape["persisted"])

	valuation := body["last_valuation"].(map[string]interface{})
	assert.Equal(t, "2026-03", valuation["period"])

	assert.Equal(t, float64(1), body["sessions"].(map[string]interface{})["in_use"])
	assert.Equal(t, float64(7), body["workers"].(map[string]interface{})["queued"])

	sv := body["scheduler"].(map[string]interface{})
	assert.Equal(t, false, sv["running"])
	assert.Len(t, sv["entries"], 2)
}

func TestUnknownRoute(t *testing.T) {
	h := NewRouter(Sources{}, logger.NewNopLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scrape", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrackerReturnsCopies(t *testing.T) {
	tracker := &Tracker{}
	tracker.RecordScrape(orchestrator.Summary{RunID: "a"})
	s, v := tracker.Last()
	require.NotNil(t, s)
	assert.Nil(t, v)
	s.RunID = "changed"
	again, _ := tracker.Last()
	assert.Equal(t, "a", again.RunID)
}
