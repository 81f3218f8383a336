package fipe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricescraper/pkg/checkpoint"
	errs "pricescraper/pkg/errors"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/models"
	"pricescraper/pkg/retry"
)

var saoPaulo, _ = time.LoadLocation("America/Sao_Paulo")

type row struct {
	label string
	price string
	err   error
}

// scriptedSource answers each URL with its rows in order, repeating the last
type scriptedSource struct {
	mu    sync.Mutex
	rows  map[string][]row
	calls map[string]int
}

func newScriptedSource(rows map[string][]row) *scriptedSource {
	return &scriptedSource{rows: rows, calls: make(map[string]int)}
}

func (s *scriptedSource) FetchLatestValuation(ctx context.Context, url string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	script := s.rows[url]
	n := s.calls[url]
	s.calls[url]++
	if len(script) == 0 {
		return "", "", errs.Extraction("no table")
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	r := script[n]
	return r.label, r.price, r.err
}

func (s *scriptedSource) callsFor(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

type memoryStore struct {
	mu    sync.Mutex
	saved []models.Valuation
	err   error
	calls int
}

func (m *memoryStore) SaveValuation(ctx context.Context, v models.Valuation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, v)
	return nil
}

type listCatalog []models.Vehicle

func (l listCatalog) ListAll(ctx context.Context) ([]models.Vehicle, error) { return l, nil }

func vehicle(url string) models.Vehicle {
	return models.Vehicle{ID: uuid.New(), Name: url, FullURL: url}
}

func newRunner(catalog Catalog, src *scriptedSource, store Store, opts Options) *Runner {
	opts.Backoff = &retry.ConstantBackoff{}
	opts.Location = saoPaulo
	r := NewRunner(catalog, src, store, opts, logger.NewNopLogger())
	r.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, saoPaulo) }
	return r
}

func TestRunPersistsCurrentMonth(t *testing.T) {
	v := vehicle("https://fipe/palio")
	src := newScriptedSource(map[string][]row{v.FullURL: {{label: "Março/2026", price: "R$ 41.234,00"}}})
	store := &memoryStore{}

	summary, err := newRunner(listCatalog{v}, src, store, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted)
	assert.Equal(t, "2026-03", summary.Period)

	require.Len(t, store.saved, 1)
	assert.Equal(t, v.ID, store.saved[0].VehicleID)
	assert.Equal(t, 3, store.saved[0].Month)
	assert.Equal(t, 2026, store.saved[0].Year)
	assert.Equal(t, "41234", store.saved[0].Price.String())
}

func TestStaleMonthIsSkippedWithoutRetry(t *testing.T) {
	v := vehicle("https://fipe/uno")
	src := newScriptedSource(map[string][]row{v.FullURL: {{label: "fevereiro/2026", price: "R$ 20.000,00"}}})
	store := &memoryStore{}

	summary, err := newRunner(listCatalog{v}, src, store, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, src.callsFor(v.FullURL))
	assert.Equal(t, 0, store.calls)
}

func TestFreshnessUsesConfiguredTimezone(t *testing.T) {
	v := vehicle("https://fipe/gol")
	src := newScriptedSource(map[string][]row{v.FullURL: {{label: "MARÇO/2026", price: "R$ 30.000,00"}}})
	store := &memoryStore{}

	r := newRunner(listCatalog{v}, src, store, Options{})
	// already April in UTC, still March in São Paulo
	r.now = func() time.Time { return time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC) }

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted)
	assert.Equal(t, "2026-03", summary.Period)
}

func TestFetchFailureUsesExactlyMaxAttempts(t *testing.T) {
	v := vehicle("https://fipe/broken")
	src := newScriptedSource(map[string][]row{v.FullURL: {{err: errors.New("timeout")}}})
	store := &memoryStore{}

	summary, err := newRunner(listCatalog{v}, src, store, Options{MaxAttempts: 3}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, src.callsFor(v.FullURL))
	assert.Equal(t, 0, store.calls)
}

func TestParseFailureIsRetriedThenSucceeds(t *testing.T) {
	v := vehicle("https://fipe/flaky")
	src := newScriptedSource(map[string][]row{v.FullURL: {
		{label: "Març/2026", price: "R$ 1,00"},
		{label: "março/2026", price: "consulte"},
		{label: "mar/26", price: "R$ 12.500,50"},
	}})
	store := &memoryStore{}

	summary, err := newRunner(listCatalog{v}, src, store, Options{MaxAttempts: 3}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted)
	assert.Equal(t, 3, src.callsFor(v.FullURL))
	assert.Equal(t, "12500.5", store.saved[0].Price.String())
}

func TestMissingURLFailsWithoutFetching(t *testing.T) {
	src := newScriptedSource(nil)
	summary, err := newRunner(listCatalog{{ID: uuid.New(), Name: "no url"}}, src, &memoryStore{}, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, src.calls)
}

func TestPersistFailureIsNotRetried(t *testing.T) {
	v := vehicle("https://fipe/palio")
	src := newScriptedSource(map[string][]row{v.FullURL: {{label: "Março/2026", price: "R$ 41.234,00"}}})
	store := &memoryStore{err: errors.New("price service down")}

	summary, err := newRunner(listCatalog{v}, src, store, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PersistFailed)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 1, src.callsFor(v.FullURL))
}

func TestOneVehicleFailingDoesNotStopTheRun(t *testing.T) {
	bad := vehicle("https://fipe/bad")
	good := vehicle("https://fipe/good")
	src := newScriptedSource(map[string][]row{
		bad.FullURL:  {{err: errors.New("boom")}},
		good.FullURL: {{label: "Março/2026", price: "R$ 10.000,00"}},
	})

	summary, err := newRunner(listCatalog{bad, good}, src, &memoryStore{}, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1, Persisted: 1, Vehicles: 2}, Summary{
		Failed: summary.Failed, Persisted: summary.Persisted, Vehicles: summary.Vehicles,
	})
}

func TestResumeSkipsPersistedVehicles(t *testing.T) {
	done := vehicle("https://fipe/done")
	todo := vehicle("https://fipe/todo")
	src := newScriptedSource(map[string][]row{
		done.FullURL: {{label: "Março/2026", price: "R$ 10.000,00"}},
		todo.FullURL: {{label: "Março/2026", price: "R$ 20.000,00"}},
	})

	manager, err := checkpoint.NewManager(t.TempDir(), logger.NewNopLogger())
	require.NoError(t, err)
	cp, err := manager.Open("2026-03", "earlier-run")
	require.NoError(t, err)
	require.NoError(t, manager.Record(cp, done.ID.String(), checkpoint.OutcomePersisted))
	require.NoError(t, manager.Record(cp, todo.ID.String(), string(Failed)))

	store := &memoryStore{}
	summary, err := newRunner(listCatalog{done, todo}, src, store, Options{Checkpoints: manager}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Resumed)
	assert.Equal(t, 1, summary.Persisted)
	assert.Equal(t, 0, src.callsFor(done.FullURL))

	reloaded, err := manager.Load("2026-03")
	require.NoError(t, err)
	assert.True(t, reloaded.Done(todo.ID.String()))
	assert.Equal(t, 2, reloaded.Persisted)
}

func TestCancelledRunStopsEarly(t *testing.T) {
	vs := listCatalog{vehicle("https://fipe/a"), vehicle("https://fipe/b")}
	src := newScriptedSource(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := newRunner(vs, src, &memoryStore{}, Options{Delay: time.Second}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, summary.Failed+summary.Persisted)
}

func TestRunsAreSerialized(t *testing.T) {
	r := newRunner(listCatalog{}, newScriptedSource(nil), &memoryStore{}, Options{})
	r.running.Lock()
	_, err := r.Run(context.Background())
	r.running.Unlock()
	assert.ErrorIs(t, err, ErrRunning)

	var seen Summary
	r.OnFinish(func(s Summary) { seen = s })
	_, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, seen.RunID)
}
