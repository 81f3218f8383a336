package ingest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	errs "pricescraper/pkg/errors"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/models"
)

// memoryStore is a price store keyed the same way the remote one is
type memoryStore struct {
	mu       sync.Mutex
	saved    map[string]models.Quote
	existErr error
	saveErr  error
	checks   int
	saves    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saved: make(map[string]models.Quote)}
}

func (m *memoryStore) Exists(ctx context.Context, vehicleID string, price decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if m.existErr != nil {
		return false, m.existErr
	}
	_, ok := m.saved[vehicleID+"|"+price.String()]
	return ok, nil
}

func (m *memoryStore) SaveQuote(ctx context.Context, q models.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[q.DedupKey()] = q
	return nil
}

func quote(price string) models.Quote {
	return models.Quote{
		VehicleID: uuid.MustParse("6f1c1d2e-5b1a-4c3e-9a77-0d7e2b9c1a01"),
		Store:     "Olx",
		Price:     decimal.RequireFromString(price),
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	in := NewDedupIngestor(store, logger.NewNopLogger())

	assert.Equal(t, Persisted, in.Ingest(context.Background(), quote("32500")).Outcome)
	assert.Equal(t, Duplicate, in.Ingest(context.Background(), quote("32500.00")).Outcome)

	other := quote("32500")
	other.Store = "Chaves Na Mão"
	assert.Equal(t, Duplicate, in.Ingest(context.Background(), other).Outcome)

	assert.Equal(t, 1, store.saves)
	assert.Equal(t, Stats{Persisted: 1, Duplicate: 2}, in.Stats())
}

func TestIngestNotFoundPersists(t *testing.T) {
	store := newMemoryStore()
	store.existErr = errs.WithStatus(http.StatusNotFound, "resource not found")
	in := NewDedupIngestor(store, logger.NewNopLogger())

	report := in.Ingest(context.Background(), quote("18999.90"))
	assert.Equal(t, Persisted, report.Outcome)
	assert.NoError(t, report.Err)
	assert.Equal(t, 1, store.saves)
}

func TestIngestOtherCheckErrorsDrop(t *testing.T) {
	for _, checkErr := range []error{
		errs.WithStatus(http.StatusInternalServerError, "server error"),
		errs.WithStatus(http.StatusBadRequest, "bad request"),
		errs.Wrap(errs.ErrorTypeNetwork, errors.New("connection refused"), "GET"),
		errors.New("untyped"),
	} {
		store := newMemoryStore()
		store.existErr = checkErr
		log := logger.NewTestLogger()
		in := NewDedupIngestor(store, log)

		report := in.Ingest(context.Background(), quote("10000"))
		assert.Equal(t, CheckFailed, report.Outcome, checkErr.Error())
		assert.ErrorIs(t, report.Err, checkErr)
		assert.Equal(t, 0, store.saves)
		assert.Len(t, log.GetMessagesByLevel("WARN"), 1)
	}
}

func TestIngestPersistFailureIsNotRetried(t *testing.T) {
	store := newMemoryStore()
	store.saveErr = errs.WithStatus(http.StatusServiceUnavailable, "server error")
	in := NewDedupIngestor(store, logger.NewNopLogger())

	report := in.Ingest(context.Background(), quote("10000"))
	assert.Equal(t, PersistFailed, report.Outcome)
	assert.Error(t, report.Err)
	assert.Equal(t, 1, store.checks)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, int64(1), in.Stats().PersistFailed)
}
