package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricescraper/pkg/logger"
)

type fakeSession struct {
	id     string
	closed atomic.Bool
}

func (s *fakeSession) ID() string               { return s.id }
func (s *fakeSession) HTTPClient() *http.Client { return http.DefaultClient }
func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type countingFactory struct {
	opened atomic.Int32
	fail   error
	mu     sync.Mutex
	all    []*fakeSession
}

func (f *countingFactory) New(ctx context.Context) (Session, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	n := f.opened.Add(1)
	s := &fakeSession{id: fmt.Sprintf("s%d", n)}
	f.mu.Lock()
	f.all = append(f.all, s)
	f.mu.Unlock()
	return s, nil
}

func TestAcquireReleaseFresh(t *testing.T) {
	factory := &countingFactory{}
	pool := NewPool(factory, 2, false, logger.NewNopLogger())

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Size: 2, InUse: 1, Idle: 0}, pool.Stats())

	pool.Release(s, true)
	assert.True(t, s.(*fakeSession).closed.Load())
	assert.Equal(t, Stats{Size: 2, InUse: 0, Idle: 0}, pool.Stats())

	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), factory.opened.Load())
}

func TestReuseKeepsHealthySessions(t *testing.T) {
	factory := &countingFactory{}
	pool := NewPool(factory, 1, true, logger.NewNopLogger())

	s1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(s1, true)
	assert.Equal(t, 1, pool.Stats().Idle)

	s2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	pool.Release(s2, false)
	assert.True(t, s2.(*fakeSession).closed.Load())
	assert.Equal(t, 0, pool.Stats().Idle)
	assert.Equal(t, int32(1), factory.opened.Load())
}

func TestAcquireBlocksUntilReleaseOrContext(t *testing.T) {
	pool := NewPool(&countingFactory{}, 1, false, logger.NewNopLogger())

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	got := make(chan Session, 1)
	go func() {
		s, err := pool.Acquire(context.Background())
		if err == nil {
			got <- s
		}
	}()
	pool.Release(held, true)

	select {
	case s := <-got:
		assert.NotNil(t, s)
	case <-time.After(time.Second):
		t.Fatal("waiting acquire was never served")
	}
}

func TestConcurrentUseIsBounded(t *testing.T) {
	pool := NewPool(&countingFactory{}, 3, false, logger.NewNopLogger())

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.With(context.Background(), func(Session) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 0, pool.Stats().InUse)
}

func TestWithReleasesOnErrorAndPanic(t *testing.T) {
	factory := &countingFactory{}
	pool := NewPool(factory, 1, true, logger.NewNopLogger())

	err := pool.With(context.Background(), func(Session) error { return errors.New("boom") })
	assert.EqualError(t, err, "boom")
	assert.Equal(t, Stats{Size: 1}, pool.Stats())

	assert.Panics(t, func() {
		_ = pool.With(context.Background(), func(Session) error { panic("kaboom") })
	})
	assert.Equal(t, Stats{Size: 1}, pool.Stats())

	for _, s := range factory.all {
		assert.True(t, s.closed.Load(), s.id)
	}
}

func TestFactoryFailureFreesSlot(t *testing.T) {
	pool := NewPool(&countingFactory{fail: errors.New("no browser")}, 1, false, logger.NewNopLogger())

	_, err := pool.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser")
	assert.Equal(t, 0, pool.Stats().InUse)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFactoryPanicFreesSlot(t *testing.T) {
	var calls atomic.Int32
	factory := FactoryFunc(func(ctx context.Context) (Session, error) {
		if calls.Add(1) == 1 {
			panic("browser crashed on launch")
		}
		return &fakeSession{id: "second"}, nil
	})
	pool := NewPool(factory, 1, false, logger.NewNopLogger())

	assert.Panics(t, func() { _, _ = pool.Acquire(context.Background()) })
	assert.Equal(t, Stats{Size: 1}, pool.Stats())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", s.ID())
	pool.Release(s, true)
}

func TestCloseClosesIdleAndLateReleases(t *testing.T) {
	factory := &countingFactory{}
	pool := NewPool(factory, 2, true, logger.NewNopLogger())

	idle, _ := pool.Acquire(context.Background())
	out, _ := pool.Acquire(context.Background())
	pool.Release(idle, true)

	require.NoError(t, pool.Close())
	assert.True(t, idle.(*fakeSession).closed.Load())
	assert.False(t, out.(*fakeSession).closed.Load())

	pool.Release(out, true)
	assert.True(t, out.(*fakeSession).closed.Load())

	_, err := pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHTTPFactoryIsolatesCookies(t *testing.T) {
	var agents []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		if _, err := r.Cookie("sid"); err != nil {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
			w.Write([]byte("new"))
			return
		}
		w.Write([]byte("known"))
	}))
	defer server.Close()

	factory := NewHTTPFactory(time.Second, "pricescraper-test")
	a, err := factory.New(context.Background())
	require.NoError(t, err)
	b, err := factory.New(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	body := func(s Session) string {
		resp, err := s.HTTPClient().Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		buf := make([]byte, 16)
		n, _ := resp.Body.Read(buf)
		return string(buf[:n])
	}

	assert.Equal(t, "new", body(a))
	assert.Equal(t, "known", body(a))
	assert.Equal(t, "new", body(b))
	assert.NoError(t, a.Close())

	for _, ua := range agents {
		assert.Equal(t, "pricescraper-test", ua)
	}
}
