package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"pricescraper/pkg/logger"
)

// ErrClosed is returned by Acquire after Close
var ErrClosed = errors.New("session pool is closed")

// Pool bounds how many sessions are out at once. Released sessions are
// closed unless reuse is on and the holder reported them healthy.
type Pool struct {
	factory Factory
	size    int
	reuse   bool
	sem     *semaphore.Weighted

	mu     sync.Mutex
	idle   []Session
	inUse  int
	closed bool

	logger logger.Logger
}

// Stats is a snapshot of the pool
type Stats struct {
	Size  int `json:"size"`
	InUse int `json:"in_use"`
	Idle  int `json:"idle"`
}

// NewPool creates a pool of at most size concurrent sessions
func NewPool(factory Factory, size int, reuse bool, log logger.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pool{
		factory: factory,
		size:    size,
		reuse:   reuse,
		sem:     semaphore.NewWeighted(int64(size)),
		logger:  log.WithField("component", "session_pool"),
	}
}

// Acquire blocks until a slot is free or ctx ends, then hands out an idle
// session or a new one
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrClosed
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.mu.Unlock()
		return s, nil
	}
	p.inUse++
	p.mu.Unlock()

	// give the slot back when the factory fails or panics
	opened := false
	defer func() {
		if opened {
			return
		}
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
		p.sem.Release(1)
	}()

	s, err := p.factory.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	opened = true
	p.logger.DebugWithFields("Session opened", map[string]interface{}{"session_id": s.ID()})
	return s, nil
}

// Release gives the slot back. The session is kept for reuse only when
// reuse is on, healthy is true and the pool is still open.
func (p *Pool) Release(s Session, healthy bool) {
	if s == nil {
		return
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	p.inUse--
	keep := p.reuse && healthy && !p.closed
	if keep {
		p.idle = append(p.idle, s)
	}
	p.mu.Unlock()

	if keep {
		return
	}
	if err := s.Close(); err != nil {
		p.logger.WarnWithFields("Failed to close session", map[string]interface{}{
			"session_id": s.ID(),
			"error":      err.Error(),
		})
	}
}

// With runs fn with an exclusive session and releases it however fn
// exits. A non-nil error or a panic marks the session unhealthy.
func (p *Pool) With(ctx context.Context, fn func(Session) error) (err error) {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	healthy := false
	defer func() {
		p.Release(s, healthy)
	}()

	err = fn(s)
	healthy = err == nil
	return err
}

// Close closes idle sessions and refuses further acquires. Sessions still
// out are closed when they come back.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range idle {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Stats reports pool occupancy
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Size: p.size, InUse: p.inUse, Idle: len(p.idle)}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
