// Package session hands out exclusive scraping sessions from a bounded pool.
package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync/atomic"
	"time"
)

// Session is one isolated browsing context. Scrapers get its HTTP client
// so cookies never leak between units.
type Session interface {
	ID() string
	HTTPClient() *http.Client
	Close() error
}

// Factory opens new sessions
type Factory interface {
	New(ctx context.Context) (Session, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(ctx context.Context) (Session, error)

func (f FactoryFunc) New(ctx context.Context) (Session, error) { return f(ctx) }

// HTTPFactory builds sessions backed by an http.Client with its own cookie jar
type HTTPFactory struct {
	Timeout   time.Duration
	UserAgent string
	Transport http.RoundTripper

	seq atomic.Int64
}

// NewHTTPFactory creates a factory for cookie-isolated HTTP sessions
func NewHTTPFactory(timeout time.Duration, userAgent string) *HTTPFactory {
	return &HTTPFactory{Timeout: timeout, UserAgent: userAgent}
}

// New opens a session. The context is unused since opening is local.
func (f *HTTPFactory) New(ctx context.Context) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	base := f.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	id := fmt.Sprintf("session-%d", f.seq.Add(1))
	return &httpSession{
		id: id,
		client: &http.Client{
			Timeout:   f.Timeout,
			Jar:       jar,
			Transport: &userAgentTransport{base: base, userAgent: f.UserAgent},
		},
	}, nil
}

type httpSession struct {
	id     string
	client *http.Client
}

func (s *httpSession) ID() string               { return s.id }
func (s *httpSession) HTTPClient() *http.Client { return s.client }

func (s *httpSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent == "" || req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}
