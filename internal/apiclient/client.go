// Package apiclient is the JSON-over-HTTP plumbing shared by the catalog,
// price store and remote extraction clients.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "pricescraper/pkg/errors"
	"pricescraper/pkg/logger"
	"pricescraper/pkg/ratelimit"
)

const maxErrorPreview = 200

// Client talks JSON to one collaborator
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter throttles every request through l
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithHeader adds a default header
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// New creates a client for baseURL
func New(baseURL string, timeout time.Duration, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers: map[string]string{
			"Accept":     "application/json",
			"User-Agent": "pricescraper/1.0",
		},
		limiter: ratelimit.Unlimited{},
		logger:  log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the collaborator root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Using returns a copy of c that sends through hc. Headers, limiter and
// logger are shared.
func (c *Client) Using(hc *http.Client) *Client {
	cp := *c
	cp.httpClient = hc
	return &cp
}

// GetJSON issues GET base+path?query and decodes the body into target
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, target interface{}) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, target)
}

// PostJSON encodes body, POSTs it to base+path and decodes the response
// into target when target is non-nil
func (c *Client) PostJSON(ctx context.Context, path string, body, target interface{}) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, target)
}

// Do performs one request. Non-2xx answers become typed errors carrying the
// status code; transport failures are typed network errors.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, target interface{}) error {
	endpoint := c.resolve(path, query)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.ErrorTypeUnknown, err, "encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, err, "build request")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.ErrorTypeRateLimit, err, "waiting for rate limiter")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"url":      endpoint,
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return errs.Wrap(errs.ErrorTypeNetwork, err, fmt.Sprintf("%s %s", method, endpoint))
	}
	defer resp.Body.Close()

	logger.LogRequest(c.logger, method, endpoint, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "read response body")
	}

	if err := checkResponseStatus(resp.StatusCode, data); err != nil {
		return err
	}

	if target == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          endpoint,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview(data),
		})
		return errs.Wrap(errs.ErrorTypeParsing, err, "decode response from "+endpoint)
	}
	return nil
}

func (c *Client) resolve(path string, query url.Values) string {
	endpoint := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		endpoint = c.baseURL + path
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + query.Encode()
	}
	return endpoint
}

// checkResponseStatus maps HTTP statuses onto typed errors
func checkResponseStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var msg string
	switch {
	case status == http.StatusNotFound:
		msg = "resource not found"
	case status == http.StatusTooManyRequests:
		msg = "rate limit exceeded"
	case status >= 500:
		msg = "server error"
	default:
		msg = fmt.Sprintf("unexpected status code: %d", status)
	}
	if p := preview(body); p != "" {
		msg += ": " + p
	}
	return errs.WithStatus(status, msg)
}

func preview(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorPreview {
		s = s[:maxErrorPreview] + "..."
	}
	return s
}

// StatusCode extracts the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var typed *errs.Error
	if !errors.As(err, &typed) {
		return 0
	}
	return typed.Code
}
