// Package backend performs outbound HTTP calls against resolved section
// endpoints with a bounded time budget. Failures are classified into the
// engine taxonomy — timeout, network, HTTP — and error bodies yield a
// best-effort human-readable message. Requests bypass caches by default.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/translate"
	"github.com/tabwise/datadeck/model"
)

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 10 << 20

// callOptions are per-call overrides of the client defaults.
type callOptions struct {
	allowCache bool
	timeout    time.Duration
}

// CallOption adjusts one backend call.
type CallOption func(*callOptions)

// WithCache allows intermediary caches to answer, overriding the default
// always-revalidate semantics.
func WithCache() CallOption {
	return func(o *callOptions) { o.allowCache = true }
}

// WithTimeout overrides the configured time budget for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// Recorder receives backend call telemetry. Satisfied by
// observability.Metrics; a nil recorder disables recording.
type Recorder interface {
	RecordBackendRequest(section string, status int, duration time.Duration)
	RecordBackendRetry(section string)
	SetBreakerState(section string, state float64)
}

// Client issues requests for one section's backend, with its own breaker
// and budget.
type Client struct {
	section  model.Section
	budget   config.TransportConfig
	http     *http.Client
	breaker  *Breaker
	logger   *zap.Logger
	recorder Recorder
}

// Fetcher hands out per-section clients, creating them on first use so
// breaker state survives across render cycles.
type Fetcher struct {
	defaults config.TransportConfig
	logger   *zap.Logger
	recorder Recorder

	mu      sync.Mutex
	clients map[string]*Client
}

// SetRecorder installs a telemetry recorder. Clients created afterwards
// report their calls; call it before the first ClientFor.
func (f *Fetcher) SetRecorder(rec Recorder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorder = rec
}

// NewFetcher creates a Fetcher with the engine-wide transport defaults.
func NewFetcher(defaults config.TransportConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		defaults: defaults,
		logger:   logger,
		clients:  make(map[string]*Client),
	}
}

// ClientFor returns the client for a section, creating it with the given
// budget on first use. The budget of an existing client is not changed.
func (f *Fetcher) ClientFor(section model.Section, budget config.TransportConfig) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := section.Base()
	if c, ok := f.clients[key]; ok {
		return c
	}

	if budget.Timeout <= 0 {
		budget.Timeout = f.defaults.Timeout
	}
	if budget.Timeout <= 0 {
		budget.Timeout = 20 * time.Second
	}

	c := &Client{
		section: section,
		budget:  budget,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: NewBreaker(
			budget.Breaker.FailureThreshold,
			budget.Breaker.SuccessThreshold,
			budget.Breaker.Timeout,
		),
		logger:   f.logger,
		recorder: f.recorder,
	}
	f.clients[key] = c
	return c
}

// BreakerState exposes the section breaker state for metrics.
func (c *Client) BreakerState() BreakerState { return c.breaker.State() }

// Fetch executes a translated request against the resolved base URL and
// returns the raw response body. The call is bounded by the configured
// time budget; on expiry the in-flight request is cancelled and a
// TimeoutError is returned, so a late completion can never write into
// engine state.
func (c *Client) Fetch(ctx context.Context, baseURL string, shape translate.RequestShape, opts ...CallOption) ([]byte, error) {
	options := callOptions{timeout: c.budget.Timeout}
	for _, opt := range opts {
		opt(&options)
	}

	reqURL, err := buildURL(baseURL, shape)
	if err != nil {
		return nil, err
	}

	var bodyBytes []byte
	if shape.Body != nil {
		bodyBytes, err = json.Marshal(shape.Body)
		if err != nil {
			return nil, fmt.Errorf("backend: marshal body: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, options.timeout)
	defer cancel()

	retry := c.budget.Retry
	maxAttempts := retry.MaxAttempts
	if maxAttempts < 1 || !isIdempotent(shape.Method) {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, c.classify(ctx, reqURL, ctx.Err(), options.timeout)
			case <-time.After(backoffDelay(retry, attempt)):
			}
			c.logger.Debug("retrying backend call",
				zap.String("section", c.section.String()),
				zap.Int("attempt", attempt+1),
			)
			if c.recorder != nil {
				c.recorder.RecordBackendRetry(c.section.Base())
			}
		}

		body, err := c.fetchOnce(ctx, shape.Method, reqURL, bodyBytes, options)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, method, reqURL string, bodyBytes []byte, options callOptions) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, &model.BreakerOpenError{Section: c.section}
	}
	start := time.Now()

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !options.allowCache {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.record(0, start)
		return nil, c.classify(ctx, reqURL, err, options.timeout)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.breaker.RecordFailure()
		c.record(0, start)
		return nil, c.classify(ctx, reqURL, err, options.timeout)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode >= 500 {
			c.breaker.RecordFailure()
		}
		c.record(resp.StatusCode, start)
		return nil, &model.HTTPError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Message:    errorMessage(respBody, resp.StatusCode),
			URL:        reqURL,
		}
	}

	c.breaker.RecordSuccess()
	c.record(resp.StatusCode, start)
	return respBody, nil
}

// record reports one call outcome and the breaker state. Status zero means
// the call never produced a response.
func (c *Client) record(status int, start time.Time) {
	if c.recorder == nil {
		return
	}
	base := c.section.Base()
	c.recorder.RecordBackendRequest(base, status, time.Since(start))
	c.recorder.SetBreakerState(base, float64(c.breaker.State()))
}

// classify folds transport failures into the engine taxonomy. The per-call
// deadline produces a TimeoutError; a cancelled parent context propagates
// unchanged so superseded loads are not misreported as timeouts.
func (c *Client) classify(ctx context.Context, reqURL string, err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &model.TimeoutError{Timeout: timeout, URL: reqURL}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netOp *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &netOp) || errors.As(err, &dnsErr) {
		return &model.NetworkError{URL: reqURL, Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &model.NetworkError{URL: reqURL, Err: urlErr.Err}
	}
	return &model.NetworkError{URL: reqURL, Err: err}
}

// errorMessage extracts a human-readable message from a JSON error body,
// looking under "message" and "error". Any parse failure degrades to the
// status text; this path never panics or errors itself.
func errorMessage(body []byte, status int) string {
	if len(body) > 0 && gjson.ValidBytes(body) {
		root := gjson.ParseBytes(body)
		for _, key := range []string{"message", "error"} {
			if v := root.Get(key); v.Exists() && v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}
	return http.StatusText(status)
}

// buildURL combines the resolved endpoint with the shape's path template,
// substituted path parameters, and encoded query string.
func buildURL(baseURL string, shape translate.RequestShape) (string, error) {
	path := shape.PathTemplate
	for name, value := range shape.PathParams {
		placeholder := "{" + name + "}"
		if !strings.Contains(path, placeholder) {
			return "", fmt.Errorf("backend: path parameter %q has no placeholder in %q", name, path)
		}
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
	}
	if strings.Contains(path, "{") {
		return "", fmt.Errorf("backend: unresolved placeholder in path %q", path)
	}

	result := strings.TrimRight(baseURL, "/") + path
	if len(shape.Query) > 0 {
		result += "?" + shape.Query.Encode()
	}
	return result, nil
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// retryable reports whether a failed call may be retried: 5xx responses
// and network failures are, timeouts, client errors, and open breakers are
// not.
func retryable(err error) bool {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500
	}
	var netErr *model.NetworkError
	return errors.As(err, &netErr)
}

func backoffDelay(cfg config.RetryConfig, attempt int) time.Duration {
	initial := cfg.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = 2 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay > max {
			return max
		}
	}
	return delay
}
