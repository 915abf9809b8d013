package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/translate"
	"github.com/tabwise/datadeck/model"
)

func testBudget() config.TransportConfig {
	return config.TransportConfig{
		Timeout: 2 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:    1,
			BackoffInitial: time.Millisecond,
			BackoffMax:     5 * time.Millisecond,
		},
		Breaker: config.BreakerConfig{
			FailureThreshold: 100,
			SuccessThreshold: 1,
			Timeout:          time.Second,
		},
	}
}

func newClient(t *testing.T, budget config.TransportConfig) *Client {
	t.Helper()
	return NewFetcher(budget, nil).ClientFor("products", budget)
}

func getShape(q url.Values) translate.RequestShape {
	return translate.RequestShape{Method: http.MethodGet, Query: q}
}

func TestFetch_success(t *testing.T) {
	var gotPath, gotQuery, gotCache string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotCache = r.Header.Get("Cache-Control")
		w.Write([]byte(`{"items":[{"id":1}],"total":1}`))
	}))
	defer srv.Close()

	c := newClient(t, testBudget())
	shape := getShape(url.Values{"status": {"approved"}})
	shape.PathTemplate = "/v1/products"

	body, err := c.Fetch(context.Background(), srv.URL, shape)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(body) == 0 {
		t.Error("empty body")
	}
	if gotPath != "/v1/products" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "status=approved" {
		t.Errorf("query = %q", gotQuery)
	}
	// Cache-bypass semantics by default.
	if gotCache != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", gotCache)
	}
}

func TestFetch_withCacheOverride(t *testing.T) {
	var gotCache string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCache = r.Header.Get("Cache-Control")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newClient(t, testBudget())
	if _, err := c.Fetch(context.Background(), srv.URL, getShape(nil), WithCache()); err != nil {
		t.Fatal(err)
	}
	if gotCache != "" {
		t.Errorf("Cache-Control = %q, want unset with WithCache", gotCache)
	}
}

func TestFetch_pathParamSubstitution(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newClient(t, testBudget())
	shape := getShape(nil)
	shape.PathTemplate = "/users/{userId}/sessions"
	shape.PathParams = map[string]string{"userId": "u 7"}

	if _, err := c.Fetch(context.Background(), srv.URL, shape); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/users/u 7/sessions" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestFetch_httpErrorWithMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"status must be one of approved, rejected"}`))
	}))
	defer srv.Close()

	c := newClient(t, testBudget())
	_, err := c.Fetch(context.Background(), srv.URL, getShape(nil))

	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want HTTPError", err)
	}
	if httpErr.Status != 422 {
		t.Errorf("Status = %d", httpErr.Status)
	}
	if httpErr.Message != "status must be one of approved, rejected" {
		t.Errorf("Message = %q", httpErr.Message)
	}
}

func TestFetch_httpErrorBadBodyDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>gateway`))
	}))
	defer srv.Close()

	c := newClient(t, testBudget())
	_, err := c.Fetch(context.Background(), srv.URL, getShape(nil))

	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want HTTPError", err)
	}
	if httpErr.Message != "Bad Gateway" {
		t.Errorf("Message = %q, want the status text", httpErr.Message)
	}
}

func TestFetch_timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(t, testBudget())
	start := time.Now()
	_, err := c.Fetch(context.Background(), srv.URL, getShape(nil), WithTimeout(50*time.Millisecond))

	var timeoutErr *model.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %v, want TimeoutError", err)
	}
	if timeoutErr.Timeout != 50*time.Millisecond {
		t.Errorf("Timeout = %v, want 50ms", timeoutErr.Timeout)
	}
	// The request was aborted at the budget, not at the server's leisure.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Fetch took %v, request was not cancelled at the deadline", elapsed)
	}
}

func TestFetch_cancelledContextIsNotATimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := newClient(t, testBudget())
	_, err := c.Fetch(ctx, srv.URL, getShape(nil))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled to propagate unchanged", err)
	}
}

func TestFetch_networkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c := newClient(t, testBudget())
	_, err := c.Fetch(context.Background(), srv.URL, getShape(nil))

	var netErr *model.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want NetworkError", err)
	}
}

func TestFetch_retriesServerErrorsOnGet(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	budget := testBudget()
	budget.Retry.MaxAttempts = 3

	c := newClient(t, budget)
	if _, err := c.Fetch(context.Background(), srv.URL, getShape(nil)); err != nil {
		t.Fatalf("Fetch() error = %v after retries", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetch_doesNotRetryPost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	budget := testBudget()
	budget.Retry.MaxAttempts = 3

	c := newClient(t, budget)
	shape := translate.RequestShape{Method: http.MethodPost, Body: map[string]any{"env": "dev"}}
	_, err := c.Fetch(context.Background(), srv.URL, shape)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, POST must not retry", calls.Load())
	}
}

func TestFetch_doesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	budget := testBudget()
	budget.Retry.MaxAttempts = 3

	c := newClient(t, budget)
	if _, err := c.Fetch(context.Background(), srv.URL, getShape(nil)); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, 4xx must not retry", calls.Load())
	}
}

func TestFetch_breakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	budget := testBudget()
	budget.Breaker.FailureThreshold = 2

	c := newClient(t, budget)
	for i := 0; i < 2; i++ {
		var httpErr *model.HTTPError
		if _, err := c.Fetch(context.Background(), srv.URL, getShape(nil)); !errors.As(err, &httpErr) {
			t.Fatalf("call %d error = %v, want HTTPError", i, err)
		}
	}

	_, err := c.Fetch(context.Background(), srv.URL, getShape(nil))
	var open *model.BreakerOpenError
	if !errors.As(err, &open) {
		t.Fatalf("error = %v, want BreakerOpenError", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, open breaker must not reach the backend", calls.Load())
	}
}

func TestBreaker_halfOpenRecovery(t *testing.T) {
	b := NewBreaker(1, 1, 10*time.Millisecond)

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("breaker should open after one failure at threshold 1")
	}
	if b.Allow() {
		t.Fatal("open breaker must reject")
	}

	time.Sleep(15 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker past its timeout should allow a probe")
	}
	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Error("successful probe should close the breaker")
	}
}

func TestFetcher_reusesClientPerSection(t *testing.T) {
	f := NewFetcher(testBudget(), nil)
	a := f.ClientFor("products", testBudget())
	b := f.ClientFor("developer/products", testBudget())
	if a != b {
		t.Error("sections sharing a base name should share a client and breaker")
	}
}
