package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend is a configurable HTTP test server standing in for a section's
// backend service. It allows configuring per-route responses and records all
// received requests for later assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server

	mu         sync.RWMutex
	routes     map[string]*routeConfig
	receivedBy map[string][]*RecordedRequest
}

// RecordedRequest captures one request received by the mock backend.
type RecordedRequest struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Headers     http.Header
	Body        map[string]any
	ReceivedAt  time.Time
}

// routeConfig holds the configured response sequence for one route. Once the
// sequence is exhausted the last response repeats.
type routeConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status    int
	body      any
	delay     time.Duration
	connError bool
}

// RouteMock is a builder for configuring responses for one route.
type RouteMock struct {
	backend *MockBackend
	path    string
}

// NewMockBackend creates a mock backend and starts its HTTP test server.
// Routes are matched on path only; query strings carry the listing window.
func NewMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:          t,
		routes:     make(map[string]*routeConfig),
		receivedBy: make(map[string][]*RecordedRequest),
	}

	// Keep-alives are off so every request arrives on a fresh connection.
	// On a reused connection, a hijack-close is transparently replayed by
	// net/http's idempotent retry and the simulated error never surfaces.
	mb.server = httptest.NewUnstartedServer(http.HandlerFunc(mb.handle))
	mb.server.Config.SetKeepAlivesEnabled(false)
	mb.server.Start()
	t.Cleanup(mb.server.Close)
	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// OnPath returns a builder for configuring responses for the given path.
func (mb *MockBackend) OnPath(path string) *RouteMock {
	return &RouteMock{backend: mb, path: path}
}

// RespondWith appends a response with the given status and JSON body.
func (rm *RouteMock) RespondWith(status int, body any) *RouteMock {
	rm.backend.addResponse(rm.path, &mockResponse{status: status, body: body})
	return rm
}

// RespondWithDelay appends a delayed response to simulate a slow backend.
func (rm *RouteMock) RespondWithDelay(delay time.Duration, status int, body any) *RouteMock {
	rm.backend.addResponse(rm.path, &mockResponse{status: status, body: body, delay: delay})
	return rm
}

// RespondWithConnectionError appends a response that closes the connection
// to simulate an unreachable backend.
func (rm *RouteMock) RespondWithConnectionError() *RouteMock {
	rm.backend.addResponse(rm.path, &mockResponse{connError: true})
	return rm
}

func (mb *MockBackend) addResponse(path string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.routes[path]
	if !ok {
		cfg = &routeConfig{}
		mb.routes[path] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) handle(w http.ResponseWriter, r *http.Request) {
	rec := &RecordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		QueryParams: make(map[string]string),
		Headers:     r.Header.Clone(),
		ReceivedAt:  time.Now(),
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			rec.QueryParams[key] = values[0]
		}
	}
	if r.Body != nil {
		body, _ := io.ReadAll(r.Body)
		if len(body) > 0 {
			var parsed map[string]any
			if err := json.Unmarshal(body, &parsed); err == nil {
				rec.Body = parsed
			}
		}
	}

	mb.mu.Lock()
	mb.receivedBy[r.URL.Path] = append(mb.receivedBy[r.URL.Path], rec)
	cfg := mb.routes[r.URL.Path]
	mb.mu.Unlock()

	resp := nextResponse(cfg)
	if resp == nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"message": fmt.Sprintf("mock: no response configured for %s %s", r.Method, r.URL.Path),
		})
		return
	}

	if resp.connError {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, _ := hj.Hijack(); conn != nil {
				conn.Close()
			}
		}
		return
	}

	if resp.delay > 0 {
		time.Sleep(resp.delay)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	if resp.body != nil {
		json.NewEncoder(w).Encode(resp.body)
	}
}

func nextResponse(cfg *routeConfig) *mockResponse {
	if cfg == nil {
		return nil
	}
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if len(cfg.responses) == 0 {
		return nil
	}
	idx := cfg.current
	if idx >= len(cfg.responses) {
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that the path was hit the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, path string, expectedCount int) {
	t.Helper()
	mb.mu.RLock()
	actual := len(mb.receivedBy[path])
	mb.mu.RUnlock()
	if actual != expectedCount {
		t.Errorf("mock: path %q called %d times, want %d", path, actual, expectedCount)
	}
}

// AssertNotCalled verifies that the path was never hit.
func (mb *MockBackend) AssertNotCalled(t *testing.T, path string) {
	t.Helper()
	mb.AssertCalled(t, path, 0)
}

// LastRequest returns the last request received for the path, or nil.
func (mb *MockBackend) LastRequest(path string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedBy[path]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// AllRequests returns all requests received for the path.
func (mb *MockBackend) AllRequests(path string) []*RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedBy[path]
	copied := make([]*RecordedRequest, len(reqs))
	copy(copied, reqs)
	return copied
}

// ListingFixture returns a listing response body with generated records.
func ListingFixture(prefix string, from, count, total int) map[string]any {
	items := make([]map[string]any, 0, count)
	for i := from; i < from+count; i++ {
		items = append(items, map[string]any{
			"id":     fmt.Sprintf("%s-%03d", prefix, i),
			"status": "open",
		})
	}
	return map[string]any{"items": items, "total": total}
}

// TokenListingFixture returns a listing response body with a continuation
// token instead of a total.
func TokenListingFixture(prefix string, from, count int, nextToken string) map[string]any {
	body := ListingFixture(prefix, from, count, 0)
	delete(body, "total")
	if nextToken != "" {
		body["nextToken"] = nextToken
	}
	return body
}

// CountFixture returns a count response body.
func CountFixture(n int) map[string]any {
	return map[string]any{"count": n}
}
