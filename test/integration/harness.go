// Package integration provides a reusable harness for end-to-end testing of
// the datadeck server: a full HTTP stack over a mock backend service, with
// static datasets and an in-memory endpoints document.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tabwise/datadeck/internal/backend"
	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/count"
	"github.com/tabwise/datadeck/internal/observability"
	"github.com/tabwise/datadeck/internal/orchestrate"
	"github.com/tabwise/datadeck/internal/source"
	"github.com/tabwise/datadeck/internal/staticdata"
	"github.com/tabwise/datadeck/internal/translate"
	"github.com/tabwise/datadeck/internal/transport"
	"github.com/tabwise/datadeck/model"
)

// TestHarness encapsulates a fully wired server instance with a mock
// backend for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	Backend *MockBackend
	Sources *source.Registry
	Engine  *orchestrate.Engine

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	sections  map[string]config.SectionConfig
	endpoints map[string]map[string]string // section -> env -> endpoint; "mock" resolves to the backend URL
	static    map[string][]model.Item
	transport func(*config.TransportConfig)
}

// WithSection adds a section to the harness configuration.
func WithSection(name string, sc config.SectionConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.sections[name] = sc
	}
}

// WithEndpoint wires a section's environment to an endpoint. The special
// value "mock" resolves to the mock backend's URL; an empty string selects
// the static source.
func WithEndpoint(section, env, endpoint string) HarnessOption {
	return func(c *harnessConfig) {
		if c.endpoints[section] == nil {
			c.endpoints[section] = make(map[string]string)
		}
		c.endpoints[section][env] = endpoint
	}
}

// WithStaticDataset registers a static dataset for a section.
func WithStaticDataset(section string, items []model.Item) HarnessOption {
	return func(c *harnessConfig) {
		c.static[section] = items
	}
}

// WithTransport mutates the engine-wide transport budget.
func WithTransport(fn func(*config.TransportConfig)) HarnessOption {
	return func(c *harnessConfig) {
		c.transport = fn
	}
}

// ordersSection is the default fixture: an offset-paged section with a
// count endpoint, a status filter, and two tabs.
func ordersSection() config.SectionConfig {
	return config.SectionConfig{
		Title:         "Orders",
		Style:         "query",
		PathTemplate:  "/v1/orders",
		CountEndpoint: "/v1/orders/count",
		PageSize:      10,
		Filters: []config.FilterField{
			{Key: "status", Type: "string"},
			{Key: "q", Type: "string"},
		},
		Tabs: []config.TabConfig{
			{ID: "all", Label: "All"},
			{ID: "open", Label: "Open", Override: map[string]any{"status": "open"}},
		},
	}
}

// NewTestHarness creates and starts a full server instance. Without options
// it serves the default "orders" section against the mock backend in dev.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		sections:  make(map[string]config.SectionConfig),
		endpoints: make(map[string]map[string]string),
		static:    make(map[string][]model.Item),
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.sections) == 0 {
		hc.sections["orders"] = ordersSection()
	}

	h := &TestHarness{
		t:       t,
		Backend: NewMockBackend(t),
	}

	cfg := config.Defaults()
	cfg.Sections = hc.sections
	cfg.Transport.Timeout = 5 * time.Second
	cfg.Transport.Retry.MaxAttempts = 1
	cfg.Observability.Metrics.Enabled = false
	if hc.transport != nil {
		hc.transport(&cfg.Transport)
	}
	h.cfg = cfg

	// Default wiring: every section's dev environment points at the mock
	// backend unless the test overrode it.
	doc := make(source.Document)
	for name := range hc.sections {
		doc[name] = map[string]source.Endpoint{"dev": {Endpoint: h.Backend.URL()}}
	}
	for section, envs := range hc.endpoints {
		if doc[section] == nil {
			doc[section] = make(map[string]source.Endpoint)
		}
		for env, endpoint := range envs {
			if endpoint == "mock" {
				endpoint = h.Backend.URL()
			}
			doc[section][env] = source.Endpoint{Endpoint: endpoint}
		}
	}
	h.Sources = source.NewRegistryFromDocument(doc)

	static := staticdata.NewStore()
	for section, items := range hc.static {
		static.Register(section, items)
	}

	translator, err := translate.NewRegistry(cfg.Sections, nil, nil)
	if err != nil {
		t.Fatalf("build section registry: %v", err)
	}

	fetcher := backend.NewFetcher(cfg.Transport, nil)
	counts := count.NewAggregator(cfg, translator, h.Sources, fetcher, static, nil)
	h.Engine = orchestrate.NewEngine(cfg, translator, h.Sources, fetcher, static, counts, nil)

	router := transport.NewRouter(transport.Dependencies{
		Config: cfg,
		Engine: h.Engine,
		Checks: observability.ReadinessChecks{
			EndpointsLoaded:    func() bool { return true },
			SectionsConfigured: func() bool { return len(translator.Sections()) > 0 },
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// --- HTTP client helpers ---

// GET performs a GET request under the given session.
func (h *TestHarness) GET(path, sessionID string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, sessionID)
}

// POST performs a POST request with a JSON body under the given session.
func (h *TestHarness) POST(path string, body any, sessionID string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, sessionID)
}

func (h *TestHarness) doRequest(method, path string, body any, sessionID string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader = strings.NewReader("{}")
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("X-Session-Id", sessionID)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertJSON checks the response status and parses the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertStatus checks the response status and discards the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
		return
	}
	resp.Body.Close()
}

// ErrorCode extracts the error code from a parsed error response body.
func ErrorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}
