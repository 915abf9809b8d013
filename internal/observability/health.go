package observability

import (
	"encoding/json"
	"net/http"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// ReadinessChecks holds the dependency probes for the readiness endpoint.
// Nil probes are skipped.
type ReadinessChecks struct {
	EndpointsLoaded    func() bool
	SectionsConfigured func() bool
	SpecsIndexed       func() bool
}

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns an HTTP handler for the readiness endpoint. The
// engine is ready once the endpoints document is loaded and at least one
// section is configured; the OpenAPI index check runs only when specs are
// configured.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	type probe struct {
		name string
		fn   func() bool
		err  string
	}
	probes := []probe{
		{"endpoints", checks.EndpointsLoaded, "endpoints document not loaded"},
		{"sections", checks.SectionsConfigured, "no sections configured"},
		{"openapi_index", checks.SpecsIndexed, "OpenAPI specs not indexed"},
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		results := make(map[string]CheckResult, len(probes))
		status := "ready"
		httpStatus := http.StatusOK

		for _, p := range probes {
			if p.fn == nil {
				continue
			}
			start := time.Now()
			res := CheckResult{Status: "ok"}
			if !p.fn() {
				res = CheckResult{Status: "error", Error: p.err}
				status = "not_ready"
				httpStatus = http.StatusServiceUnavailable
			}
			res.LatencyMs = time.Since(start).Milliseconds()
			results[p.name] = res
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(httpStatus)
		json.NewEncoder(w).Encode(ReadinessResponse{
			Status: status,
			Checks: results,
		})
	}
}
