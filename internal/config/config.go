// Package config loads and validates engine configuration from YAML files
// and environment variables. The per-section endpoint wiring lives in a
// separate endpoints document (see internal/source) so it can be
// hot-reloaded without restarting the process.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	Environment   string                   `yaml:"environment"`
	Endpoints     EndpointsConfig          `yaml:"endpoints"`
	Sections      map[string]SectionConfig `yaml:"sections"`
	Static        StaticConfig             `yaml:"static"`
	Specs         SpecsConfig              `yaml:"specs"`
	Transport     TransportConfig          `yaml:"transport"`
	Observability ObservabilityConfig      `yaml:"observability"`
}

// ServerConfig describes HTTP server settings for the render-facing API.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// EndpointsConfig describes where the endpoints document lives and whether
// the engine watches it for changes.
type EndpointsConfig struct {
	File      string `yaml:"file"`
	HotReload bool   `yaml:"hot_reload"`
}

// SectionConfig describes the behavior of one section: how its filters map
// to backend parameters, how it paginates, how it counts, and which tabs it
// exposes. Endpoint URLs per environment live in the endpoints document,
// not here.
type SectionConfig struct {
	Title         string            `yaml:"title"`
	Style         string            `yaml:"style"` // "query" (GET) or "body" (POST)
	Method        string            `yaml:"method"`
	PathTemplate  string            `yaml:"path_template"`
	Binding       *OperationBinding `yaml:"binding"`
	CountEndpoint string            `yaml:"count_endpoint"`
	InlineTotal   bool              `yaml:"inline_total"`
	PageSize      int               `yaml:"page_size"`
	Filters       []FilterField     `yaml:"filters"`
	Tabs          []TabConfig       `yaml:"tabs"`
	Query         *QueryRouting     `yaml:"query"`
	Transport     *TransportConfig  `yaml:"transport"`
}

// OperationBinding points a section at an indexed OpenAPI operation. The
// operation's path template and declared path parameters take precedence
// over PathTemplate.
type OperationBinding struct {
	ServiceID   string `yaml:"service_id"`
	OperationID string `yaml:"operation_id"`
}

// FilterField declares one filter a section supports: its type, the backend
// parameter it maps to, and where the parameter goes.
type FilterField struct {
	Key    string   `yaml:"key"`
	Type   string   `yaml:"type"`   // string|int|bool|date|id|enum
	Param  string   `yaml:"param"`  // backend parameter name; defaults to Key
	In     string   `yaml:"in"`     // query|path|body; defaults to the section style
	Values []string `yaml:"values"` // allowed values for enum fields
}

// QueryRouting describes how a free-text search value is disambiguated into
// exactly one backend parameter: values carrying RefPrefix go to RefParam,
// everything else goes to FallbackParam.
type QueryRouting struct {
	Key           string `yaml:"key"`
	RefPrefix     string `yaml:"ref_prefix"`
	RefParam      string `yaml:"ref_param"`
	FallbackParam string `yaml:"fallback_param"`
}

// TabConfig declares one tab of a tab-aware section.
type TabConfig struct {
	ID       string         `yaml:"id"`
	Label    string         `yaml:"label"`
	Override map[string]any `yaml:"override"`
}

// StaticConfig describes where static datasets are loaded from.
type StaticConfig struct {
	Directory string `yaml:"directory"`
}

// SpecsConfig describes where to find OpenAPI specification files for
// sections using operation bindings.
type SpecsConfig struct {
	Directory string       `yaml:"directory"`
	Sources   []SpecSource `yaml:"sources"`
}

// SpecSource maps a service ID to an OpenAPI spec file.
type SpecSource struct {
	ServiceID string `yaml:"service_id"`
	SpecFile  string `yaml:"spec_file"`
}

// TransportConfig describes the outbound call budget. A section may carry
// its own override; zero values fall back to the engine-wide defaults.
type TransportConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// RetryConfig describes retry settings for idempotent backend calls.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// BreakerConfig describes circuit breaker settings per backend.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Environment: "dev",
		Endpoints: EndpointsConfig{
			File: "endpoints.yaml",
		},
		Static: StaticConfig{
			Directory: "datasets",
		},
		Transport: TransportConfig{
			Timeout: 20 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Environment {
	case "prod", "stage", "dev":
	default:
		errs = append(errs, fmt.Sprintf("environment %q must be one of prod, stage, dev", c.Environment))
	}
	if c.Endpoints.File == "" {
		errs = append(errs, "endpoints.file is required")
	}
	if len(c.Sections) == 0 {
		errs = append(errs, "at least one section must be configured")
	}

	for name, sc := range c.Sections {
		switch sc.Style {
		case "", "query", "body":
		default:
			errs = append(errs, fmt.Sprintf("sections.%s.style %q must be query or body", name, sc.Style))
		}
		if sc.Binding != nil && (sc.Binding.ServiceID == "" || sc.Binding.OperationID == "") {
			errs = append(errs, fmt.Sprintf("sections.%s.binding requires service_id and operation_id", name))
		}
		for _, f := range sc.Filters {
			if f.Key == "" {
				errs = append(errs, fmt.Sprintf("sections.%s has a filter without a key", name))
				continue
			}
			switch f.Type {
			case "", "string", "int", "bool", "date", "id", "enum":
			default:
				errs = append(errs, fmt.Sprintf("sections.%s.filters.%s type %q is unknown", name, f.Key, f.Type))
			}
			switch f.In {
			case "", "query", "path", "body":
			default:
				errs = append(errs, fmt.Sprintf("sections.%s.filters.%s in %q must be query, path, or body", name, f.Key, f.In))
			}
		}
		seen := make(map[string]bool, len(sc.Tabs))
		for _, tab := range sc.Tabs {
			if tab.ID == "" {
				errs = append(errs, fmt.Sprintf("sections.%s has a tab without an id", name))
				continue
			}
			if seen[tab.ID] {
				errs = append(errs, fmt.Sprintf("sections.%s has duplicate tab id %q", name, tab.ID))
			}
			seen[tab.ID] = true
		}
		if sc.Query != nil && sc.Query.Key == "" {
			errs = append(errs, fmt.Sprintf("sections.%s.query requires a key", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Section returns the configuration for a section, falling back to the
// base-name entry for hierarchical section names.
func (c *Config) Section(name, base string) (SectionConfig, bool) {
	if sc, ok := c.Sections[name]; ok {
		return sc, true
	}
	if base != name {
		if sc, ok := c.Sections[base]; ok {
			return sc, true
		}
	}
	return SectionConfig{}, false
}

// TransportFor returns the effective transport budget for a section: the
// section override where set, engine defaults elsewhere.
func (c *Config) TransportFor(sc SectionConfig) TransportConfig {
	out := c.Transport
	if sc.Transport == nil {
		return out
	}
	o := sc.Transport
	if o.Timeout > 0 {
		out.Timeout = o.Timeout
	}
	if o.Retry.MaxAttempts > 0 {
		out.Retry = o.Retry
	}
	if o.Breaker.FailureThreshold > 0 {
		out.Breaker = o.Breaker
	}
	return out
}

// EffectivePageSize returns the section page size or the engine default of 20.
func (sc SectionConfig) EffectivePageSize() int {
	if sc.PageSize > 0 {
		return sc.PageSize
	}
	return 20
}

// EffectiveMethod returns the HTTP method implied by the section style when
// none is set explicitly.
func (sc SectionConfig) EffectiveMethod() string {
	if sc.Method != "" {
		return strings.ToUpper(sc.Method)
	}
	if sc.Style == "body" {
		return "POST"
	}
	return "GET"
}

// applyEnvOverrides reads DATADECK_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATADECK_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATADECK_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("DATADECK_ENDPOINTS_FILE"); v != "" {
		cfg.Endpoints.File = v
	}
	if v := os.Getenv("DATADECK_STATIC_DIRECTORY"); v != "" {
		cfg.Static.Directory = v
	}
	if v := os.Getenv("DATADECK_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
