package transport

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/observability"
	"github.com/tabwise/datadeck/internal/orchestrate"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config  *config.Config
	Engine  *orchestrate.Engine
	Metrics *observability.Metrics
	Checks  observability.ReadinessChecks
	Logger  *zap.Logger
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics bypass request
// logging and the handler timeout.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &handlers{
		engine:     deps.Engine,
		logger:     logger,
		defaultEnv: deps.Config.Environment,
	}

	r := chi.NewRouter()
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Checks))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Get(path, observability.Handler().ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		if deps.Config.Observability.Tracing.Enabled {
			r.Use(observability.TracingMiddleware)
		}
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		r.Use(RequestLogging(logger))
		r.Use(HandlerTimeout(deps.Config.Server.WriteTimeout))

		r.Get("/sections", h.handleSections)
		r.Route("/sections/{section}", func(r chi.Router) {
			r.Get("/view", h.handleView)
			r.Post("/load-more", h.handleLoadMore)
			r.Post("/filters", h.handleFilters)
			r.Post("/tab", h.handleTab)
			r.Post("/environment", h.handleEnvironment)
			r.Post("/refresh", h.handleRefresh)
		})
	})

	return r
}
