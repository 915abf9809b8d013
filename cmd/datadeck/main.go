// Package main is the entry point for the datadeck server. It wires the
// engine together and starts the renderer-facing HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tabwise/datadeck/internal/backend"
	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/count"
	"github.com/tabwise/datadeck/internal/observability"
	"github.com/tabwise/datadeck/internal/openapi"
	"github.com/tabwise/datadeck/internal/orchestrate"
	"github.com/tabwise/datadeck/internal/source"
	"github.com/tabwise/datadeck/internal/staticdata"
	"github.com/tabwise/datadeck/internal/translate"
	"github.com/tabwise/datadeck/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "datadeck", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// OpenAPI specs back the operation-bound sections; a deployment without
	// bindings simply configures no spec sources.
	oaIndex := openapi.NewIndex()
	specSources := buildSpecSources(cfg.Specs)
	if err := oaIndex.Load(specSources); err != nil {
		logger.Error("OpenAPI index load failed", zap.Error(err))
		return 1
	}
	for _, s := range specSources {
		metrics.SetOpenAPIOperationsIndexed(s.ServiceID, float64(len(oaIndex.AllOperationIDs(s.ServiceID))))
	}

	sources, err := source.NewRegistry(cfg.Endpoints.File)
	if err != nil {
		logger.Error("endpoints document load failed", zap.Error(err))
		return 1
	}
	sources.OnReload(func(string) { metrics.RecordEndpointsReload("success") })
	if cfg.Endpoints.HotReload {
		if err := sources.Watch(ctx, logger); err != nil {
			logger.Error("endpoints watch failed", zap.Error(err))
			return 1
		}
	}

	static, err := staticdata.Load(cfg.Static.Directory)
	if err != nil {
		logger.Error("static dataset load failed", zap.Error(err))
		return 1
	}
	metrics.SetStaticDatasetsLoaded(float64(static.Len()))

	translator, err := translate.NewRegistry(cfg.Sections, oaIndex, logger)
	if err != nil {
		logger.Error("section registry build failed", zap.Error(err))
		return 1
	}
	metrics.SetSectionsConfigured(float64(len(cfg.Sections)))

	fetcher := backend.NewFetcher(cfg.Transport, logger)
	fetcher.SetRecorder(metrics)

	counts := count.NewAggregator(cfg, translator, sources, fetcher, static, logger)
	counts.SetRecorder(metrics)
	engine := orchestrate.NewEngine(cfg, translator, sources, fetcher, static, counts, logger)
	engine.SetRecorder(metrics)

	specServiceIDs := make([]string, 0, len(specSources))
	for _, s := range specSources {
		specServiceIDs = append(specServiceIDs, s.ServiceID)
	}
	checks := observability.ReadinessChecks{
		EndpointsLoaded:    func() bool { return sources.Checksum() != "" },
		SectionsConfigured: func() bool { return len(translator.Sections()) > 0 },
	}
	if len(specServiceIDs) > 0 {
		checks.SpecsIndexed = func() bool {
			for _, svcID := range specServiceIDs {
				if len(oaIndex.AllOperationIDs(svcID)) > 0 {
					return true
				}
			}
			return false
		}
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:  cfg,
		Engine:  engine,
		Metrics: metrics,
		Checks:  checks,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("environment", cfg.Environment),
		zap.Int("sections", len(cfg.Sections)),
		zap.Int("static_datasets", static.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildSpecSources resolves configured spec files against the specs
// directory.
func buildSpecSources(specsCfg config.SpecsConfig) []openapi.SpecSource {
	sources := make([]openapi.SpecSource, len(specsCfg.Sources))
	for i, s := range specsCfg.Sources {
		specPath := s.SpecFile
		if specsCfg.Directory != "" && !filepath.IsAbs(specPath) {
			specPath = filepath.Join(specsCfg.Directory, specPath)
		}
		sources[i] = openapi.SpecSource{
			ServiceID: s.ServiceID,
			SpecPath:  specPath,
		}
	}
	return sources
}
