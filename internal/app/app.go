package app

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"call-analysis-console/internal/analytics"
	"call-analysis-console/internal/backend"
	"call-analysis-console/internal/config"
	"call-analysis-console/internal/observability/logging"
	"call-analysis-console/internal/observability/metrics"
	"call-analysis-console/internal/render"
	"call-analysis-console/internal/session"
)

// Application holds process-wide state for the console. Everything here is
// either read-only after New or safe for concurrent use; per-client state
// lives in the session store.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Metrics      *metrics.Metrics
	Store        *session.Store
	Orchestrator *session.Orchestrator
	Markdown     *render.Markdown
	Events       *analytics.Safe

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	sink, sinkName := analytics.FromConfig(cfg)
	a.Events = analytics.NewSafe(sink, sinkName, a.Metrics)

	client := backend.New(backend.Config{
		BaseURL:           cfg.Backend.BaseURL,
		AuthPolicy:        cfg.Backend.AuthPolicy,
		TranscribeTimeout: cfg.Backend.TranscribeTimeout,
		RequestTimeout:    cfg.Backend.RequestTimeout,
		Metrics:           a.Metrics,
	})

	a.Store = session.NewStore(cfg.Session.IdleTTL, a.Metrics)
	a.Orchestrator = session.NewOrchestrator(client, a.Events, session.Options{
		EmbeddingsEnabled: cfg.Features.Embeddings,
		MaxUploadBytes:    cfg.Session.MaxUploadBytes,
		Metrics:           a.Metrics,
	})
	a.Markdown = render.NewMarkdown(cfg.Features.AllowRawHTML)

	appLogger.Info().
		Str("backend", cfg.Backend.BaseURL).
		Str("authPolicy", cfg.Backend.AuthPolicy).
		Str("analyticsSink", sinkName).
		Bool("embeddings", cfg.Features.Embeddings).
		Bool("allowRawHTML", cfg.Features.AllowRawHTML).
		Msg("Call analysis console application created")
	return a
}

// setupLogger configures zerolog for the service. ENV=dev forces console output.
func (a *Application) setupLogger() {
	format := a.Cfg.Observability.LogFormat
	if os.Getenv("ENV") == "dev" {
		format = "console"
	}
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     format,
		TimeFormat: time.RFC3339,
	})

	a.Logger = logging.WithComponent("application")
	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// Start begins background work and marks the console ready. The session
// sweeper stops when ctx is done.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	go a.Store.Run(ctx)

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Call analysis console starting")

	return nil
}

// Ready reports whether the console is serving traffic.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	if err := a.Events.Close(); err != nil {
		shutdownLogger.Error().Err(err).Msg("Closing analytics sink failed")
	}
	shutdownLogger.Info().
		Int("sessions", a.Store.Len()).
		Msg("Call analysis console shutting down")
}
