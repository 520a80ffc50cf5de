package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"

	"github.com/openctemio/webhooks/internal/config"
	"github.com/openctemio/webhooks/internal/infra/http"
	"github.com/openctemio/webhooks/internal/infra/http/routes"
	"github.com/openctemio/webhooks/pkg/logger"
	"github.com/openctemio/webhooks/pkg/tracing"
)

// Command line flags.
var (
	showRoutes  = flag.Bool("routes", false, "Print all registered routes and exit")
	routeFormat = flag.String("route-format", "table", "Route output format: table, json, simple")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	defer closeWithLog(log, "logger", logger.NewDefault())
	log.Info("starting application",
		"app", cfg.App.Name,
		"env", cfg.App.Env,
		"store", cfg.WebHooks.Store,
		"sender", cfg.Sender.Mode,
	)

	// ==========================================================================
	// Tracing
	// ==========================================================================
	tp, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Env,
	}, log)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		return 1
	}

	// ==========================================================================
	// Stores
	// ==========================================================================
	infra, err := NewInfra(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize infrastructure", "error", err)
		return 1
	}
	defer infra.Close(log)

	// ==========================================================================
	// Services & Delivery
	// ==========================================================================
	services, err := NewServices(ctx, &ServiceDeps{Config: cfg, Log: log, Infra: infra})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	log.Info("services initialized", "filters", len(services.Filters.List()))

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	handlerDeps := &HandlerDeps{Config: cfg, Log: log, Infra: infra, Services: services}
	middlewares, stopRateLimit, err := NewMiddlewares(handlerDeps)
	if err != nil {
		log.Error("failed to initialize middleware", "error", err)
		return 1
	}

	server := http.NewServer(cfg, log, http.WithCleanup(stopRateLimit))
	routes.Register(server.Router(), NewHandlers(handlerDeps), middlewares)

	if *showRoutes {
		if err := http.PrintRoutes(os.Stdout, http.CollectRoutes(server.Router()), *routeFormat); err != nil {
			log.Error("failed to print routes", "error", err)
			return 1
		}
		return 0
	}

	// ==========================================================================
	// Workers
	// ==========================================================================
	workers, err := NewWorkers(cfg, services, log)
	if err != nil {
		log.Error("failed to initialize workers", "error", err)
		return 1
	}
	if err := workers.Start(ctx); err != nil {
		log.Error("failed to start workers", "error", err)
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = workers.Stop(stopCtx)
		return 1
	}

	// ==========================================================================
	// Start Server
	// ==========================================================================
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		log.Info("shutting down...", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests first so no new notifications reach the sender.
	errs := server.Shutdown(shutdownCtx)
	errs = multierr.Append(errs, workers.Stop(shutdownCtx))
	errs = multierr.Append(errs, tp.Shutdown(shutdownCtx))

	for _, err := range multierr.Errors(errs) {
		log.Error("shutdown error", "error", err)
		exitCode = 1
	}

	log.Info("application stopped")
	return exitCode
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	format := cfg.Log.Format
	if format == "" && !cfg.IsProduction() {
		format = "text"
	}
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: format,
		Output: os.Stdout,
		File: logger.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.FileMaxSizeMB,
			MaxBackups: cfg.Log.FileMaxBackups,
			MaxAgeDays: cfg.Log.FileMaxAgeDays,
			Compress:   true,
		},
		Async: logger.AsyncConfig{
			Enabled:    cfg.Log.Async,
			BufferSize: cfg.Log.AsyncBufferSize,
		},
		Sampling: logger.SamplingConfig{
			Enabled:    cfg.Log.Sampling,
			First:      cfg.Log.SampleFirst,
			Thereafter: cfg.Log.SampleEvery,
		},
	})
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
