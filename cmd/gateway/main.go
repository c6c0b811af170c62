// Package main is the entry point for the fieldops webhook gateway.
// The gateway verifies, deduplicates and persists inbound webhooks and
// enqueues the job that processes each one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldops/internal/config"
	"fieldops/internal/gateway"
	"fieldops/internal/gateway/handlers"
	"fieldops/internal/jobs"
	"fieldops/internal/logger"
	"fieldops/internal/observability"
	"fieldops/internal/store/postgres"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: fieldops.yaml in current directory)")
	flag.Parse()

	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	if envErr != nil {
		log.Debug("no .env file loaded", "error", envErr)
	}
	fatal := func(msg string, err error) {
		log.Error(msg, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		fatal("failed to connect to database", err)
	}
	defer db.Close()

	if *migrateFlag {
		log.Info("running database migrations")
		version, err := postgres.Migrate(db.DB())
		if err != nil {
			fatal("migration failed", err)
		}
		log.Info("migrations completed", "version", version)
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
		ServiceName: "fieldops-gateway",
		Endpoint:    cfg.OTELEndpoint,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		fatal("failed to init tracing", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		fatal("failed to init metrics", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	meter := otel.Meter("fieldops-gateway")
	counters, err := observability.NewMetrics(meter)
	if err != nil {
		fatal("failed to create instruments", err)
	}
	if _, err := observability.RegisterPendingGauge(meter, db); err != nil {
		log.Warn("failed to register pending gauge", "error", err)
	}

	h := handlers.New(db, db, jobs.NewEnqueuer(db, cfg.Worker.MaxAttempts), db, handlers.Config{
		AllowedSources: cfg.Webhook.AllowedSources,
		Secrets:        cfg.Webhook.Secrets,
	}, log, counters)

	for _, source := range []string{jobs.SourceAccounting, jobs.SourceReports, jobs.SourceProjects} {
		if cfg.Webhook.Secrets[source] == "" {
			log.Warn("webhook secret not configured; signed deliveries will be refused", "source", source)
		}
	}
	if cfg.AdminToken == "" {
		log.Warn("admin token not configured; admin routes disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := gateway.New(addr, h, gateway.Options{
		AdminToken: cfg.AdminToken,
		RateLimit:  cfg.Webhook.RateLimit,
		RateBurst:  cfg.Webhook.RateBurst,
		Metrics:    metricsHandler,
		Logger:     log,
		Counters:   counters,
	})

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("gateway starting", "addr", addr, "allowed_sources", cfg.Webhook.AllowedSources)
	if err := srv.Run(runCtx); err != nil {
		log.Error("server stopped", "error", err)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return
	}
	log.Info("gateway exited properly")
}
