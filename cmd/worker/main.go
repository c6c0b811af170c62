// Package main is the entry point for the fieldops worker.
// The worker polls the job queue, claims jobs and routes them to the
// handler registered for their type.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldops/internal/accounting"
	"fieldops/internal/config"
	"fieldops/internal/jobs"
	"fieldops/internal/jobs/handlers"
	"fieldops/internal/logger"
	"fieldops/internal/observability"
	"fieldops/internal/store/postgres"
	"fieldops/internal/worker"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
)

func main() {
	// Parse flags
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		fatal("failed to connect to database", err)
	}
	defer db.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = worker.DefaultID()
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
		ServiceName: "fieldops-worker",
		InstanceID:  workerID,
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

	meter := otel.Meter("fieldops-worker")
	counters, err := observability.NewMetrics(meter)
	if err != nil {
		fatal("failed to create instruments", err)
	}
	if _, err := observability.RegisterPendingGauge(meter, db); err != nil {
		log.Warn("failed to register pending gauge", "error", err)
	}

	enqueuer := jobs.NewEnqueuer(db, cfg.Worker.MaxAttempts)
	acct := accounting.NewClient(cfg.Accounting.BaseURL, cfg.Accounting.RealmID,
		accounting.StaticToken(cfg.Accounting.AccessToken))

	h := handlers.New(handlers.Deps{
		Tx:           db,
		Events:       db,
		Labor:        db,
		Timeclock:    db,
		EntityMap:    db,
		Customers:    db,
		Invoices:     db,
		Integrations: db,
		Enqueuer:     enqueuer,
		Accounting:   acct,
		Logger:       log,
	}, handlers.LaborConfig{
		DefaultHourlyRate: cfg.Labor.DefaultHourlyRate,
		DefaultCostCodeID: cfg.Labor.DefaultCostCodeID,
		CostCodeName:      cfg.Labor.CostCodeName,
	})

	router := jobs.NewRouter()
	h.Register(router)

	agent := worker.New(db, router, worker.AgentConfig{
		ID:              workerID,
		BatchSize:       cfg.Worker.BatchSize,
		PollInterval:    cfg.Worker.PollInterval,
		RetryBackoff:    cfg.Worker.RetryBackoff,
		MaxRetryBackoff: cfg.Worker.MaxRetryBackoff,
	}, log, counters)

	// Dedicated metrics server
	metricsAddr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("worker metrics listening", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	log.Info("worker started", "worker_id", workerID, "job_types", router.Types(),
		"batch_size", cfg.Worker.BatchSize, "poll_interval", cfg.Worker.PollInterval)

	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "error", err)
	}

	log.Info("shutting down worker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to shutdown metrics server", "error", err)
	}
}
