package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mwalkiewicz/mediary/internal/config"
	"github.com/mwalkiewicz/mediary/internal/operation"
	"github.com/mwalkiewicz/mediary/internal/platform/logger"
	"github.com/mwalkiewicz/mediary/internal/platform/metrics"
	"github.com/mwalkiewicz/mediary/internal/platform/postgres"
	"github.com/mwalkiewicz/mediary/internal/redact"
	"github.com/mwalkiewicz/mediary/internal/worker"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the worker and process operations until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}

	log := logger.Setup(cfg.Worker.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	log.Info("connecting to database", "url", redact.URL(cfg.Database.URL))
	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.ConnectTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	if cfg.Database.MigrateOnStart {
		log.Info("applying migrations on start")
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	if cfg.Worker.MetricsPort > 0 {
		serveMetrics(ctx, cfg.Worker.MetricsPort, registry, log)
	}

	workerName := worker.Identity(cfg.Worker.Name)
	log.Info("worker identity assigned", "worker", workerName)

	ops := operation.DefaultRegistry(log, operation.Capabilities{
		Transferrer: newFileTransferrer(),
	})

	operationStore := postgres.NewPostgresOperationStore(db)
	transactor := postgres.NewTransactor(db)

	var serial *worker.SerialProcessor
	if cfg.Serial.Enabled {
		serial = worker.NewSerialProcessor(worker.SerialProcessorConfig{
			WorkerName: workerName,
			Lock:       postgres.NewPostgresLockStore(db),
			Operations: operationStore,
			Transactor: transactor,
			Registry:   ops,
			Supported:  operation.Supported(cfg.Worker.SupportedOperations, ops.SerialNames()),
			InputBatch: cfg.Serial.InputBatch,
			Metrics:    m,
		}, log)
	}

	var parallel *worker.ParallelProcessor
	if cfg.Parallel.Enabled {
		parallel = worker.NewParallelProcessor(worker.ParallelProcessorConfig{
			WorkerName:        workerName,
			Operations:        operationStore,
			Transactor:        transactor,
			Registry:          ops,
			Supported:         operation.Supported(cfg.Worker.SupportedOperations, ops.ParallelNames()),
			InputBatch:        cfg.Parallel.InputBatch,
			PoolSize:          cfg.Parallel.PoolSize,
			MinimalCompletion: cfg.Parallel.MinimalCompletion,
			Metrics:           m,
		}, log)
	}

	if serial == nil && parallel == nil {
		return fmt.Errorf("both processors are disabled; nothing to run")
	}

	return worker.NewRuntime(serial, parallel,
		cfg.Worker.ShortDelay, cfg.Worker.LongDelay, log).Run(ctx)
}

// serveMetrics exposes the Prometheus endpoint and shuts it down when
// the run context ends.
func serveMetrics(ctx context.Context, port int, registry *prometheus.Registry, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("metrics endpoint listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics endpoint failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
