// pipelined is the long-running extraction service: HTTP API, job queue,
// workers and the health monitor in one process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nxt-spp/pricelist-pipeline/internal/cache"
	"github.com/nxt-spp/pricelist-pipeline/internal/common"
	"github.com/nxt-spp/pricelist-pipeline/internal/metrics"
	"github.com/nxt-spp/pricelist-pipeline/internal/monitor"
	"github.com/nxt-spp/pricelist-pipeline/internal/pricelist"
	"github.com/nxt-spp/pricelist-pipeline/internal/queue"
	"github.com/nxt-spp/pricelist-pipeline/internal/repository"
	"github.com/nxt-spp/pricelist-pipeline/internal/server"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.ApplyThresholdsFile(os.Getenv("MONITOR_THRESHOLDS_FILE")); err != nil {
		logger.Error("loading monitor thresholds", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, pool, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer repository.Close(db, pool, logger)

	if err := repository.Migrate(ctx, db); err != nil {
		logger.Error("applying migrations", "err", err)
		os.Exit(1)
	}

	uploads := repository.NewUploadStore(db)
	jobs := repository.NewJobStore(db)
	dlqStore := repository.NewDeadLetterStore(db)
	catalog := repository.NewCatalogStore(db)
	results := repository.NewResultStore(db)
	metricsStore := repository.NewMetricsStore(db)

	resultCache := cache.New(results, logger)
	defer resultCache.Close()

	recorder := metrics.NewRecorder(ctx, metricsStore, logger)
	worker := pricelist.NewWorker(uploads, catalog, resultCache, logger)

	q := queue.New(worker, jobs, dlqStore, recorder, logger,
		queue.WithMaxConcurrency(cfg.Queue.MaxConcurrency),
		queue.WithRetryPolicy(queue.RetryPolicy{
			MaxAttempts: cfg.Queue.MaxAttempts,
			BaseDelay:   cfg.Queue.BaseDelay,
			MaxDelay:    cfg.Queue.MaxDelay,
			Jitter:      true,
		}),
		queue.WithDLQAlertDepth(cfg.Queue.DLQAlertDepth),
	)

	mon := monitor.New(cfg.Monitor, q, recorder, logger)
	mon.Start(ctx)

	app := server.NewApp(q, mon, uploads, jobs, dlqStore, resultCache, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http serving", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	q.Shutdown(shutdownCtx)
	mon.Stop()
	logger.Info("bye")
}
