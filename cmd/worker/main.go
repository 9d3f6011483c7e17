package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/filedock/filedock/internal/annotate"
	"github.com/filedock/filedock/internal/cache"
	"github.com/filedock/filedock/internal/config"
	"github.com/filedock/filedock/internal/database"
	"github.com/filedock/filedock/internal/extract"
	"github.com/filedock/filedock/internal/metastore"
	"github.com/filedock/filedock/internal/metrics"
	"github.com/filedock/filedock/internal/pipeline"
	"github.com/filedock/filedock/internal/queue"
	"github.com/filedock/filedock/internal/storage"
	"github.com/filedock/filedock/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := storage.FromConfig(cfg.Storage)
	if err != nil {
		slog.Error("failed to initialize storage backend", "error", err)
		os.Exit(1)
	}

	annotator, err := annotate.FromConfig(cfg.Annotate)
	if err != nil {
		slog.Error("failed to initialize annotator", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	meta := metastore.New(db)
	runner := pipeline.NewRunner(meta, store, extract.DefaultRegistry(), pipeline.Options{
		Annotator:      annotator,
		StorageRetries: cfg.Worker.StorageRetries,
		Metrics:        m,
	})

	// Terminal jobs invalidate the cached status so readers see the new
	// state immediately instead of after the TTL.
	var statusCache *cache.Cache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, status cache invalidation disabled", "error", err)
	} else {
		statusCache = cache.NewCache(rdb)
	}

	w := worker.New(cfg.Worker.ID, meta, runner, worker.Options{
		IdleBackoff: cfg.Worker.IdleBackoff,
		StaleAfter:  cfg.Worker.StaleAfter,
		Metrics:     m,
		OnTerminal: func(fileID uuid.UUID) {
			if statusCache == nil {
				return
			}
			if err := statusCache.Delete(context.Background(), cache.StatusKey(fileID)); err != nil {
				slog.Debug("status cache invalidation failed", "file_id", fileID, "error", err)
			}
		},
	})

	// Wakeup tasks shortcut the idle backoff. The poll loop below is the
	// source of progress even when redis is down.
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{"default": 1},
		},
	)

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeIngestWakeup, queue.NewIngestWakeupHandler(w))

	go func() {
		if err := srv.Run(registry.Mux()); err != nil {
			slog.Warn("wakeup listener stopped, polling only", "error", err)
		}
	}()

	if cfg.Worker.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			slog.Info("starting metrics listener", "addr", cfg.Worker.MetricsAddr)
			if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
				slog.Warn("metrics listener stopped", "error", err)
			}
		}()
	}

	slog.Info("starting worker", "id", cfg.Worker.ID, "idle_backoff", cfg.Worker.IdleBackoff.String())
	if err := w.Run(ctx); err != nil {
		slog.Error("worker error", "error", err)
		srv.Shutdown()
		os.Exit(1)
	}

	srv.Shutdown()
	slog.Info("worker stopped")
}
