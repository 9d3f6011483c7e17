package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/filedock/filedock/internal/api"
	"github.com/filedock/filedock/internal/cache"
	"github.com/filedock/filedock/internal/config"
	"github.com/filedock/filedock/internal/database"
	"github.com/filedock/filedock/internal/ingest"
	"github.com/filedock/filedock/internal/metastore"
	"github.com/filedock/filedock/internal/queue"
	"github.com/filedock/filedock/internal/storage"
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

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	var statusCache *cache.Cache
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, running without status cache", "error", err)
	} else {
		statusCache = cache.NewCache(rdb)
	}

	store, err := storage.FromConfig(cfg.Storage)
	if err != nil {
		slog.Error("failed to initialize storage backend", "error", err)
		os.Exit(1)
	}

	meta := metastore.New(db)
	nudge := queue.NewClient(cfg.Redis)
	defer nudge.Close()

	svc := ingest.NewService(meta, store, nudge, statusCache)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	router := api.NewRouter(db, rdb, cfg, svc, reg)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
