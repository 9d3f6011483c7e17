package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/filedock/filedock/internal/api/handlers"
	"github.com/filedock/filedock/internal/api/middleware"
	"github.com/filedock/filedock/internal/config"
	"github.com/filedock/filedock/internal/ingest"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
	svc   *ingest.Service
	reg   *prometheus.Registry
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, svc *ingest.Service, reg *prometheus.Registry) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
		svc:   svc,
		reg:   reg,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health and metrics (no owner scope)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", promhttp.HandlerFor(rt.reg, promhttp.HandlerOpts{}))

	files := handlers.NewFileHandler(rt.svc, rt.cfg.Server.MaxUploadBytes)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Post("/", files.Submit)
			r.Get("/", files.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", files.Get)
				r.Patch("/", files.Update)
				r.Delete("/", files.Delete)
				r.Get("/status", files.Status)
				r.Get("/content", files.Content)
				r.Post("/retry", files.Retry)
			})
		})
	})

	return r
}
