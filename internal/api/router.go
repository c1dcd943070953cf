package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-ai/parley/internal/database"
	"github.com/parley-ai/parley/internal/events"
	mw "github.com/parley-ai/parley/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Chat handlers
	CreateChat          http.HandlerFunc
	ListChats           http.HandlerFunc
	GetChat             http.HandlerFunc
	UpdateChat          http.HandlerFunc
	DeleteChat          http.HandlerFunc
	ListMessages        http.HandlerFunc
	OwnershipMiddleware func(http.Handler) http.Handler

	// Generation handlers
	SendMessage  http.HandlerFunc
	ResumeStream http.HandlerFunc

	// Account handlers
	QuotaStatus http.HandlerFunc
	ListModels  http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins  []string
	GenerateRateLimiter func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, eventsClient *events.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe: checks DB and NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if eventsClient != nil && !eventsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else if eventsClient == nil {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/models", h.ListModels)
			r.Get("/quota", h.QuotaStatus)

			r.Route("/chats", func(r chi.Router) {
				r.Post("/", h.CreateChat)
				r.Get("/", h.ListChats)

				r.Route("/{chatID}", func(r chi.Router) {
					r.Use(h.OwnershipMiddleware)
					r.Get("/", h.GetChat)
					r.Patch("/", h.UpdateChat)
					r.Delete("/", h.DeleteChat)

					r.Get("/messages", h.ListMessages)
					r.Get("/stream", h.ResumeStream)

					r.Group(func(r chi.Router) {
						if cfg.GenerateRateLimiter != nil {
							r.Use(cfg.GenerateRateLimiter)
						}
						r.Post("/messages", h.SendMessage)
					})
				})
			})
		})
	})

	return r
}
