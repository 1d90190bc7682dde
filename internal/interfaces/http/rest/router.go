// Package rest wires the observability endpoints onto a chi router.
package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"analytics-hub-backend/internal/infrastructure/observability"
	"analytics-hub-backend/internal/interfaces/http/handlers"
	"analytics-hub-backend/internal/middleware"
	"analytics-hub-backend/pkg/api"
)

// RouterConfig carries everything the router needs.
type RouterConfig struct {
	ServiceName    string
	Version        string
	AllowedOrigins []string
	ExcludedPaths  []string
	RequestTimeout time.Duration

	Logger    *zap.Logger
	Collector *observability.Collector
	Registry  *prometheus.Registry
	Health    *observability.HealthChecker
	Alerts    *observability.AlertManager
}

// NewRouter builds the HTTP handler. The correlation id is bound before
// any middleware that logs.
func NewRouter(cfg RouterConfig) http.Handler {
	router := chi.NewRouter()
	excluded := observability.NewPathSet(cfg.ExcludedPaths)

	router.Use(chimiddleware.RealIP)
	router.Use(middleware.CorrelationID)
	router.Use(middleware.Recovery(cfg.Logger))
	router.Use(observability.TracingMiddleware(cfg.ServiceName))
	router.Use(observability.MetricsMiddleware(cfg.Collector, excluded))
	router.Use(middleware.RequestLogging(cfg.Logger, excluded))
	if cfg.RequestTimeout > 0 {
		router.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.CorrelationIDHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.CorrelationIDHeader, "X-Trace-ID"},
		MaxAge:         300,
	}))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.ErrorWithCorrelation(w, http.StatusNotFound, "Not found", middleware.GetCorrelationID(r))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.ErrorWithCorrelation(w, http.StatusMethodNotAllowed, "Method not allowed", middleware.GetCorrelationID(r))
	})

	health := handlers.NewHealthHandler(cfg.Health, cfg.Version)
	router.Route("/health", health.Routes)

	metrics := handlers.NewMetricsHandler(cfg.Collector, cfg.Registry)
	router.Route("/metrics", metrics.Routes)

	if cfg.Alerts != nil {
		alerts := handlers.NewAlertsHandler(cfg.Alerts, cfg.Collector)
		router.Route("/alerts", alerts.Routes)
	}

	return router
}
