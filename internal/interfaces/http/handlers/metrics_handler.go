package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"analytics-hub-backend/internal/infrastructure/observability"
	"analytics-hub-backend/pkg/api"
)

// MetricsHandler exposes the collector in Prometheus and JSON form.
type MetricsHandler struct {
	collector  *observability.Collector
	prometheus http.Handler
}

// NewMetricsHandler serves collector through registry, which should have
// the collector registered.
func NewMetricsHandler(collector *observability.Collector, registry *prometheus.Registry) *MetricsHandler {
	return &MetricsHandler{
		collector:  collector,
		prometheus: observability.Handler(registry),
	}
}

// Prometheus serves the registry, runtime collectors included.
func (h *MetricsHandler) Prometheus(w http.ResponseWriter, r *http.Request) {
	h.prometheus.ServeHTTP(w, r)
}

// Text serves the collector's own exposition without runtime collectors.
func (h *MetricsHandler) Text(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, h.collector.ExportPrometheus())
}

// JSON serves every series grouped by family and name.
func (h *MetricsHandler) JSON(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, h.collector.Snapshot())
}

// Routes mounts the metrics endpoints.
func (h *MetricsHandler) Routes(r chi.Router) {
	r.Get("/", h.Prometheus)
	r.Get("/text", h.Text)
	r.Get("/json", h.JSON)
}
