package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"analytics-hub-backend/internal/infrastructure/observability"
	"analytics-hub-backend/internal/middleware"
	"analytics-hub-backend/pkg/api"
	appErrors "analytics-hub-backend/pkg/errors"
)

// HealthHandler provides health check endpoints for monitoring and load balancing.
type HealthHandler struct {
	checker   *observability.HealthChecker
	version   string
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler over checker.
func NewHealthHandler(checker *observability.HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		version:   version,
		startedAt: time.Now(),
	}
}

// LivenessResponse is returned by the liveness endpoint.
type LivenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime"`
}

// CheckResponse is returned for a single probe.
type CheckResponse struct {
	Name string `json:"name"`
	observability.CheckStatus
}

// Health runs every probe and returns the summary. Only an unhealthy
// summary answers 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	summary := h.checker.Summary(r.Context())
	status := http.StatusOK
	if summary.Status == observability.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	api.Success(w, status, summary)
}

// Liveness reports that the process can serve requests. No probes run.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, LivenessResponse{
		Status:    observability.StatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Readiness answers 200 only when every probe passes.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	summary := h.checker.Summary(r.Context())
	status := http.StatusOK
	if summary.Status != observability.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	api.Success(w, status, summary)
}

// Check runs the probe named in the URL.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res := h.checker.Check(r.Context(), name)
	if !h.checker.Has(name) {
		api.FromError(w, appErrors.NewNotFound(res.Message), middleware.GetCorrelationID(r))
		return
	}

	status := http.StatusOK
	if !res.Healthy {
		status = http.StatusServiceUnavailable
	}
	api.Success(w, status, CheckResponse{
		Name: res.Name,
		CheckStatus: observability.CheckStatus{
			Healthy:   res.Healthy,
			Message:   res.Message,
			LatencyMs: res.LatencyMs(),
			Details:   res.Details,
		},
	})
}

// Routes mounts the health endpoints.
func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/", h.Health)
	r.Get("/live", h.Liveness)
	r.Get("/ready", h.Readiness)
	r.Get("/{name}", h.Check)
}
