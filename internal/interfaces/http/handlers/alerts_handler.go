package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"analytics-hub-backend/internal/infrastructure/observability"
	"analytics-hub-backend/pkg/api"
)

// AlertsHandler evaluates alert rules on demand.
type AlertsHandler struct {
	manager   *observability.AlertManager
	collector *observability.Collector
}

// NewAlertsHandler creates an AlertsHandler.
func NewAlertsHandler(manager *observability.AlertManager, collector *observability.Collector) *AlertsHandler {
	return &AlertsHandler{manager: manager, collector: collector}
}

// AlertsResponse lists the alerts firing at evaluation time.
type AlertsResponse struct {
	EvaluatedAt time.Time                  `json:"evaluated_at"`
	Count       int                        `json:"count"`
	Alerts      []observability.FiredAlert `json:"alerts"`
}

// RulesResponse lists the configured rules.
type RulesResponse struct {
	Rules []observability.AlertThreshold `json:"rules"`
}

// Alerts evaluates every rule against the current metrics.
func (h *AlertsHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	snap := h.collector.Snapshot()
	fired := h.manager.CheckAlerts(r.Context(), snap)
	api.Success(w, http.StatusOK, AlertsResponse{
		EvaluatedAt: snap.Timestamp,
		Count:       len(fired),
		Alerts:      fired,
	})
}

// Rules returns the rule set.
func (h *AlertsHandler) Rules(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, RulesResponse{Rules: h.manager.Thresholds()})
}

// Routes mounts the alert endpoints.
func (h *AlertsHandler) Routes(r chi.Router) {
	r.Get("/", h.Alerts)
	r.Get("/rules", h.Rules)
}
