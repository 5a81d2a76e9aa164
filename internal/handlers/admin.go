package handlers

import (
	"context"
	"net/http"
	"strconv"

	"courseview-backend/internal/models"
)

type alertLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.SecurityAlert, error)
}

type AdminHandler struct {
	alerts alertLister
}

func NewAdminHandler(alerts alertLister) *AdminHandler {
	return &AdminHandler{alerts: alerts}
}

// ListSecurityAlerts handles GET /api/v1/admin/security-alerts?limit=
func (h *AdminHandler) ListSecurityAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
				map[string]string{"limit": "Must be a positive integer"}, r))
			return
		}
		limit = n
	}

	alerts, err := h.alerts.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	deps map[string]Pinger
}

func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps}
}

// Health handles GET /health. Any unreachable dependency turns it into a 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.deps))
	status, code := "ok", http.StatusOK
	for name, dep := range h.deps {
		if err := dep.Ping(r.Context()); err != nil {
			checks[name] = "unavailable"
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	resp := map[string]interface{}{"status": status}
	if len(checks) > 0 {
		resp["checks"] = checks
	}
	writeJSON(w, code, resp)
}
