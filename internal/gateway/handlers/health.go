package handlers

import (
	"net/http"

	"fieldops/pkg/api"
)

// Healthz is a liveness probe.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz is a readiness probe. It checks the database connection.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.respondJson(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if err := h.db.Ping(r.Context()); err != nil {
		h.log(r.Context()).Error("readiness check failed", "error", err)
		h.httpError(w, "Database unavailable", http.StatusServiceUnavailable, api.CodeInternal)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ready"})
}
