package handlers

import (
	"net/http"

	"photostage/internal/startup"
)

// Healthz is the liveness probe.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// Readyz is the readiness probe; it fails when the database is
// unreachable.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSONError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// Version reports build information plus tool availability.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"build":    startup.GetBuildInfo(),
		"exiftool": h.config.ExiftoolAvailable,
	})
}

// Stats reports staging counts and queue depth.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		writeJSONError(w, "failed to collect stats", http.StatusInternalServerError)
		return
	}
	h.db.UpdateDBMetrics()
	writeJSON(w, map[string]interface{}{
		"staging":    stats,
		"queueDepth": h.queue.Depth(),
	})
}
