package handler

import (
	"net/http"
	"time"
)

type HealthHandler struct {
	storeBackend string
	backend      interface{ Missing() []string }
	startedAt    time.Time
}

func NewHealthHandler(storeBackend string, backend interface{ Missing() []string }) *HealthHandler {
	return &HealthHandler{
		storeBackend: storeBackend,
		backend:      backend,
		startedAt:    time.Now(),
	}
}

// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	missing := h.backend.Missing()
	body := map[string]any{
		"status":            "ok",
		"timestamp":         time.Now().UnixMilli(),
		"uptimeSeconds":     int64(time.Since(h.startedAt).Seconds()),
		"store":             h.storeBackend,
		"backendConfigured": len(missing) == 0,
	}
	if len(missing) > 0 {
		body["backendMissing"] = missing
	}
	writeJSON(w, http.StatusOK, body)
}
