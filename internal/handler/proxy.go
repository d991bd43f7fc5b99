package handler

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/marketlens/gateway/internal/middleware"
	"github.com/marketlens/gateway/internal/model"
	"github.com/marketlens/gateway/internal/service"
)

// QueuedPaths are the long-running analysis routes. Calls to them are
// accepted into the caller's queue and answered with a poll URL.
var QueuedPaths = []string{
	"/analyze",
	"/forecast",
	"/double",
	"/cmt",
	"/benchmark",
}

type ProxyHandler struct {
	queue   *service.RequestQueue
	backend *service.BackendClient
}

func NewProxyHandler(queue *service.RequestQueue, backend *service.BackendClient) *ProxyHandler {
	return &ProxyHandler{queue: queue, backend: backend}
}

// POST /analyze, /forecast, /double, /cmt, /benchmark
func (h *ProxyHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeError(w, errUnauthenticated)
		return
	}
	if err := h.backend.CheckConfigured(); err != nil {
		writeError(w, err)
		return
	}

	body, err := readJSONBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	req, err := h.queue.Enqueue(r.Context(), session.UserID, r.URL.Path, r.Method, body)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, model.EnqueueResponse{
		Success: true,
		QueueID: req.ID,
		Status:  req.Status,
		PollURL: "/queue/status/" + req.ID,
		Message: fmt.Sprintf("Request queued. Poll %s for the result.", "/queue/status/"+req.ID),
	})
}

// Forward relays the call to the backend synchronously and answers with the
// backend's status and JSON body.
func (h *ProxyHandler) Forward(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if session := middleware.GetSession(r.Context()); session != nil {
		userID = session.UserID
	}

	body, err := readJSONBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.backend.Forward(r.Context(), userID, r.Method, r.URL.Path, r.URL.RawQuery, body)
	if err != nil {
		writeError(w, err)
		return
	}
	if !resp.OK() {
		log.Debug().
			Str("path", r.URL.Path).
			Int("status", resp.Status).
			Msg("relaying backend failure")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
