package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/marketlens/gateway/internal/audit"
	apperrors "github.com/marketlens/gateway/internal/errors"
	"github.com/marketlens/gateway/internal/middleware"
	"github.com/marketlens/gateway/internal/service"
)

var errUnauthenticated = apperrors.Unauthorized("Authentication required")

type QueueHandler struct {
	queue     *service.RequestQueue
	consumer  *service.QueueConsumer
	batchSize int
}

func NewQueueHandler(queue *service.RequestQueue, consumer *service.QueueConsumer, batchSize int) *QueueHandler {
	return &QueueHandler{queue: queue, consumer: consumer, batchSize: batchSize}
}

func (h *QueueHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status/{id}", h.Status)
	r.Delete("/status/{id}", h.Remove)
	r.Get("/stats", h.Stats)
	r.Get("/cleanup", h.Cleanup)
	r.Post("/cleanup", h.Cleanup)
	r.Post("/process", h.Process)
	return r
}

// GET /queue/status/{id}
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	req, err := h.queue.GetRequestStatus(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if req == nil {
		writeError(w, apperrors.NotFound("Request "+id))
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// DELETE /queue/status/{id}
func (h *QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.queue.RemoveFromQueue(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GET /queue/stats
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	stats, err := h.queue.GetQueueStats(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// POST /queue/cleanup
func (h *QueueHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	removed, err := h.queue.ClearCompleted(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventQueueCleanup,
		UserID:  userID,
		Details: map[string]interface{}{"removed": removed},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"removed": removed,
	})
}

// POST /queue/process
// Drains up to one batch of the caller's pending jobs inline.
func (h *QueueHandler) Process(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	processed, err := h.consumer.ProcessUser(r.Context(), userID, h.batchSize)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Int("processed", processed).Msg("queue processing stopped early")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"processed": processed,
	})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeError(w, errUnauthenticated)
		return "", false
	}
	return session.UserID, true
}
