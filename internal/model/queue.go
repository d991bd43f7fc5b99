package model

import (
	"encoding/json"
	"time"
)

type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusFailed     RequestStatus = "failed"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

// CanTransitionTo enforces pending -> processing -> completed|failed.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestStatusPending:
		return next == RequestStatusProcessing
	case RequestStatusProcessing:
		return next == RequestStatusCompleted || next == RequestStatusFailed
	default:
		return false
	}
}

type QueuedRequest struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Path        string          `json:"path"`
	Method      string          `json:"method"`
	Body        json.RawMessage `json:"body,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Status      RequestStatus   `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

type QueueStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (s *QueueStats) Add(status RequestStatus) {
	s.Total++
	switch status {
	case RequestStatusPending:
		s.Pending++
	case RequestStatusProcessing:
		s.Processing++
	case RequestStatusCompleted:
		s.Completed++
	case RequestStatusFailed:
		s.Failed++
	}
}

type EnqueueResponse struct {
	Success bool          `json:"success"`
	QueueID string        `json:"queueId"`
	Status  RequestStatus `json:"status"`
	PollURL string        `json:"pollUrl"`
	Message string        `json:"message"`
}
