package service

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/marketlens/gateway/internal/errors"
	"github.com/marketlens/gateway/internal/model"
)

// Forwarder is the part of BackendClient the consumer depends on.
type Forwarder interface {
	CheckConfigured() error
	Forward(ctx context.Context, userID, method, path, rawQuery string, body []byte) (*BackendResponse, error)
}

// QueueConsumer drains a user's queue against the backend. Runs for the same
// user are serialized within this process only; two gateway instances can
// still pick up the same job.
type QueueConsumer struct {
	queue   *RequestQueue
	backend Forwarder

	mu      sync.Mutex
	running map[string]struct{}
}

func NewQueueConsumer(queue *RequestQueue, backend Forwarder) *QueueConsumer {
	return &QueueConsumer{
		queue:   queue,
		backend: backend,
		running: make(map[string]struct{}),
	}
}

func (c *QueueConsumer) acquire(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.running[userID]; busy {
		return false
	}
	c.running[userID] = struct{}{}
	return true
}

func (c *QueueConsumer) release(userID string) {
	c.mu.Lock()
	delete(c.running, userID)
	c.mu.Unlock()
}

// ProcessUser handles up to limit pending jobs for userID (limit <= 0 means
// until the queue has no pending job) and returns how many reached a
// terminal status. A missing backend configuration fails before any job is
// touched. ctx only stops the loop between jobs: a job already marked
// processing is forwarded and recorded under the backend client's own
// timeout.
func (c *QueueConsumer) ProcessUser(ctx context.Context, userID string, limit int) (int, error) {
	if err := c.backend.CheckConfigured(); err != nil {
		return 0, err
	}
	if !c.acquire(userID) {
		log.Debug().Str("userId", userID).Msg("queue consumer already running for user")
		return 0, nil
	}
	defer c.release(userID)

	processed := 0
	for limit <= 0 || processed < limit {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		job, err := c.queue.Dequeue(ctx, userID)
		if err != nil {
			return processed, err
		}
		if job == nil {
			break
		}

		if _, err := c.queue.MarkProcessing(ctx, userID, job.ID); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition) || apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
				log.Debug().Str("requestId", job.ID).Msg("job claimed elsewhere, skipping")
				continue
			}
			return processed, err
		}

		if err := c.process(context.WithoutCancel(ctx), job); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

func (c *QueueConsumer) process(ctx context.Context, job *model.QueuedRequest) error {
	resp, err := c.backend.Forward(ctx, job.UserID, job.Method, job.Path, "", job.Body)

	var final *model.QueuedRequest
	var markErr error
	switch {
	case err != nil:
		final, markErr = c.queue.MarkFailed(ctx, job.UserID, job.ID, describeFailure(err))
	case !resp.OK():
		final, markErr = c.queue.MarkFailed(ctx, job.UserID, job.ID, resp.ErrorMessage())
	default:
		final, markErr = c.queue.MarkCompleted(ctx, job.UserID, job.ID, resp.Body)
	}
	if markErr != nil {
		return markErr
	}
	if err := c.queue.Retire(ctx, job.UserID, job.ID); err != nil {
		log.Warn().Err(err).Str("requestId", job.ID).Msg("failed to retire finished job")
	}

	event := log.Info()
	if final.Status == model.RequestStatusFailed {
		event = log.Warn().Str("error", final.Error)
	}
	event.
		Str("userId", job.UserID).
		Str("requestId", job.ID).
		Str("path", job.Path).
		Str("status", string(final.Status)).
		Msg("queued request processed")
	return nil
}

func describeFailure(err error) string {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		return err.Error()
	}
	if details, ok := appErr.Details.(InvalidResponseDetails); ok {
		return appErr.Message + ": " + details.Hint
	}
	if cause := errors.Unwrap(appErr); cause != nil {
		return appErr.Message + ": " + cause.Error()
	}
	return appErr.Message
}
