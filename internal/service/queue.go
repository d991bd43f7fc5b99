package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/marketlens/gateway/internal/errors"
	"github.com/marketlens/gateway/internal/kv"
	"github.com/marketlens/gateway/internal/metrics"
	"github.com/marketlens/gateway/internal/model"
)

const activeUsersKey = "queue:active"

func queueListKey(userID string) string {
	return fmt.Sprintf("queue:%s:list", userID)
}

func queueDoneKey(userID string) string {
	return fmt.Sprintf("queue:%s:done", userID)
}

func queueRecordKey(userID, requestID string) string {
	return fmt.Sprintf("queue:%s:req:%s", userID, requestID)
}

// RequestQueue is a per-user FIFO of jobs. Order lives in an id list and each
// job in its own record, so a status lookup is one read. Finished jobs are
// retired from the list into a done list, which keeps them pollable without
// counting against the queue bound. Both lists are read-modify-write without
// a lock: a concurrent enqueue for the same user can lose an id, which then
// expires with its record.
type RequestQueue struct {
	store   kv.Store
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

func NewRequestQueue(store kv.Store, maxSize int, ttl time.Duration) *RequestQueue {
	return &RequestQueue{
		store:   store,
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (q *RequestQueue) Enqueue(ctx context.Context, userID, path, method string, body json.RawMessage) (*model.QueuedRequest, error) {
	ids, err := q.loadList(ctx, userID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if len(ids) >= q.maxSize {
		return nil, apperrors.QueueFull(userID, q.maxSize)
	}

	now := q.now()
	req := &model.QueuedRequest{
		ID:        fmt.Sprintf("%s-%d-%s", userID, now.UnixMilli(), uuid.NewString()[:8]),
		UserID:    userID,
		Path:      path,
		Method:    method,
		Body:      body,
		Timestamp: now,
		Status:    model.RequestStatusPending,
	}

	if err := kv.PutJSON(ctx, q.store, queueRecordKey(userID, req.ID), req, q.ttl); err != nil {
		return nil, apperrors.Storage(err)
	}
	if err := q.saveList(ctx, userID, append(ids, req.ID)); err != nil {
		if delErr := q.store.Delete(ctx, queueRecordKey(userID, req.ID)); delErr != nil {
			log.Warn().Err(delErr).Str("requestId", req.ID).Msg("failed to roll back queued record")
		}
		return nil, apperrors.Storage(err)
	}
	if err := q.markActive(ctx, userID); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to register active queue user")
	}

	metrics.RecordEnqueued()
	log.Info().
		Str("userId", userID).
		Str("requestId", req.ID).
		Str("path", path).
		Int("position", len(ids)+1).
		Msg("request enqueued")

	return req, nil
}

// Dequeue returns the oldest pending job without changing it. Ids whose
// records have disappeared are dropped from the list; jobs already past
// pending are stepped over. The scan is bounded by the list length.
func (q *RequestQueue) Dequeue(ctx context.Context, userID string) (*model.QueuedRequest, error) {
	ids, err := q.loadList(ctx, userID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}

	var (
		next     *model.QueuedRequest
		stale    []string
		finished []string
	)
	for i := 0; i < len(ids) && next == nil; i++ {
		req, found, err := q.getRecord(ctx, userID, ids[i])
		if err != nil {
			return nil, apperrors.Storage(err)
		}
		switch {
		case !found:
			stale = append(stale, ids[i])
		case req.Status.Terminal():
			finished = append(finished, ids[i])
		case req.Status == model.RequestStatusPending:
			next = req
		}
	}

	if len(stale) > 0 || len(finished) > 0 {
		drop := slices.Concat(stale, finished)
		remaining := slices.DeleteFunc(slices.Clone(ids), func(id string) bool {
			return slices.Contains(drop, id)
		})
		if err := q.saveList(ctx, userID, remaining); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to drop stale queue entries")
		} else {
			if len(stale) > 0 {
				log.Debug().Str("userId", userID).Strs("dropped", stale).Msg("dropped stale queue entries")
			}
			if err := q.appendDone(ctx, userID, finished...); err != nil {
				log.Warn().Err(err).Str("userId", userID).Msg("failed to record finished queue entries")
			}
		}
	}

	if next == nil {
		if err := q.markInactive(ctx, userID); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to deregister idle queue user")
		}
	}

	return next, nil
}

func (q *RequestQueue) MarkProcessing(ctx context.Context, userID, requestID string) (*model.QueuedRequest, error) {
	return q.transition(ctx, userID, requestID, model.RequestStatusProcessing, func(req *model.QueuedRequest, now time.Time) {
		req.StartedAt = &now
	})
}

func (q *RequestQueue) MarkCompleted(ctx context.Context, userID, requestID string, result json.RawMessage) (*model.QueuedRequest, error) {
	return q.transition(ctx, userID, requestID, model.RequestStatusCompleted, func(req *model.QueuedRequest, now time.Time) {
		req.Result = result
		req.Error = ""
		req.CompletedAt = &now
	})
}

func (q *RequestQueue) MarkFailed(ctx context.Context, userID, requestID string, reason string) (*model.QueuedRequest, error) {
	return q.transition(ctx, userID, requestID, model.RequestStatusFailed, func(req *model.QueuedRequest, now time.Time) {
		req.Result = nil
		req.Error = reason
		req.CompletedAt = &now
	})
}

func (q *RequestQueue) transition(
	ctx context.Context,
	userID, requestID string,
	next model.RequestStatus,
	mutate func(req *model.QueuedRequest, now time.Time),
) (*model.QueuedRequest, error) {
	req, found, err := q.getRecord(ctx, userID, requestID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if !found {
		return nil, apperrors.NotFound("Request " + requestID)
	}
	if !req.Status.CanTransitionTo(next) {
		return nil, apperrors.InvalidTransition(requestID, string(req.Status), string(next))
	}

	req.Status = next
	mutate(req, q.now())

	if err := kv.PutJSON(ctx, q.store, queueRecordKey(userID, requestID), req, q.ttl); err != nil {
		return nil, apperrors.Storage(err)
	}
	metrics.RecordJobStatus(string(next))
	return req, nil
}

// Retire moves a finished job from the ordered list to the done list. The
// record is kept, so its status stays queryable until cleanup or expiry.
func (q *RequestQueue) Retire(ctx context.Context, userID, requestID string) error {
	ids, err := q.loadList(ctx, userID)
	if err != nil {
		return apperrors.Storage(err)
	}
	if idx := slices.Index(ids, requestID); idx >= 0 {
		if err := q.saveList(ctx, userID, slices.Delete(ids, idx, idx+1)); err != nil {
			return apperrors.Storage(err)
		}
	}
	if err := q.appendDone(ctx, userID, requestID); err != nil {
		return apperrors.Storage(err)
	}
	return nil
}

// RemoveFromQueue deletes the record and its list entries. Absent ids are a no-op.
func (q *RequestQueue) RemoveFromQueue(ctx context.Context, userID, requestID string) error {
	if err := q.store.Delete(ctx, queueRecordKey(userID, requestID)); err != nil {
		return apperrors.Storage(err)
	}

	ids, err := q.loadList(ctx, userID)
	if err != nil {
		return apperrors.Storage(err)
	}
	if idx := slices.Index(ids, requestID); idx >= 0 {
		if err := q.saveList(ctx, userID, slices.Delete(ids, idx, idx+1)); err != nil {
			return apperrors.Storage(err)
		}
	}

	done, err := q.loadDone(ctx, userID)
	if err != nil {
		return apperrors.Storage(err)
	}
	if idx := slices.Index(done, requestID); idx >= 0 {
		if err := q.saveDone(ctx, userID, slices.Delete(done, idx, idx+1)); err != nil {
			return apperrors.Storage(err)
		}
	}
	return nil
}

// GetRequestStatus returns nil when the job does not exist for this user.
func (q *RequestQueue) GetRequestStatus(ctx context.Context, userID, requestID string) (*model.QueuedRequest, error) {
	req, found, err := q.getRecord(ctx, userID, requestID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if !found {
		return nil, nil
	}
	return req, nil
}

func (q *RequestQueue) GetQueueStats(ctx context.Context, userID string) (*model.QueueStats, error) {
	ids, err := q.loadList(ctx, userID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	done, err := q.loadDone(ctx, userID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}

	stats := &model.QueueStats{}
	for _, id := range slices.Concat(ids, done) {
		req, found, err := q.getRecord(ctx, userID, id)
		if err != nil {
			return nil, apperrors.Storage(err)
		}
		if found {
			stats.Add(req.Status)
		}
	}
	return stats, nil
}

// ClearCompleted deletes the records of finished jobs, retired or still
// listed, and drops ids whose records have expired. It returns how many
// entries were dropped.
func (q *RequestQueue) ClearCompleted(ctx context.Context, userID string) (int, error) {
	done, err := q.loadDone(ctx, userID)
	if err != nil {
		return 0, apperrors.Storage(err)
	}
	removed := 0
	for _, id := range done {
		if err := q.store.Delete(ctx, queueRecordKey(userID, id)); err != nil {
			return 0, apperrors.Storage(err)
		}
		removed++
	}
	if len(done) > 0 {
		if err := q.saveDone(ctx, userID, nil); err != nil {
			return 0, apperrors.Storage(err)
		}
	}

	ids, err := q.loadList(ctx, userID)
	if err != nil {
		return 0, apperrors.Storage(err)
	}

	kept := make([]string, 0, len(ids))
	listed := 0
	for _, id := range ids {
		req, found, err := q.getRecord(ctx, userID, id)
		if err != nil {
			return 0, apperrors.Storage(err)
		}
		if found && !req.Status.Terminal() {
			kept = append(kept, id)
			continue
		}
		if found {
			if err := q.store.Delete(ctx, queueRecordKey(userID, id)); err != nil {
				return 0, apperrors.Storage(err)
			}
		}
		listed++
	}

	if listed > 0 {
		if err := q.saveList(ctx, userID, kept); err != nil {
			return 0, apperrors.Storage(err)
		}
	}
	return removed + listed, nil
}

// ActiveUsers lists users that had a pending job at their last enqueue and
// have not been found idle since.
func (q *RequestQueue) ActiveUsers(ctx context.Context) ([]string, error) {
	users, _, err := kv.GetJSON[[]string](ctx, q.store, activeUsersKey)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if users == nil {
		return nil, nil
	}
	return *users, nil
}

// markActive always writes the registry, even when userID is already listed,
// so it lands after any deregistration that read the registry first.
func (q *RequestQueue) markActive(ctx context.Context, userID string) error {
	users, err := q.ActiveUsers(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(users, userID) {
		users = append(users, userID)
	}
	return kv.PutJSON(ctx, q.store, activeUsersKey, users, q.ttl)
}

// markInactive deregisters userID, then looks at the queue again and
// re-registers if an enqueue slipped in after the caller found it idle.
func (q *RequestQueue) markInactive(ctx context.Context, userID string) error {
	users, err := q.ActiveUsers(ctx)
	if err != nil {
		return err
	}
	idx := slices.Index(users, userID)
	if idx < 0 {
		return nil
	}
	users = slices.Delete(users, idx, idx+1)
	if len(users) == 0 {
		err = q.store.Delete(ctx, activeUsersKey)
	} else {
		err = kv.PutJSON(ctx, q.store, activeUsersKey, users, q.ttl)
	}
	if err != nil {
		return err
	}

	pending, err := q.hasPending(ctx, userID)
	if err != nil {
		return err
	}
	if pending {
		log.Debug().Str("userId", userID).Msg("queue user re-registered after late enqueue")
		return q.markActive(ctx, userID)
	}
	return nil
}

func (q *RequestQueue) hasPending(ctx context.Context, userID string) (bool, error) {
	ids, err := q.loadList(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		req, found, err := q.getRecord(ctx, userID, id)
		if err != nil {
			return false, err
		}
		if found && req.Status == model.RequestStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (q *RequestQueue) loadList(ctx context.Context, userID string) ([]string, error) {
	ids, found, err := kv.GetJSON[[]string](ctx, q.store, queueListKey(userID))
	if err != nil {
		return nil, fmt.Errorf("load queue list: %w", err)
	}
	if !found || ids == nil {
		return nil, nil
	}
	return *ids, nil
}

func (q *RequestQueue) saveList(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return q.store.Delete(ctx, queueListKey(userID))
	}
	if err := kv.PutJSON(ctx, q.store, queueListKey(userID), ids, q.ttl); err != nil {
		return fmt.Errorf("save queue list: %w", err)
	}
	return nil
}

func (q *RequestQueue) loadDone(ctx context.Context, userID string) ([]string, error) {
	ids, found, err := kv.GetJSON[[]string](ctx, q.store, queueDoneKey(userID))
	if err != nil {
		return nil, fmt.Errorf("load done list: %w", err)
	}
	if !found || ids == nil {
		return nil, nil
	}
	return *ids, nil
}

func (q *RequestQueue) saveDone(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return q.store.Delete(ctx, queueDoneKey(userID))
	}
	if err := kv.PutJSON(ctx, q.store, queueDoneKey(userID), ids, q.ttl); err != nil {
		return fmt.Errorf("save done list: %w", err)
	}
	return nil
}

// appendDone keeps at most maxSize ids, newest last. Older ids fall off the
// list and their records are left to expire.
func (q *RequestQueue) appendDone(ctx context.Context, userID string, requestIDs ...string) error {
	if len(requestIDs) == 0 {
		return nil
	}
	done, err := q.loadDone(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range requestIDs {
		if !slices.Contains(done, id) {
			done = append(done, id)
		}
	}
	if over := len(done) - q.maxSize; over > 0 {
		done = done[over:]
	}
	return q.saveDone(ctx, userID, done)
}

func (q *RequestQueue) getRecord(ctx context.Context, userID, requestID string) (*model.QueuedRequest, bool, error) {
	req, found, err := kv.GetJSON[model.QueuedRequest](ctx, q.store, queueRecordKey(userID, requestID))
	if err != nil {
		return nil, false, fmt.Errorf("load queued request %s: %w", requestID, err)
	}
	return req, found, nil
}
