package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketlens/gateway/internal/kv"
)

const rateLimitKeyPrefix = "ratelimit:"

type rateCounter struct {
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type RateDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a fixed-window counter per identity kept in the KV store.
// The window is the key TTL, refreshed on every counted request. Increments
// are read-then-write, so concurrent callers can slightly overshoot the limit.
type RateLimiter struct {
	store  kv.Store
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(store kv.Store, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// Allow counts one request for identity. Store failures allow the request.
func (rl *RateLimiter) Allow(ctx context.Context, identity string) RateDecision {
	key := rateLimitKeyPrefix + identity
	now := rl.now()

	counter, found, err := kv.GetJSON[rateCounter](ctx, rl.store, key)
	if err != nil {
		log.Warn().
			Err(err).
			Str("identity", identity).
			Msg("rate limit check failed, allowing request")
		return RateDecision{Allowed: true, Limit: rl.limit, Remaining: rl.limit, ResetAt: now.Add(rl.window)}
	}
	if !found {
		counter = &rateCounter{}
	}

	if counter.Count >= rl.limit {
		return RateDecision{
			Allowed:   false,
			Limit:     rl.limit,
			Remaining: 0,
			ResetAt:   counter.UpdatedAt.Add(rl.window),
		}
	}

	counter.Count++
	counter.UpdatedAt = now
	if err := kv.PutJSON(ctx, rl.store, key, counter, rl.window); err != nil {
		log.Warn().
			Err(err).
			Str("identity", identity).
			Msg("rate limit update failed, allowing request")
	}

	return RateDecision{
		Allowed:   true,
		Limit:     rl.limit,
		Remaining: rl.limit - counter.Count,
		ResetAt:   now.Add(rl.window),
	}
}
