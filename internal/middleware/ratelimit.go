package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketlens/gateway/internal/audit"
	apperrors "github.com/marketlens/gateway/internal/errors"
	"github.com/marketlens/gateway/internal/httputil"
	"github.com/marketlens/gateway/internal/metrics"
	"github.com/marketlens/gateway/internal/service"
)

// RateLimitMiddleware must run after AuthMiddleware so the identity is known.
type RateLimitMiddleware struct {
	limiter *service.RateLimiter
}

func NewRateLimitMiddleware(limiter *service.RateLimiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := rateLimitIdentity(r)
		decision := m.limiter.Allow(r.Context(), identity)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds() + 0.5)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			metrics.RecordRateLimited()
			log.Warn().Str("identity", identity).Str("path", r.URL.Path).Msg("rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				UserID:  identity,
				Details: map[string]interface{}{"path": r.URL.Path},
			})
			httputil.WriteError(w, apperrors.RateLimitExceeded().WithDetails(map[string]any{
				"limit":      decision.Limit,
				"retryAfter": retryAfter,
			}))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitIdentity is the session user, or the client address for
// anonymous calls.
func rateLimitIdentity(r *http.Request) string {
	identity := GetIdentity(r.Context())
	if identity != AnonymousIdentity {
		return identity
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return AnonymousIdentity + ":" + host
}
