package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/marketlens/gateway/internal/config"
	apperrors "github.com/marketlens/gateway/internal/errors"
	"github.com/marketlens/gateway/internal/httputil"
)

// BodyLimitMiddleware caps inbound payloads. A declared length over the cap
// is refused up front; an undeclared one is cut off while the handler reads.
type BodyLimitMiddleware struct {
	limit int64
}

func NewBodyLimitMiddleware(limit int64) *BodyLimitMiddleware {
	if limit <= 0 {
		limit = config.MaxRequestBodyBytes
	}
	return &BodyLimitMiddleware{limit: limit}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > m.limit {
			log.Warn().
				Str("path", r.URL.Path).
				Int64("contentLength", r.ContentLength).
				Int64("limit", m.limit).
				Msg("payload rejected")
			httputil.WriteErrorWithStatus(w, http.StatusRequestEntityTooLarge,
				apperrors.InvalidInput("body", "request body too large"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, m.limit)
		next.ServeHTTP(w, r)
	})
}
