package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/marketlens/gateway/internal/audit"
	"github.com/marketlens/gateway/internal/httputil"
	"github.com/marketlens/gateway/internal/model"
	"github.com/marketlens/gateway/internal/service"
)

type contextKey string

const SessionContextKey contextKey = "session"

// AnonymousIdentity keys rate limiting for calls that carry no session.
const AnonymousIdentity = "anonymous"

// PublicPaths bypass authentication. Everything else needs a bearer session.
var PublicPaths = []string{
	"/health",
	"/auth",
	"/verify-otp",
	"/auth/verify",
	"/announcements",
}

func IsPublicPath(path string) bool {
	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}
	for _, p := range PublicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func GetSession(ctx context.Context) *model.SessionClaims {
	if session, ok := ctx.Value(SessionContextKey).(*model.SessionClaims); ok {
		return session
	}
	return nil
}

// GetIdentity returns the authenticated user id, or AnonymousIdentity.
func GetIdentity(ctx context.Context) string {
	if session := GetSession(ctx); session != nil {
		return session.UserID
	}
	return AnonymousIdentity
}

func WithSession(ctx context.Context, session *model.SessionClaims) context.Context {
	return context.WithValue(ctx, SessionContextKey, session)
}

type AuthMiddleware struct {
	tokens *service.TokenService
}

func NewAuthMiddleware(tokens *service.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		session, err := m.tokens.VerifySession(r.Header.Get("Authorization"))
		if err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("auth middleware: rejected request")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"path": r.URL.Path, "reason": err.Error()},
			})
			httputil.WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}
