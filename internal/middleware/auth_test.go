package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlens/gateway/internal/service"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func identityHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetIdentity(r.Context())))
	})
}

func TestIsPublicPath(t *testing.T) {
	for _, path := range []string{"/health", "/auth", "/auth/", "/verify-otp", "/auth/verify", "/announcements"} {
		assert.True(t, IsPublicPath(path), path)
	}
	for _, path := range []string{"/", "/analyze", "/queue/status/x", "/auth/other", "/healthz", "/metrics"} {
		assert.False(t, IsPublicPath(path), path)
	}
}

func TestAuthMiddleware(t *testing.T) {
	tokens := service.NewTokenService(testSecret, time.Hour)
	handler := NewAuthMiddleware(tokens).Handler(identityHandler())

	t.Run("public path passes without token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/auth", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, AnonymousIdentity, rec.Body.String())
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/analyze", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "UNAUTHORIZED", body["code"])
	})

	t.Run("valid token attaches identity", func(t *testing.T) {
		token, _, err := tokens.IssueSession("usr_1", "trader@example.com")
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/analyze", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "usr_1", rec.Body.String())
	})

	t.Run("expired token is rejected before the handler", func(t *testing.T) {
		past := time.Now().Add(-time.Hour - time.Second)
		expired := service.NewTokenService(testSecret, time.Hour).WithClock(func() time.Time { return past })
		token, _, err := expired.IssueSession("usr_1", "")
		require.NoError(t, err)

		called := false
		h := NewAuthMiddleware(tokens).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		req := httptest.NewRequest("GET", "/daily-report", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "TOKEN_EXPIRED")
		assert.False(t, called)
	})

	t.Run("garbage token is invalid", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/queue/stats", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_TOKEN")
	})
}
