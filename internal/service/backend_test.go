package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlens/gateway/internal/config"
	apperrors "github.com/marketlens/gateway/internal/errors"
)

func TestBackendClient_Forward(t *testing.T) {
	ctx := context.Background()

	t.Run("sends identity and gateway token headers", func(t *testing.T) {
		var got *http.Request
		var gotBody string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Clone(context.Background())
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"aiAnalysis":"BUY AAPL"}`))
		}))
		defer server.Close()

		client := NewBackendClient(BackendConfig{URL: server.URL + "/", Token: "backend-secret", Timeout: 5 * time.Second})
		resp, err := client.Forward(ctx, "usr_1", "POST", "/analyze", "horizon=5d", []byte(`{"symbol":"AAPL"}`))
		require.NoError(t, err)

		assert.True(t, resp.OK())
		assert.JSONEq(t, `{"aiAnalysis":"BUY AAPL"}`, string(resp.Body))
		assert.Equal(t, "/analyze", got.URL.Path)
		assert.Equal(t, "horizon=5d", got.URL.RawQuery)
		assert.Equal(t, "usr_1", got.Header.Get(config.HeaderUserID))
		assert.Equal(t, "backend-secret", got.Header.Get(config.HeaderGatewayToken))
		assert.Equal(t, "Bearer backend-secret", got.Header.Get("Authorization"))
		assert.Equal(t, `{"symbol":"AAPL"}`, gotBody)
	})

	t.Run("json error bodies pass through with status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"unknown symbol ZZZZ"}`))
		}))
		defer server.Close()

		client := NewBackendClient(BackendConfig{URL: server.URL, Token: "t", Timeout: 5 * time.Second})
		resp, err := client.Forward(ctx, "usr_1", "POST", "/analyze", "", nil)
		require.NoError(t, err)
		assert.False(t, resp.OK())
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Status)
		assert.Equal(t, "backend returned 422: unknown symbol ZZZZ", resp.ErrorMessage())
	})

	t.Run("html error page becomes structured error", func(t *testing.T) {
		page := "<!DOCTYPE html><html><head><title>502 Bad Gateway</title></head><body>" + strings.Repeat("x", 2000) + "</body></html>"
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(page))
		}))
		defer server.Close()

		client := NewBackendClient(BackendConfig{URL: server.URL, Token: "t", Timeout: 5 * time.Second})
		_, err := client.Forward(ctx, "usr_1", "GET", "/daily-report", "", nil)

		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeBackendInvalidResponse, appErr.Code)

		details, ok := appErr.Details.(InvalidResponseDetails)
		require.True(t, ok)
		assert.Equal(t, 502, details.Status)
		assert.Equal(t, 502, details.HTTPStatus())
		assert.Len(t, details.Excerpt, config.BackendExcerptLimit)
		assert.True(t, strings.HasPrefix(details.Excerpt, "<!DOCTYPE html>"))
		assert.Contains(t, details.Hint, "HTML page")
	})

	t.Run("missing configuration fails without a call", func(t *testing.T) {
		client := NewBackendClient(BackendConfig{Timeout: time.Second})
		_, err := client.Forward(ctx, "usr_1", "GET", "/daily-report", "", nil)

		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeBackendMisconfigured, appErr.Code)
		details := appErr.Details.(map[string]any)
		assert.Equal(t, []string{"BACKEND_URL", "BACKEND_TOKEN"}, details["missing"])
	})

	t.Run("unreachable backend is unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		client := NewBackendClient(BackendConfig{URL: url, Token: "t", Timeout: time.Second})
		_, err := client.Forward(ctx, "usr_1", "GET", "/daily-report", "", nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBackendUnavailable))
	})

	t.Run("slow backend times out as unavailable", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		client := NewBackendClient(BackendConfig{URL: server.URL, Token: "t", Timeout: 50 * time.Millisecond})
		_, err := client.Forward(ctx, "usr_1", "GET", "/daily-report", "", nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBackendUnavailable))
	})
}

func TestTranslateResponse(t *testing.T) {
	t.Run("empty body is an empty object", func(t *testing.T) {
		resp, err := TranslateResponse(http.StatusNoContent, "", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(resp.Body))
	})

	t.Run("plain text gets the unparseable hint", func(t *testing.T) {
		_, err := TranslateResponse(http.StatusOK, "text/plain", []byte("Internal Server Error"))
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)

		details := appErr.Details.(InvalidResponseDetails)
		assert.Equal(t, http.StatusBadGateway, details.HTTPStatus())
		assert.Equal(t, "Internal Server Error", details.Excerpt)
		assert.Contains(t, details.Hint, "could not be parsed as JSON")
	})

	t.Run("html is detected without a content type", func(t *testing.T) {
		_, err := TranslateResponse(http.StatusServiceUnavailable, "", []byte("  <html><body>down</body></html>"))
		appErr, _ := apperrors.AsAppError(err)
		details := appErr.Details.(InvalidResponseDetails)
		assert.Equal(t, http.StatusServiceUnavailable, details.HTTPStatus())
		assert.Contains(t, details.Hint, "HTML page")
	})
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt("short", 10))
	assert.Equal(t, "abcde", Excerpt("abcdefgh", 5))
	// "é" is two bytes; cutting at 2 would split it.
	assert.Equal(t, "a", Excerpt("aéb", 2))
}
