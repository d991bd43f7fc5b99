package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlens/gateway/internal/kv"
	"github.com/marketlens/gateway/internal/service"
)

func newTestProxy(t *testing.T, backendURL string) (*ProxyHandler, *service.RequestQueue) {
	t.Helper()
	queue := service.NewRequestQueue(kv.NewMemoryStore(), 3, time.Hour)
	backend := service.NewBackendClient(service.BackendConfig{
		URL:     backendURL,
		Token:   "backend-token",
		Timeout: 5 * time.Second,
	})
	return NewProxyHandler(queue, backend), queue
}

func TestProxyHandler_Enqueue(t *testing.T) {
	t.Run("accepts and returns poll url", func(t *testing.T) {
		h, queue := newTestProxy(t, "http://backend.invalid")

		rec := httptest.NewRecorder()
		h.Enqueue(rec, withUser(jsonRequest("POST", "/analyze", `{"symbol":"AAPL"}`), "usr_1"))

		require.Equal(t, http.StatusAccepted, rec.Code)
		body := decodeBody(t, rec)
		id := body["queueId"].(string)
		assert.Equal(t, "pending", body["status"])
		assert.Equal(t, "/queue/status/"+id, body["pollUrl"])

		job, err := queue.GetRequestStatus(t.Context(), "usr_1", id)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "/analyze", job.Path)
		assert.JSONEq(t, `{"symbol":"AAPL"}`, string(job.Body))
	})

	t.Run("empty body is allowed", func(t *testing.T) {
		h, _ := newTestProxy(t, "http://backend.invalid")

		rec := httptest.NewRecorder()
		h.Enqueue(rec, withUser(httptest.NewRequest("POST", "/benchmark", nil), "usr_1"))

		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("rejects non-json body", func(t *testing.T) {
		h, _ := newTestProxy(t, "http://backend.invalid")

		rec := httptest.NewRecorder()
		h.Enqueue(rec, withUser(jsonRequest("POST", "/analyze", `symbol=AAPL`), "usr_1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("full queue", func(t *testing.T) {
		h, _ := newTestProxy(t, "http://backend.invalid")
		for range 3 {
			rec := httptest.NewRecorder()
			h.Enqueue(rec, withUser(jsonRequest("POST", "/cmt", `{}`), "usr_1"))
			require.Equal(t, http.StatusAccepted, rec.Code)
		}

		rec := httptest.NewRecorder()
		h.Enqueue(rec, withUser(jsonRequest("POST", "/cmt", `{}`), "usr_1"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "QUEUE_FULL", decodeBody(t, rec)["code"])
	})

	t.Run("misconfigured backend", func(t *testing.T) {
		h, _ := newTestProxy(t, "")

		rec := httptest.NewRecorder()
		h.Enqueue(rec, withUser(jsonRequest("POST", "/analyze", `{}`), "usr_1"))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "BACKEND_MISCONFIGURED", decodeBody(t, rec)["code"])
	})

	t.Run("requires session", func(t *testing.T) {
		h, _ := newTestProxy(t, "http://backend.invalid")

		rec := httptest.NewRecorder()
		h.Enqueue(rec, jsonRequest("POST", "/analyze", `{}`))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestProxyHandler_Forward(t *testing.T) {
	t.Run("relays status, body and query", func(t *testing.T) {
		seen := make(chan *http.Request, 1)
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen <- r.Clone(context.Background())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"no report for that date"}`)
		}))
		defer backend.Close()
		h, _ := newTestProxy(t, backend.URL)

		rec := httptest.NewRecorder()
		h.Forward(rec, withUser(httptest.NewRequest("GET", "/daily-report?date=2026-03-02", nil), "usr_1"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"no report for that date"}`, rec.Body.String())
		got := <-seen
		assert.Equal(t, "date=2026-03-02", got.URL.RawQuery)
		assert.Equal(t, "usr_1", got.Header.Get("X-User-Id"))
	})

	t.Run("html error page becomes structured error", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, "<html><body>Service Unavailable</body></html>")
		}))
		defer backend.Close()
		h, _ := newTestProxy(t, backend.URL)

		rec := httptest.NewRecorder()
		h.Forward(rec, withUser(httptest.NewRequest("GET", "/learning-metrics", nil), "usr_1"))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "BACKEND_INVALID_RESPONSE", body["code"])
		details := body["details"].(map[string]any)
		assert.Equal(t, float64(503), details["status"])
		assert.Contains(t, details["excerpt"], "Service Unavailable")
		assert.NotEmpty(t, details["hint"])
	})

	t.Run("unreachable backend", func(t *testing.T) {
		backend := httptest.NewServer(http.NotFoundHandler())
		url := backend.URL
		backend.Close()
		h, _ := newTestProxy(t, url)

		rec := httptest.NewRecorder()
		h.Forward(rec, httptest.NewRequest("POST", "/announcements", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "BACKEND_UNAVAILABLE", decodeBody(t, rec)["code"])
	})
}
