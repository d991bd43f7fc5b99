package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripPrefix(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path + "?" + r.URL.RawQuery))
	})
	handler := StripPrefix("/api/v1")(echo)

	tests := []struct {
		target string
		want   string
	}{
		{"/api/v1/analyze", "/analyze?"},
		{"/api/v1/queue/status/abc?x=1", "/queue/status/abc?x=1"},
		{"/api/v1", "/?"},
		{"/analyze", "/analyze?"},
		{"/api/v10/analyze", "/api/v10/analyze?"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest("GET", tt.target, nil))
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestBodyLimitMiddleware(t *testing.T) {
	handler := NewBodyLimitMiddleware(8).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/analyze", stringsReader("0123456789"))
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/analyze", stringsReader("{}")))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
