package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketlens/gateway/internal/middleware"
	"github.com/marketlens/gateway/internal/model"
)

const testSecret = "handler-test-secret-with-enough-length"

// captureSender records the last code it was asked to deliver.
type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	fail  bool
}

func newCaptureSender() *captureSender {
	return &captureSender{codes: make(map[string]string)}
}

func (s *captureSender) SendCode(ctx context.Context, email, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[email] = code
	if s.fail {
		return errors.New("smtp: 421 service not available")
	}
	return nil
}

func (s *captureSender) codeFor(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[email]
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.WithSession(req.Context(), &model.SessionClaims{
		UserID: userID,
		Email:  userID + "@example.com",
	}))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
