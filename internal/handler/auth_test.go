package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlens/gateway/internal/kv"
	"github.com/marketlens/gateway/internal/service"
)

func newTestAuthHandler(sender *captureSender, fallback bool) (*AuthHandler, *kv.MemoryStore) {
	store := kv.NewMemoryStore()
	tokens := service.NewTokenService(testSecret, time.Hour)
	auth := service.NewAuthenticator(store, sender, tokens, service.AuthenticatorConfig{
		CodeTTL:            10 * time.Minute,
		FallbackInResponse: fallback,
	})
	return NewAuthHandler(auth, tokens), store
}

func TestAuthHandler_RequestCode(t *testing.T) {
	t.Run("issues a code", func(t *testing.T) {
		sender := newCaptureSender()
		h, store := newTestAuthHandler(sender, false)

		rec := httptest.NewRecorder()
		h.RequestCode(rec, jsonRequest("POST", "/auth", `{"email":"Trader@Example.com"}`))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		assert.NotEmpty(t, body["methodId"])
		assert.Nil(t, body["code"])
		assert.Len(t, sender.codeFor("trader@example.com"), 6)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("rejects invalid email without storing", func(t *testing.T) {
		h, store := newTestAuthHandler(newCaptureSender(), false)

		rec := httptest.NewRecorder()
		h.RequestCode(rec, jsonRequest("POST", "/auth", `{"email":"not-an-email"}`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", decodeBody(t, rec)["code"])
		assert.Equal(t, 0, store.Len())
	})

	t.Run("requires email", func(t *testing.T) {
		h, _ := newTestAuthHandler(newCaptureSender(), false)

		rec := httptest.NewRecorder()
		h.RequestCode(rec, jsonRequest("POST", "/auth", `{}`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MISSING_REQUIRED", decodeBody(t, rec)["code"])
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		h, _ := newTestAuthHandler(newCaptureSender(), false)

		rec := httptest.NewRecorder()
		h.RequestCode(rec, jsonRequest("POST", "/auth", `{"email":`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns code when delivery fails and fallback is on", func(t *testing.T) {
		sender := newCaptureSender()
		sender.fail = true
		h, _ := newTestAuthHandler(sender, true)

		rec := httptest.NewRecorder()
		h.RequestCode(rec, jsonRequest("POST", "/auth", `{"email":"a@b.io"}`))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["deliveryFailed"])
		assert.Equal(t, sender.codeFor("a@b.io"), body["code"])
	})

	t.Run("hides code when delivery fails and fallback is off", func(t *testing.T) {
		sender := newCaptureSender()
		sender.fail = true
		h, _ := newTestAuthHandler(sender, false)

		rec := httptest.NewRecorder()
		h.RequestCode(rec, jsonRequest("POST", "/auth", `{"email":"a@b.io"}`))

		body := decodeBody(t, rec)
		assert.Equal(t, true, body["deliveryFailed"])
		assert.Nil(t, body["code"])
	})
}

func TestAuthHandler_VerifyOTP(t *testing.T) {
	sender := newCaptureSender()
	h, store := newTestAuthHandler(sender, false)

	rec := httptest.NewRecorder()
	h.RequestCode(rec, jsonRequest("POST", "/auth", `{"email":"a@b.io"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	methodID := decodeBody(t, rec)["methodId"].(string)

	t.Run("wrong code is rejected", func(t *testing.T) {
		wrong := "000000"
		if sender.codeFor("a@b.io") == wrong {
			wrong = "111111"
		}
		rec := httptest.NewRecorder()
		h.VerifyOTP(rec, jsonRequest("POST", "/verify-otp",
			`{"methodId":"`+methodID+`","code":"`+wrong+`","email":"a@b.io"}`))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "INVALID_CODE", decodeBody(t, rec)["code"])
	})

	t.Run("correct code logs in once", func(t *testing.T) {
		payload := `{"methodId":"` + methodID + `","code":"` + sender.codeFor("a@b.io") + `","email":"a@b.io"}`

		rec := httptest.NewRecorder()
		h.VerifyOTP(rec, jsonRequest("POST", "/verify-otp", payload))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "a@b.io", body["email"])
		assert.NotEmpty(t, body["sessionJwt"])
		assert.NotEmpty(t, body["userId"])
		assert.Equal(t, 0, store.Len())

		rec = httptest.NewRecorder()
		h.VerifyOTP(rec, jsonRequest("POST", "/verify-otp", payload))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthHandler_VerifyToken(t *testing.T) {
	h, _ := newTestAuthHandler(newCaptureSender(), false)
	token, _, err := h.tokens.IssueSession("usr_1", "a@b.io")
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/auth/verify", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.VerifyToken(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, "usr_1", body["userId"])
	})

	t.Run("token in body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.VerifyToken(rec, jsonRequest("POST", "/auth/verify", `{"token":"`+token+`"}`))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.VerifyToken(rec, httptest.NewRequest("POST", "/auth/verify", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		past := service.NewTokenService(testSecret, time.Hour).
			WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
		expired, _, err := past.IssueSession("usr_1", "a@b.io")
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/auth/verify", nil)
		req.Header.Set("Authorization", "Bearer "+expired)
		rec := httptest.NewRecorder()
		h.VerifyToken(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "TOKEN_EXPIRED", decodeBody(t, rec)["code"])
	})
}
