package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/marketlens/gateway/internal/errors"
	"github.com/marketlens/gateway/internal/model"
	"github.com/marketlens/gateway/internal/service"
)

type AuthHandler struct {
	auth   *service.Authenticator
	tokens *service.TokenService
}

func NewAuthHandler(auth *service.Authenticator, tokens *service.TokenService) *AuthHandler {
	return &AuthHandler{auth: auth, tokens: tokens}
}

func (h *AuthHandler) Routes(r chi.Router) {
	r.Post("/auth", h.RequestCode)
	r.Post("/verify-otp", h.VerifyOTP)
	r.Post("/auth/verify", h.VerifyToken)
}

// POST /auth
func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req model.AuthRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, apperrors.MissingRequired("email"))
		return
	}

	result, err := h.auth.RequestCode(r.Context(), req.Email)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrCodeInvalidInput) {
			log.Error().Err(err).Msg("failed to issue verification code")
		}
		writeError(w, err)
		return
	}

	message := "Verification code sent. Check your email."
	if result.DeliveryFailed {
		message = "Email delivery failed. Ask the operator for the code from the gateway log."
		if result.FallbackCode != "" {
			message = "Email delivery failed. Use the code included in this response."
		}
	}

	writeJSON(w, http.StatusOK, model.AuthResponse{
		Success:        true,
		MethodID:       result.MethodID,
		Message:        message,
		DeliveryFailed: result.DeliveryFailed,
		Code:           result.FallbackCode,
	})
}

// POST /verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	login, err := h.auth.Login(r.Context(), req.MethodID, strings.TrimSpace(req.Code), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.VerifyOTPResponse{
		Success:      true,
		UserID:       login.UserID,
		Email:        login.Email,
		SessionToken: login.SessionToken,
		SessionJWT:   login.SessionJWT,
		ExpiresAt:    login.ExpiresAt,
	})
}

// POST /auth/verify
// Accepts the session JWT either as a bearer header or as {"token": "..."}.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if header == "" {
		var req struct {
			Token string `json:"token"`
		}
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, err)
				return
			}
		}
		if req.Token != "" {
			header = "Bearer " + req.Token
		}
	}

	claims, err := h.tokens.VerifySession(header)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.VerifyTokenResponse{
		Valid:     true,
		UserID:    claims.UserID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt,
	})
}
