package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketlens/gateway/internal/audit"
	"github.com/marketlens/gateway/internal/config"
	apperrors "github.com/marketlens/gateway/internal/errors"
	"github.com/marketlens/gateway/internal/kv"
	"github.com/marketlens/gateway/internal/metrics"
	"github.com/marketlens/gateway/internal/model"
	"github.com/marketlens/gateway/internal/util"
)

const otpKeyPrefix = "otp:"

// Reasons a verification attempt can fail.
const (
	VerifyNotFound = "not_found"
	VerifyExpired  = "expired"
	VerifyMismatch = "mismatch"
)

type CodeRequest struct {
	MethodID       string
	ExpiresAt      time.Time
	DeliveryFailed bool
	// FallbackCode is set only when delivery failed and fallback exposure is enabled.
	FallbackCode string
}

type VerifyResult struct {
	Valid  bool
	Email  string
	Reason string
}

type AuthenticatorConfig struct {
	CodeTTL            time.Duration
	FallbackInResponse bool
}

// Authenticator issues and checks one-time codes. Records live in the KV
// store under otp:<methodId> and are single-use.
type Authenticator struct {
	store    kv.Store
	sender   CodeSender
	tokens   *TokenService
	cfg      AuthenticatorConfig
	now      func() time.Time
	generate func() (string, error)
}

func NewAuthenticator(store kv.Store, sender CodeSender, tokens *TokenService, cfg AuthenticatorConfig) *Authenticator {
	return &Authenticator{
		store:  store,
		sender: sender,
		tokens: tokens,
		cfg:    cfg,
		now:    time.Now,
		generate: func() (string, error) {
			return util.GenerateNumericCode(config.OTPDigits)
		},
	}
}

func otpKey(methodID string) string {
	return otpKeyPrefix + methodID
}

func (a *Authenticator) RequestCode(ctx context.Context, email string) (*CodeRequest, error) {
	if !util.IsValidEmail(email) {
		return nil, apperrors.InvalidInput("email", "must be an address like name@example.com")
	}
	email = util.NormalizeEmail(email)

	code, err := a.generate()
	if err != nil {
		return nil, apperrors.Internal("Failed to generate verification code").WithCause(err)
	}

	now := a.now()
	record := model.OTPRecord{
		Email:     email,
		Code:      code,
		Timestamp: now,
		ExpiresAt: now.Add(a.cfg.CodeTTL),
	}
	methodID := uuid.NewString()

	if err := kv.PutJSON(ctx, a.store, otpKey(methodID), record, a.cfg.CodeTTL); err != nil {
		return nil, apperrors.Storage(err)
	}

	metrics.RecordOTP(metrics.OTPIssued)
	audit.Log(ctx, audit.Event{
		Type:    audit.EventCodeIssued,
		Email:   email,
		Details: map[string]interface{}{"methodId": methodID, "code": util.MaskCode(code)},
	})

	result := &CodeRequest{MethodID: methodID, ExpiresAt: record.ExpiresAt}

	if err := a.sender.SendCode(ctx, email, code, a.cfg.CodeTTL); err != nil {
		// Delivery is best-effort. The code stays retrievable by an operator
		// and, when enabled, by the caller.
		result.DeliveryFailed = true
		metrics.RecordOTP(metrics.OTPDeliveryFailed)
		log.Warn().
			Err(err).
			Str("email", email).
			Str("methodId", methodID).
			Str("code", code).
			Msg("verification code delivery failed; use this code to complete login")
		audit.Log(ctx, audit.Event{
			Type:    audit.EventCodeDeliveryFailed,
			Email:   email,
			Details: map[string]interface{}{"methodId": methodID, "error": err.Error()},
		})
		if a.cfg.FallbackInResponse {
			result.FallbackCode = code
		}
	}

	return result, nil
}

// VerifyCode fails closed. The record is removed on a match, on expiry, and
// after too many wrong guesses.
func (a *Authenticator) VerifyCode(ctx context.Context, methodID, code string) (*VerifyResult, error) {
	key := otpKey(methodID)

	record, found, err := kv.GetJSON[model.OTPRecord](ctx, a.store, key)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if !found {
		return &VerifyResult{Reason: VerifyNotFound}, nil
	}

	now := a.now()
	if record.Expired(now) {
		if err := a.store.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("methodId", methodID).Msg("failed to delete expired verification code")
		}
		metrics.RecordOTP(metrics.OTPExpired)
		return &VerifyResult{Reason: VerifyExpired}, nil
	}

	if !util.ConstantTimeEqual(record.Code, code) {
		record.Attempts++
		if record.Attempts >= config.OTPMaxAttempts {
			err = a.store.Delete(ctx, key)
		} else {
			err = kv.PutJSON(ctx, a.store, key, record, record.ExpiresAt.Sub(now))
		}
		if err != nil {
			log.Warn().Err(err).Str("methodId", methodID).Msg("failed to record verification attempt")
		}
		metrics.RecordOTP(metrics.OTPRejected)
		return &VerifyResult{Reason: VerifyMismatch}, nil
	}

	if err := a.store.Delete(ctx, key); err != nil {
		return nil, apperrors.Storage(fmt.Errorf("consume verification code: %w", err))
	}

	return &VerifyResult{Valid: true, Email: record.Email}, nil
}

type LoginResult struct {
	UserID       string
	Email        string
	SessionToken string
	SessionJWT   string
	ExpiresAt    time.Time
}

// Login verifies a code for the supplied email and issues a session.
func (a *Authenticator) Login(ctx context.Context, methodID, code, email string) (*LoginResult, error) {
	if methodID == "" {
		return nil, apperrors.MissingRequired("methodId")
	}
	if !util.IsValidUUID(methodID) {
		return nil, apperrors.InvalidInput("methodId", "must be the id returned by /auth")
	}
	if !util.IsValidOTPCode(code, config.OTPDigits) {
		return nil, apperrors.InvalidInput("code", fmt.Sprintf("must be %d digits", config.OTPDigits))
	}
	if !util.IsValidEmail(email) {
		return nil, apperrors.InvalidInput("email", "must be an address like name@example.com")
	}
	email = util.NormalizeEmail(email)

	result, err := a.VerifyCode(ctx, methodID, code)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventLoginFailure,
			Email:   email,
			Details: map[string]interface{}{"methodId": methodID, "reason": result.Reason},
		})
		return nil, apperrors.InvalidCode()
	}
	if result.Email != email {
		metrics.RecordOTP(metrics.OTPEmailMismatched)
		audit.Log(ctx, audit.Event{
			Type:    audit.EventLoginFailure,
			Email:   email,
			Details: map[string]interface{}{"methodId": methodID, "reason": "email_mismatch"},
		})
		return nil, apperrors.InvalidCode()
	}

	userID := util.UserIDFromEmail(email)
	jwtToken, expiresAt, err := a.tokens.IssueSession(userID, email)
	if err != nil {
		return nil, apperrors.Internal("Failed to issue session").WithCause(err)
	}
	sessionToken, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("Failed to issue session").WithCause(err)
	}

	metrics.RecordOTP(metrics.OTPVerified)
	audit.Log(ctx, audit.Event{
		Type:    audit.EventLoginSuccess,
		UserID:  userID,
		Email:   email,
		Details: map[string]interface{}{"methodId": methodID},
	})

	return &LoginResult{
		UserID:       userID,
		Email:        email,
		SessionToken: sessionToken,
		SessionJWT:   jwtToken,
		ExpiresAt:    expiresAt,
	}, nil
}
