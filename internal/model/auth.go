package model

import "time"

type AuthRequest struct {
	Email string `json:"email"`
}

type AuthResponse struct {
	Success        bool   `json:"success"`
	MethodID       string `json:"methodId"`
	Message        string `json:"message"`
	DeliveryFailed bool   `json:"deliveryFailed,omitempty"`
	Code           string `json:"code,omitempty"`
}

type VerifyOTPRequest struct {
	MethodID string `json:"methodId"`
	Code     string `json:"code"`
	Email    string `json:"email"`
}

type VerifyOTPResponse struct {
	Success      bool      `json:"success"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	SessionToken string    `json:"sessionToken"`
	SessionJWT   string    `json:"sessionJwt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type VerifyTokenResponse struct {
	Valid     bool      `json:"valid"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionClaims is the identity carried by a verified session token.
type SessionClaims struct {
	UserID    string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
