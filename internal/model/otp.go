package model

import "time"

type OTPRecord struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts,omitempty"`
}

func (r *OTPRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
