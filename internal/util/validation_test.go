package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"trader@example.com", true},
		{"  trader@example.com ", true},
		{"a@b", true},
		{"not-an-email", false},
		{"", false},
		{"@example.com", false},
		{"trader@", false},
		{"a@b@c", false},
		{"tr ader@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidEmail(tt.email))
		})
	}
}

func TestIsValidOTPCode(t *testing.T) {
	assert.True(t, IsValidOTPCode("000123", 6))
	assert.False(t, IsValidOTPCode("12345", 6))
	assert.False(t, IsValidOTPCode("12a456", 6))
	assert.False(t, IsValidOTPCode("1234567", 6))
}

func TestIsValidUUID(t *testing.T) {
	assert.True(t, IsValidUUID("3f2b8c4e-1d2a-4b6c-9e8f-0a1b2c3d4e5f"))
	assert.False(t, IsValidUUID(""))
	assert.False(t, IsValidUUID("not-a-uuid"))
}
