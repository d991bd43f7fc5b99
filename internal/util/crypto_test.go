package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Run("generates 64 character hex string", func(t *testing.T) {
		token, err := GenerateToken()
		require.NoError(t, err)
		assert.Len(t, token, 64)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, _ := GenerateToken()
		token2, _ := GenerateToken()
		assert.NotEqual(t, token1, token2)
	})

	t.Run("generates valid hex", func(t *testing.T) {
		token, _ := GenerateToken()
		for _, c := range token {
			assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
		}
	})
}

func TestHashToken(t *testing.T) {
	t.Run("returns 64 character hex string", func(t *testing.T) {
		hash := HashToken("test-token")
		assert.Len(t, hash, 64)
	})

	t.Run("same input produces same hash", func(t *testing.T) {
		hash1 := HashToken("test-token")
		hash2 := HashToken("test-token")
		assert.Equal(t, hash1, hash2)
	})

	t.Run("different input produces different hash", func(t *testing.T) {
		hash1 := HashToken("token-1")
		hash2 := HashToken("token-2")
		assert.NotEqual(t, hash1, hash2)
	})
}

func TestConstantTimeEqual(t *testing.T) {
	t.Run("returns true for equal strings", func(t *testing.T) {
		assert.True(t, ConstantTimeEqual("abc", "abc"))
	})

	t.Run("returns false for different strings", func(t *testing.T) {
		assert.False(t, ConstantTimeEqual("abc", "def"))
	})

	t.Run("returns false for different lengths", func(t *testing.T) {
		assert.False(t, ConstantTimeEqual("abc", "abcd"))
	})

	t.Run("returns true for empty strings", func(t *testing.T) {
		assert.True(t, ConstantTimeEqual("", ""))
	})
}

func TestGenerateNumericCode(t *testing.T) {
	t.Run("has requested length and only digits", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			code, err := GenerateNumericCode(6)
			require.NoError(t, err)
			assert.True(t, IsValidOTPCode(code, 6), code)
		}
	})

	t.Run("rejects non-positive length", func(t *testing.T) {
		_, err := GenerateNumericCode(0)
		assert.Error(t, err)
	})
}

func TestUserIDFromEmail(t *testing.T) {
	t.Run("is stable and prefixed", func(t *testing.T) {
		id := UserIDFromEmail("trader@example.com")
		assert.Len(t, id, 28)
		assert.Equal(t, "usr_", id[:4])
		assert.Equal(t, id, UserIDFromEmail("trader@example.com"))
	})

	t.Run("ignores case and surrounding space", func(t *testing.T) {
		assert.Equal(t, UserIDFromEmail("trader@example.com"), UserIDFromEmail("  Trader@Example.COM "))
	})

	t.Run("differs per email", func(t *testing.T) {
		assert.NotEqual(t, UserIDFromEmail("a@example.com"), UserIDFromEmail("b@example.com"))
	})
}

func TestMaskCode(t *testing.T) {
	assert.Equal(t, "04****", MaskCode("042913"))
	assert.Equal(t, "****", MaskCode("12"))
}
