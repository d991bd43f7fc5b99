package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClient(t *testing.T) {
	t.Run("rejects malformed url", func(t *testing.T) {
		_, err := NewClient("not a url")
		assert.ErrorContains(t, err, "parse redis url")
	})

	t.Run("reports unreachable server", func(t *testing.T) {
		_, err := NewClient("redis://localhost:1/0")
		assert.ErrorContains(t, err, "ping redis")
	})
}
