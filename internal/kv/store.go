// Package kv defines the key-value capability shared by every stateful
// gateway component, plus memory, Redis and Postgres implementations.
//
// An absent key is a normal outcome: Get reports it through the found flag,
// never through an error. Values written with a TTL may disappear between
// any two calls.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Put stores value under key. A ttl <= 0 keeps the key until deleted.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
}

// Expirer is implemented by stores that keep expired entries around until
// they are purged explicitly.
type Expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// GetJSON loads key and decodes it into a new T.
func GetJSON[T any](ctx context.Context, s Store, key string) (*T, bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, true, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, raw, ttl)
}
