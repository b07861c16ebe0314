package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned when a key is absent or expired.
	ErrMiss = errors.New("cache: miss")
	// ErrBackend wraps transport failures of a shared cache.
	ErrBackend = errors.New("cache: backend unavailable")
)

// Store is a TTL key-value store. Take reads and deletes a key atomically, so
// a value can be consumed at most once.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
