package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store shared by every instance pointing at the same server.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedis returns a Redis store whose keys are namespaced by prefix. Keys
// are joined to the prefix with a single colon.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = "authcore"
	}
	return &Redis{redis: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	return r.prefix + ":" + k
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.redis.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.redis.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return data, nil
}

// Take uses GETDEL so two concurrent consumers cannot both read the value.
func (r *Redis) Take(ctx context.Context, key string) ([]byte, error) {
	data, err := r.redis.GetDel(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return data, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
