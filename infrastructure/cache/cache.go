package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotInteger = errors.New("value is not an integer")

// Store is the short lived key/value storage used for one-time codes and
// attempt counters.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Close() error
}

var (
	_ Store = (*MemCache)(nil)
	_ Store = (*RedisStore)(nil)
)
