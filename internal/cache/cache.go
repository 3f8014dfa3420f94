// Package cache holds short-lived shared state: debounce keys, the bulk
// delete scratch area, last trigger records and cross-process pub/sub.
package cache

import (
	"context"
	"time"
)

// Store is implemented by an in-process map and by redis. Missing keys
// read as nil with a nil error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error

	// SetMany and GetMany are batched (pipelined on redis).
	SetMany(ctx context.Context, values map[string][]byte, ttl time.Duration) error
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers payloads until ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	Close() error
}
