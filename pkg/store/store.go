// Package store is the coordination layer shared by every process: connection
// records, room membership sets, presence buckets, typing sets, unread
// counters and the recent-message cache. All state is TTL-bound so that a
// crashed process self-heals without manual intervention.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// Store exposes the atomic primitives the realtime core relies on. There is
// no distributed locking; correctness comes from per-key atomic operations
// and pipelined compound mutations.
type Store interface {
	// SetValue writes a string value with a TTL.
	SetValue(ctx context.Context, key, value string, ttl time.Duration) error
	// GetValue returns ErrNotFound for missing or expired keys.
	GetValue(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error

	// SetAdd adds members to a set and refreshes its TTL in one pipeline.
	SetAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	// SetsMembers reads several sets in one pipelined round trip.
	SetsMembers(ctx context.Context, keys ...string) ([][]string, error)
	// MoveBetweenSets adds member to target and removes it from every other
	// set in a single pipeline, so a reader never observes the member in two
	// of the involved sets at once.
	MoveBetweenSets(ctx context.Context, member, target string, ttl time.Duration, others ...string) error

	// HashIncr increments a hash field by one and refreshes the key TTL.
	HashIncr(ctx context.Context, key, field string, ttl time.Duration) (int64, error)
	HashDelete(ctx context.Context, key string, fields ...string) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// ListPrepend pushes a value onto the head of a list, trims it to maxLen
	// entries and refreshes the TTL, all in one pipeline.
	ListPrepend(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
