// Package kv abstracts the remote key-value substrate the core coordinates
// through. It exposes the handful of primitives the scheduler, the lock
// manager and the search engine need: strings with SET-if-absent-and-expire,
// hashes, sorted sets, pattern scan and pipelined batches.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for missing keys, hash fields and zset members.
var ErrNotFound = errors.New("kv: not found")

// Z is a scored sorted-set member.
type Z struct {
	Score  float64
	Member string
}

// Store is the durable coordination medium. All keys are logical (un-namespaced);
// implementations may prefix them transparently.
type Store interface {
	// Strings.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes key only if absent, with expiry. Returns false when the
	// key already exists. This is the lock acquisition primitive.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error

	// Hashes.
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HLen(ctx context.Context, key string) (int64, error)

	// Sorted sets.
	ZAdd(ctx context.Context, key string, members ...Z) error
	ZRem(ctx context.Context, key string, members ...string) error
	// ZPopMin removes and returns the minimum-score member, or ErrNotFound
	// when the set is empty.
	ZPopMin(ctx context.Context, key string) (Z, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZScore(ctx context.Context, key, member string) (float64, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]Z, error)
	// ZRange returns members by rank. Set rev for newest-first listings.
	ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]Z, error)

	// Scan walks keys matching pattern in batches, invoking fn per batch.
	// Returned keys are logical (namespace stripped).
	Scan(ctx context.Context, pattern string, batch int64, fn func(keys []string) error) error

	// Type returns the KV type of key ("string", "hash", "zset", "none").
	Type(ctx context.Context, key string) (string, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Pipeline returns a write batch executed as one round trip. Partition
	// transitions rely on this for remove-then-add atomicity.
	Pipeline() Pipeline

	Ping(ctx context.Context) error
	Close() error
}

// Pipeline queues writes and executes them in a single transactional batch.
type Pipeline interface {
	Set(key, value string, ttl time.Duration)
	Del(keys ...string)
	HSet(key, field, value string)
	HDel(key string, fields ...string)
	ZAdd(key string, members ...Z)
	ZRem(key string, members ...string)
	Exec(ctx context.Context) error
}
