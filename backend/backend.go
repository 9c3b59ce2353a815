// Package backend provides a uniform key/value adapter over the shared
// store that holds session and OAuth-state records.
//
// Two implementations exist: [Redis], backed by a shared Redis deployment,
// and [Memory], a process-local fallback used when no Redis is configured.
// Selection happens exactly once at startup (see [Dial]); business code
// never branches on the backend kind.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable is returned when the backing store cannot be
// reached or a command against it fails.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrKeyNotFound is returned by Get and GetDel when the key is absent.
// Absent and expired are indistinguishable: the store may have already
// reclaimed the key.
var ErrKeyNotFound = errors.New("key not found")

// MinTTL is the floor enforced on every write-with-expiry. Shorter TTLs
// are rounded up so a record is never written pre-expired by clock skew.
const MinTTL = 60 * time.Second

// Backend is the adapter contract over the shared store. All methods are
// safe for concurrent use from many processes; each call is atomic with
// respect to the store's own per-command guarantees.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// GetDel atomically fetches and deletes a key. A token consumed this
	// way can never be redeemed twice.
	GetDel(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	SortedAdd(ctx context.Context, key, member string, score float64) error
	// SortedRange returns members ordered by ascending score over the
	// inclusive rank range [start, stop]; negative ranks count from the end.
	SortedRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	SortedCardinality(ctx context.Context, key string) (int64, error)
	SortedRemove(ctx context.Context, key string, members ...string) error

	// Scan enumerates keys matching a glob pattern. Used only by the
	// out-of-band repair job, never in request paths.
	Scan(ctx context.Context, pattern string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}
