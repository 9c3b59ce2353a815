package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis adapts a shared Redis deployment to the [Backend] contract.
// TTL expiry and per-command atomicity are delegated to Redis itself.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps an existing Redis client. The caller owns the client's
// lifetime unless Close is used.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Dial connects to addr and verifies the connection with a bounded Ping.
// On failure it returns a [Memory] backend instead: the process keeps
// working in a degraded single-process mode where cross-process
// consistency guarantees are void.
func Dial(ctx context.Context, addr string, pingTimeout time.Duration) (Backend, error) {
	if addr == "" {
		return NewMemory(DefaultSweepInterval), nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})

	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return NewMemory(DefaultSweepInterval), fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return NewRedis(client), nil
}

// Get fetches the string value at key, or [ErrKeyNotFound].
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return val, nil
}

// SetWithTTL writes a value with an expiry floored at [MinTTL].
func (r *Redis) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, clampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// GetDel atomically fetches and deletes a key via GETDEL.
func (r *Redis) GetDel(ctx context.Context, key string) (string, error) {
	val, err := r.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return val, nil
}

// Delete removes keys. Deleting an absent key is not an error.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Exists reports whether the key currently resolves to a value.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n > 0, nil
}

// SortedAdd adds or rescores a member in the sorted collection at key.
func (r *Redis) SortedAdd(ctx context.Context, key, member string, score float64) error {
	err := r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// SortedRange returns members by ascending score over [start, stop].
func (r *Redis) SortedRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := r.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return members, nil
}

// SortedCardinality returns the member count of the sorted collection.
func (r *Redis) SortedCardinality(ctx context.Context, key string) (int64, error) {
	n, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

// SortedRemove removes members from the sorted collection at key.
func (r *Redis) SortedRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := r.client.ZRem(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Scan enumerates keys matching pattern with a cursor SCAN loop.
// This is an O(n) admin operation and must not run in request hot paths.
func (r *Redis) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Ping returns a point-in-time availability check.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
