package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/appauth/authstore/backend"
	"github.com/appauth/authstore/internal/keyspace"
)

// IndexOptions control the per-identity session index.
type IndexOptions struct {
	// MaxPerIdentity bounds concurrent sessions per identity. When a
	// registration pushes an index past the cap, the oldest members by
	// creation time are evicted and their session records deleted.
	// Oldest-first is least-recently-created, not least-recently-used:
	// tracking "used" would mean rewriting the index on every request.
	// Zero means unlimited.
	MaxPerIdentity int
	// ListLimit is the default number of entries returned by List.
	// Zero means 20.
	ListLimit int
}

func (o IndexOptions) normalized() IndexOptions {
	if o.ListLimit <= 0 {
		o.ListLimit = 20
	}
	return o
}

// Entry is one listed session of an identity.
type Entry struct {
	SessionID string `json:"session_id"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	Expired   bool   `json:"expired"`
	Provider  string `json:"provider"`
	UserAgent string `json:"ua,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// Index is the per-identity sorted collection of session ids, scored by
// creation timestamp. It is a derived view over [Store]: membership is
// advisory and validity is always re-checked against the record store.
type Index struct {
	backend   backend.Backend
	store     *Store
	namespace string
	opts      IndexOptions
}

// NewIndex creates the per-identity index sharing the store's backend.
func NewIndex(b backend.Backend, store *Store, namespace string, opts IndexOptions) *Index {
	return &Index{
		backend:   b,
		store:     store,
		namespace: namespace,
		opts:      opts.normalized(),
	}
}

// IndexKey derives the identity key: the normalized email when present,
// else the provider subject. Empty when the identity carries neither.
func IndexKey(email, subject string) string {
	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		return e
	}
	return subject
}

func (ix *Index) key(indexKey string) string {
	return keyspace.UserIndex(ix.namespace, indexKey)
}

// Register adds a session to the identity's index and enforces the
// session cap. Evicted sessions have their record deleted before their
// membership is removed, so a partial failure leaves at worst an orphan
// the repair job already heals, never a listed-but-deleted session in
// reverse.
func (ix *Index) Register(ctx context.Context, indexKey, sessionID string, createdAt int64) error {
	if indexKey == "" {
		return nil
	}
	key := ix.key(indexKey)

	if err := ix.backend.SortedAdd(ctx, key, sessionID, float64(createdAt)); err != nil {
		return err
	}

	if ix.opts.MaxPerIdentity <= 0 {
		return nil
	}

	total, err := ix.backend.SortedCardinality(ctx, key)
	if err != nil {
		return err
	}
	over := total - int64(ix.opts.MaxPerIdentity)
	if over <= 0 {
		return nil
	}

	oldest, err := ix.backend.SortedRange(ctx, key, 0, over-1)
	if err != nil {
		return err
	}
	if len(oldest) == 0 {
		return nil
	}

	for _, sid := range oldest {
		if err := ix.store.Delete(ctx, sid); err != nil {
			return err
		}
	}
	return ix.backend.SortedRemove(ctx, key, oldest...)
}

// List returns the identity's most recent sessions, newest first.
//
// Post-condition: the result contains only members that currently
// resolve to a stored record, and as a side effect the index is
// reconciled — members that no longer resolve are removed in the same
// call and the index key is deleted once empty. Every listing is
// therefore self-healing without waiting for a repair run.
//
// Lookups fall back to the legacy subject-keyed index when the
// email-keyed one is empty, so listings stay correct across the
// email-key migration.
func (ix *Index) List(ctx context.Context, email, subject string) ([]Entry, error) {
	indexKey := IndexKey(email, subject)
	if indexKey == "" {
		return []Entry{}, nil
	}

	sourceKey := indexKey
	sids, err := ix.recent(ctx, indexKey)
	if err != nil {
		return nil, err
	}
	if len(sids) == 0 && subject != "" && subject != indexKey {
		legacy, err := ix.recent(ctx, subject)
		if err != nil {
			return nil, err
		}
		if len(legacy) > 0 {
			sids = legacy
			sourceKey = subject
		}
	}

	now := time.Now().Unix()
	entries := make([]Entry, 0, len(sids))
	var stale []string

	for _, sid := range sids {
		rec, err := ix.store.Peek(ctx, sid)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				stale = append(stale, sid)
				continue
			}
			return nil, err
		}
		entries = append(entries, Entry{
			SessionID: sid,
			CreatedAt: rec.CreatedAt,
			ExpiresAt: rec.ExpiresAt,
			Expired:   rec.ExpiresAt > 0 && rec.ExpiresAt < now,
			Provider:  rec.Provider,
			UserAgent: rec.UserAgent,
			IP:        rec.IP,
		})
	}

	if len(stale) > 0 {
		key := ix.key(sourceKey)
		if err := ix.backend.SortedRemove(ctx, key, stale...); err != nil {
			return nil, err
		}
		remaining, err := ix.backend.SortedCardinality(ctx, key)
		if err != nil {
			return nil, err
		}
		if remaining == 0 {
			if err := ix.backend.Delete(ctx, key); err != nil {
				return nil, err
			}
		}
	}

	return entries, nil
}

// recent returns up to ListLimit member ids, newest first.
func (ix *Index) recent(ctx context.Context, indexKey string) ([]string, error) {
	key := ix.key(indexKey)

	total, err := ix.backend.SortedCardinality(ctx, key)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	start := total - int64(ix.opts.ListLimit)
	if start < 0 {
		start = 0
	}
	ascending, err := ix.backend.SortedRange(ctx, key, start, -1)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ascending))
	for i := len(ascending) - 1; i >= 0; i-- {
		out = append(out, ascending[i])
	}
	return out, nil
}

// Remove drops an explicit membership, deleting the index key if that
// left it empty. Used on logout; removing an unknown member is a no-op.
func (ix *Index) Remove(ctx context.Context, indexKey, sessionID string) error {
	if indexKey == "" {
		return nil
	}
	key := ix.key(indexKey)

	if err := ix.backend.SortedRemove(ctx, key, sessionID); err != nil {
		return err
	}
	remaining, err := ix.backend.SortedCardinality(ctx, key)
	if err != nil {
		return err
	}
	if remaining == 0 {
		return ix.backend.Delete(ctx, key)
	}
	return nil
}
