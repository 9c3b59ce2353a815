package session

import (
	"context"
	"errors"
	"time"

	"github.com/appauth/authstore/backend"
	"github.com/appauth/authstore/internal/keyspace"
)

// ErrSessionNotFound is returned when a session id does not resolve to a
// live record. Never-existed and expired are indistinguishable by design:
// the backend may have already reclaimed the key.
var ErrSessionNotFound = errors.New("session not found")

// Options control session lifetime policy. The sliding threshold and
// eviction policy are deployment policy, not protocol, so they are
// configuration rather than constants.
type Options struct {
	// DefaultTTL applies when a record carries no expiry of its own.
	DefaultTTL time.Duration
	// Sliding enables forward expiry rewrites on access.
	Sliding bool
	// Window is the idle lifetime granted by each slide.
	Window time.Duration
	// SlideDivisor sets the rewrite threshold: a slide happens only once
	// remaining life drops to Window/SlideDivisor. Rewriting on every
	// access would amplify writes on the shared backend; the divisor
	// bounds rewrites to roughly SlideDivisor per window per active
	// user. Zero means 2.
	SlideDivisor int
	// AbsoluteLifetime caps total session age measured from CreatedAt.
	// Zero means uncapped.
	AbsoluteLifetime time.Duration
}

func (o Options) normalized() Options {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = time.Hour
	}
	if o.Window <= 0 {
		o.Window = time.Hour
	}
	if o.SlideDivisor <= 0 {
		o.SlideDivisor = 2
	}
	return o
}

// Store owns session records in the shared backend. It is the single
// source of truth for session validity.
type Store struct {
	backend   backend.Backend
	namespace string
	opts      Options
}

// NewStore creates a session [Store] on the given backend and namespace.
func NewStore(b backend.Backend, namespace string, opts Options) *Store {
	return &Store{
		backend:   b,
		namespace: namespace,
		opts:      opts.normalized(),
	}
}

func (s *Store) key(sessionID string) string {
	return keyspace.Session(s.namespace, sessionID)
}

// Save persists a record under its session id. The TTL is derived from
// the record's expiry, floored at the backend minimum; a record without
// an expiry gets the default TTL.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	ttl := s.opts.DefaultTTL
	if rec.ExpiresAt > 0 {
		ttl = time.Until(time.Unix(rec.ExpiresAt, 0))
	}

	return s.backend.SetWithTTL(ctx, s.key(rec.SessionID), string(data), ttl)
}

// Get returns the live record for a session id. A stored record whose
// embedded expiry has passed is deleted and reported absent; backend TTL
// enforcement can lag behind the recorded expiry (minimum-TTL floor,
// in-process sweep interval).
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	rec, err := s.Peek(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if rec.ExpiresAt > 0 && rec.ExpiresAt <= time.Now().Unix() {
		if err := s.Delete(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}

	return rec, nil
}

// Peek fetches a record without enforcing the embedded expiry and
// without mutating any stored state. Callers that need an "expired"
// flag rather than absence (session listings) use this.
func (s *Store) Peek(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.backend.Get(ctx, s.key(sessionID))
	if err != nil {
		if errors.Is(err, backend.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	rec, err := Decode([]byte(data))
	if err != nil {
		// Undecodable is indistinguishable from absent to callers.
		return nil, ErrSessionNotFound
	}
	rec.SessionID = sessionID
	return rec, nil
}

// Exists reports whether a record is currently stored for the id.
func (s *Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	return s.backend.Exists(ctx, s.key(sessionID))
}

// Delete removes a session record. Idempotent: deleting an absent
// session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.backend.Delete(ctx, s.key(sessionID))
}

// SlideIfNeeded reslides the record's expiry forward when its remaining
// life has dropped to Window/SlideDivisor, capped at
// CreatedAt+AbsoluteLifetime when a cap is configured. It returns the
// new expiry when a rewrite occurred, signaling the caller to refresh
// any client-visible expiry artifact (cookie Max-Age), and zero when
// the stored expiry was left untouched.
func (s *Store) SlideIfNeeded(ctx context.Context, rec *Record) (int64, error) {
	if !s.opts.Sliding {
		return 0, nil
	}

	now := time.Now().Unix()
	curExp := rec.ExpiresAt
	if curExp == 0 {
		curExp = now + int64(s.opts.DefaultTTL/time.Second)
	}
	if curExp <= now {
		return 0, nil
	}

	windowSec := int64(s.opts.Window / time.Second)
	if curExp-now > windowSec/int64(s.opts.SlideDivisor) {
		return 0, nil
	}

	candidate := now + windowSec
	if s.opts.AbsoluteLifetime > 0 {
		deadline := rec.CreatedAt + int64(s.opts.AbsoluteLifetime/time.Second)
		if candidate > deadline {
			candidate = deadline
		}
	}
	if candidate == curExp {
		return 0, nil
	}

	rec.ExpiresAt = candidate
	if err := s.Save(ctx, rec); err != nil {
		return 0, err
	}
	return candidate, nil
}
