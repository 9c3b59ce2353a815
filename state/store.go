// Package state stores short-lived OAuth handshake state: one record
// per CSRF state token, binding it to a PKCE verifier and redirect URI.
//
// Records are immutable once written and consumed exactly once; expired,
// unknown, and already-consumed tokens are all reported as
// [ErrStateNotFound] so a caller learns nothing about token lifetimes.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/appauth/authstore/backend"
	"github.com/appauth/authstore/internal/keyspace"
)

// ErrStateNotFound covers unknown, expired, and already-consumed state
// tokens indistinguishably.
var ErrStateNotFound = errors.New("oauth state not found")

// DefaultTTL bounds how long an authorization redirect stays redeemable.
const DefaultTTL = 10 * time.Minute

// Metadata is the stored per-token record. The PKCE verifier lives under
// its own key and is returned alongside, never embedded here.
type Metadata struct {
	RedirectURI string `json:"redirect_uri"`
	ExpiresAt   int64  `json:"exp"`
	Provider    string `json:"provider"`
}

// Store persists OAuth state records with a fixed short TTL.
type Store struct {
	backend   backend.Backend
	namespace string
	ttl       time.Duration
}

// NewStore creates a state [Store]. ttl <= 0 selects [DefaultTTL].
func NewStore(b backend.Backend, namespace string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		backend:   b,
		namespace: namespace,
		ttl:       ttl,
	}
}

// Save records a freshly issued state token. The metadata and the PKCE
// verifier are written under separate keys with the same TTL.
func (s *Store) Save(ctx context.Context, token, redirectURI, verifier, provider string) error {
	meta := Metadata{
		RedirectURI: redirectURI,
		ExpiresAt:   time.Now().Add(s.ttl).Unix(),
		Provider:    provider,
	}
	data, err := json.Marshal(&meta)
	if err != nil {
		return err
	}

	if err := s.backend.SetWithTTL(ctx, keyspace.State(s.namespace, token), string(data), s.ttl); err != nil {
		return err
	}
	return s.backend.SetWithTTL(ctx, keyspace.Verifier(s.namespace, token), verifier, s.ttl)
}

// Pop atomically consumes a state token, returning its metadata and the
// paired PKCE verifier. The atomic fetch-and-delete on the state key
// closes the replay window: a second Pop for the same token returns
// [ErrStateNotFound] even inside the TTL.
func (s *Store) Pop(ctx context.Context, token string) (*Metadata, string, error) {
	data, err := s.backend.GetDel(ctx, keyspace.State(s.namespace, token))
	if err != nil {
		if errors.Is(err, backend.ErrKeyNotFound) {
			// Clear a possibly lingering verifier half before reporting.
			_, _ = s.backend.GetDel(ctx, keyspace.Verifier(s.namespace, token))
			return nil, "", ErrStateNotFound
		}
		return nil, "", err
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, "", ErrStateNotFound
	}

	verifier, err := s.backend.GetDel(ctx, keyspace.Verifier(s.namespace, token))
	if err != nil {
		if errors.Is(err, backend.ErrKeyNotFound) {
			// Verifier expired independently; the caller decides whether
			// a verifier-less exchange is acceptable for this provider.
			return &meta, "", nil
		}
		return nil, "", err
	}

	return &meta, verifier, nil
}
