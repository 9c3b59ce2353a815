package authstore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/appauth/authstore/backend"
	"github.com/appauth/authstore/session"
	"github.com/appauth/authstore/state"
)

// Manager is the collaborator surface consumed by the HTTP routing
// layer. All methods are safe for concurrent use after [Builder.Build].
type Manager struct {
	cfg      Config
	backend  backend.Backend
	sessions *session.Store
	index    *session.Index
	states   *state.Store
	upserter UserUpserter
	log      *zap.Logger
}

// opCtx bounds one logical operation's backend round-trips.
func (m *Manager) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.BackendTimeout)
}

// CreateSession mints a session for a verified identity, persists the
// record, registers it in the owner's index, and upserts the
// identity→user mapping through the configured collaborator.
//
// Upsert and index-registration failures are logged but do not fail the
// call: the record is already the source of truth, and a missing index
// membership is exactly the drift the repair job heals.
func (m *Manager) CreateSession(ctx context.Context, id Identity, meta ClientMeta, ttl time.Duration) (*session.Record, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()

	sid, err := session.NewSessionID()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = m.cfg.Session.DefaultTTL
	}

	now := time.Now()
	rec := &session.Record{
		SessionID: sid,
		Subject:   id.Subject,
		Email:     id.Email,
		Name:      id.DisplayName,
		Provider:  id.Provider,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
	}

	if m.upserter != nil {
		if err := m.upserter.UpsertUser(ctx, id); err != nil {
			m.log.Warn("user upsert failed, session proceeds",
				zap.String("provider", id.Provider),
				zap.Error(err),
			)
		}
	}

	if err := m.sessions.Save(ctx, rec); err != nil {
		return nil, err
	}

	indexKey := session.IndexKey(id.Email, id.Subject)
	if err := m.index.Register(ctx, indexKey, sid, rec.CreatedAt); err != nil {
		m.log.Warn("session index registration failed, session remains valid",
			zap.Error(err),
		)
	}

	m.log.Debug("session created",
		zap.String("provider", id.Provider),
		zap.Int64("expires_at", rec.ExpiresAt),
	)
	return rec, nil
}

// GetSession resolves a session id and applies sliding expiration. The
// returned expiry is non-zero only when the stored expiry was reslid,
// signaling the caller to refresh the session cookie's Max-Age.
//
// Reads fail closed: any backend failure is reported as
// [ErrSessionNotFound], so a flaky store can only ever log a user out,
// never let a request through unauthenticated checks.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*session.Record, int64, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()

	rec, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			m.log.Warn("session read failed closed", zap.Error(err))
		}
		return nil, 0, ErrSessionNotFound
	}

	newExpiry, err := m.sessions.SlideIfNeeded(ctx, rec)
	if err != nil {
		// The session itself is valid; a failed slide just means the
		// expiry was not extended this time.
		m.log.Warn("sliding renewal failed", zap.Error(err))
		return rec, 0, nil
	}
	return rec, newExpiry, nil
}

// DeleteSession logs out one session: record first, then index
// membership. Idempotent; write failures surface so logout can be
// retried.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()

	rec, err := m.sessions.Peek(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := m.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	return m.index.Remove(ctx, session.IndexKey(rec.Email, rec.Subject), sessionID)
}

// ListSessionsForIdentity returns the identity's live sessions, newest
// first, reconciling the index as a side effect.
func (m *Manager) ListSessionsForIdentity(ctx context.Context, email, subject string) ([]session.Entry, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	return m.index.List(ctx, email, subject)
}

// RevokeSession deletes a target session on behalf of its owner. The
// target must belong to the calling subject; foreign and unknown
// targets are both [ErrSessionNotFound], revealing nothing about other
// users' session ids.
func (m *Manager) RevokeSession(ctx context.Context, subject, targetSessionID string) error {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()

	rec, err := m.sessions.Peek(ctx, targetSessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if rec.Subject != subject {
		return ErrSessionNotFound
	}

	if err := m.sessions.Delete(ctx, targetSessionID); err != nil {
		return err
	}
	return m.index.Remove(ctx, session.IndexKey(rec.Email, rec.Subject), targetSessionID)
}

// RevokeAllForIdentity deletes every listed session of an identity and
// reports how many were cleared.
func (m *Manager) RevokeAllForIdentity(ctx context.Context, email, subject string) (int, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()

	entries, err := m.index.List(ctx, email, subject)
	if err != nil {
		return 0, err
	}

	indexKey := session.IndexKey(email, subject)
	cleared := 0
	for _, entry := range entries {
		if err := m.sessions.Delete(ctx, entry.SessionID); err != nil {
			return cleared, err
		}
		if err := m.index.Remove(ctx, indexKey, entry.SessionID); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

// SaveOAuthState records a freshly issued authorization redirect's
// state token, PKCE verifier, and redirect URI.
func (m *Manager) SaveOAuthState(ctx context.Context, token, redirectURI, verifier, provider string) error {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	return m.states.Save(ctx, token, redirectURI, verifier, provider)
}

// PopOAuthState consumes a state token exactly once, returning its
// metadata and PKCE verifier. Replays, expiries, and unknown tokens are
// all [ErrStateNotFound].
func (m *Manager) PopOAuthState(ctx context.Context, token string) (*state.Metadata, string, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()

	meta, verifier, err := m.states.Pop(ctx, token)
	if err != nil {
		if errors.Is(err, state.ErrStateNotFound) {
			return nil, "", ErrStateNotFound
		}
		m.log.Warn("state pop failed closed", zap.Error(err))
		return nil, "", ErrStateNotFound
	}
	return meta, verifier, nil
}

// Ping reports point-in-time backend availability.
func (m *Manager) Ping(ctx context.Context) error {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	return m.backend.Ping(ctx)
}

// Close releases the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
