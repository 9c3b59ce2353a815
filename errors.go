package authstore

import (
	"github.com/appauth/authstore/backend"
	"github.com/appauth/authstore/session"
	"github.com/appauth/authstore/state"
)

// The error taxonomy is deliberately small. Index drift is not in it:
// drift is observable only through repair-job counters, never surfaced
// to request-path callers.
var (
	// ErrBackendUnavailable means the shared store is unreachable.
	// Write operations fail loudly with it; read operations never
	// return it to callers — they fail closed as not found.
	ErrBackendUnavailable = backend.ErrBackendUnavailable

	// ErrSessionNotFound covers never-existed and expired sessions
	// indistinguishably.
	ErrSessionNotFound = session.ErrSessionNotFound

	// ErrStateNotFound covers unknown, expired, and already-consumed
	// OAuth state tokens indistinguishably, so a caller cannot probe
	// token validity duration.
	ErrStateNotFound = state.ErrStateNotFound
)
