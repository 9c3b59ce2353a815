// Package keyspace centralizes the key layout shared by the session,
// state, and repair packages so the three can never drift apart.
//
// Every key is <namespace>:<kind>:<identifier>.
package keyspace

import "strings"

// Record-kind tags. These are wire-visible and must stay stable across
// deployments; the repair job pattern-matches on them.
const (
	KindSession   = "sess"
	KindUserIndex = "usess"
	KindState     = "state"
	KindVerifier  = "codev"
)

// DefaultNamespace is used when no namespace is configured.
const DefaultNamespace = "appauth"

// Key builds <namespace>:<kind>:<identifier>.
func Key(namespace, kind, identifier string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + ":" + kind + ":" + identifier
}

// Session returns the primary key for a session record.
func Session(namespace, sessionID string) string {
	return Key(namespace, KindSession, sessionID)
}

// UserIndex returns the key of the per-identity sorted index.
func UserIndex(namespace, indexKey string) string {
	return Key(namespace, KindUserIndex, indexKey)
}

// State returns the key of an OAuth state record.
func State(namespace, token string) string {
	return Key(namespace, KindState, token)
}

// Verifier returns the key of the PKCE verifier paired with a state token.
func Verifier(namespace, token string) string {
	return Key(namespace, KindVerifier, token)
}

// Pattern returns the scan pattern matching every key of a kind.
func Pattern(namespace, kind string) string {
	return Key(namespace, kind, "*")
}

// Identifier strips the namespace and kind prefix from a full key.
func Identifier(namespace, kind, key string) string {
	return strings.TrimPrefix(key, Key(namespace, kind, ""))
}
