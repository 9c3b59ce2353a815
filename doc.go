// Package authstore keeps third-party-authenticated users logged in:
// it stores session records, the short-lived OAuth handshake state, and
// a per-identity index of live sessions in a shared TTL-governed
// key/value store.
//
// The package is the storage layer only. The OAuth redirect and token
// exchange, the HTTP routing that consumes sessions, and the
// application-user database are external collaborators reached through
// the interfaces on [Manager]; authstore never serves values other than
// session and state records.
//
// # Architecture boundaries
//
// [Manager], built via [Builder], is the public surface consumed by the
// routing layer. The backend adapter, record codecs, and index policy
// live in the backend, session, and state subpackages; repair holds the
// out-of-band consistency job. The index is a derived view: session
// validity is always re-checked against the record store, never inferred
// from index membership.
//
// # Consistency contract
//
// A crash between "record written" and "index registered" leaves a
// session reachable by id but missing from the owner's listing. That is
// an accepted, repairable inconsistency: listings self-heal on read and
// the repair job reconciles the rest. The reverse state — a deleted
// session still presented as valid — is never reachable, because every
// destructive path deletes the record before touching the index.
package authstore
