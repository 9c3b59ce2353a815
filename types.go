package authstore

import (
	"context"

	"github.com/appauth/authstore/identity"
)

// UserUpserter persists the identity→application-user mapping outside
// this store. Implementations typically wrap the application database.
// Upsert failures do not abort session creation: the session layer's
// records stand on their own, and the mapping catches up on the next
// login.
type UserUpserter interface {
	UpsertUser(ctx context.Context, id identity.Identity) error
}

// ClientMeta is the advisory user-agent and client-address snapshot
// recorded with each session. Values are length-bounded on write.
type ClientMeta struct {
	UserAgent string
	IP        string
}

// Identity re-exports the verified-login result type for callers that
// only import the root package.
type Identity = identity.Identity
