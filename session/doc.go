// Package session owns session records and the per-identity session
// index stored in the shared backend.
//
// [Store] is the source of truth for session validity: a record exists
// and is unexpired, or the session does not exist. [Index] is a derived,
// eventually-consistent view used for listing and revoking a user's
// sessions; it is never consulted to decide whether a session is valid.
// Divergence between the two (an index member whose record is gone) is
// expected transiently and is healed lazily by [Index.List] or in batch
// by the repair package.
package session
