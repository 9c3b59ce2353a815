package session

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Client-metadata snapshots are advisory only; bound them so a hostile
// User-Agent header cannot inflate every record.
const (
	maxUserAgentLen = 256
	maxClientIPLen  = 64
)

// Record is a server-side session: proof of an authenticated identity,
// referenced by an opaque id. The JSON field names are the stored wire
// format and must not change while old records are live.
type Record struct {
	// SessionID is the primary key. It is carried in the storage key,
	// not in the encoded blob, and is re-attached on read.
	SessionID string `json:"-"`

	Subject  string `json:"sub"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`

	CreatedAt int64 `json:"ts"`
	ExpiresAt int64 `json:"exp"`

	UserAgent string `json:"ua,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// NewSessionID returns a URL-safe session id with 256 bits of entropy.
func NewSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Encode serializes a record, truncating oversized client metadata.
func Encode(rec *Record) ([]byte, error) {
	clone := *rec
	if len(clone.UserAgent) > maxUserAgentLen {
		clone.UserAgent = clone.UserAgent[:maxUserAgentLen]
	}
	if len(clone.IP) > maxClientIPLen {
		clone.IP = clone.IP[:maxClientIPLen]
	}
	return json.Marshal(&clone)
}

// Decode deserializes a stored record blob.
func Decode(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: decode record: %w", err)
	}
	return &rec, nil
}
