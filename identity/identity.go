// Package identity models the result of a successful external identity
// exchange and extracts it from provider ID tokens.
//
// The OAuth redirect and code-for-token exchange happen outside this
// module; what comes back across that boundary is an ID token. This
// package turns a token the exchange already anchored to a provider
// into the (subject, email, name, provider) tuple the session layer
// stores and indexes.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidIDToken is returned for tokens that fail structural or
// claim validation. The wrapped cause carries detail for logs; callers
// should not forward it to end users.
var ErrInvalidIDToken = errors.New("invalid id token")

// Identity is the stable result of a verified external login.
type Identity struct {
	Subject     string
	Email       string
	DisplayName string
	Provider    string
}

// ProviderProfile describes how one identity provider's ID tokens are
// validated.
type ProviderProfile struct {
	// Name tags sessions created from this provider ("google", ...).
	Name string
	// Issuers lists the accepted iss values. Google, for one, emits
	// both "accounts.google.com" and "https://accounts.google.com".
	Issuers []string
	// Audience is the expected aud (the OAuth client id). Empty skips
	// the audience check.
	Audience string
	// Leeway absorbs clock skew on the time-based claims. Zero means
	// one minute.
	Leeway time.Duration
	// Keyfunc resolves the signing key for full signature verification.
	// Nil skips signature verification, acceptable only when the token
	// was received directly from the provider's token endpoint over TLS
	// rather than from a client.
	Keyfunc jwt.Keyfunc
}

// FromIDToken validates an ID token against the profile and returns the
// identity it asserts.
func FromIDToken(raw string, profile ProviderProfile) (Identity, error) {
	leeway := profile.Leeway
	if leeway <= 0 {
		leeway = time.Minute
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if profile.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(profile.Audience))
	}

	claims := jwt.MapClaims{}
	var err error
	if profile.Keyfunc != nil {
		_, err = jwt.NewParser(parserOpts...).ParseWithClaims(raw, claims, profile.Keyfunc)
	} else {
		_, _, err = jwt.NewParser(parserOpts...).ParseUnverified(raw, claims)
		if err == nil {
			err = validateUnverified(claims, profile.Audience, leeway)
		}
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}

	if len(profile.Issuers) > 0 {
		iss, _ := claims.GetIssuer()
		if !issuerAccepted(iss, profile.Issuers) {
			return Identity{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidIDToken, iss)
		}
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: missing sub claim", ErrInvalidIDToken)
	}

	return Identity{
		Subject:     sub,
		Email:       stringClaim(claims, "email"),
		DisplayName: stringClaim(claims, "name"),
		Provider:    profile.Name,
	}, nil
}

// validateUnverified re-applies the time and audience checks that
// ParseUnverified skips along with the signature.
func validateUnverified(claims jwt.MapClaims, audience string, leeway time.Duration) error {
	now := time.Now()

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return errors.New("missing exp claim")
	}
	if now.After(exp.Add(leeway)) {
		return errors.New("token expired")
	}

	if nbf, err := claims.GetNotBefore(); err == nil && nbf != nil {
		if now.Add(leeway).Before(nbf.Time) {
			return errors.New("token not yet valid")
		}
	}

	if audience != "" {
		auds, err := claims.GetAudience()
		if err != nil {
			return errors.New("missing aud claim")
		}
		for _, aud := range auds {
			if aud == audience {
				return nil
			}
		}
		return errors.New("audience mismatch")
	}
	return nil
}

func issuerAccepted(iss string, accepted []string) bool {
	for _, candidate := range accepted {
		if iss == candidate {
			return true
		}
	}
	return false
}

func stringClaim(claims jwt.MapClaims, name string) string {
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}
