package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func testProfile() ProviderProfile {
	return ProviderProfile{
		Name:     "google",
		Issuers:  []string{"https://accounts.google.com", "accounts.google.com"},
		Audience: "client-id-1",
		Keyfunc: func(*jwt.Token) (interface{}, error) {
			return testKey, nil
		},
	}
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://accounts.google.com",
		"aud":   "client-id-1",
		"sub":   "subject-123",
		"email": "user@example.com",
		"name":  "Test User",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
}

func TestFromIDTokenVerified(t *testing.T) {
	raw := signToken(t, baseClaims())

	id, err := FromIDToken(raw, testProfile())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Subject != "subject-123" || id.Email != "user@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.DisplayName != "Test User" || id.Provider != "google" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestFromIDTokenRejectsBadSignature(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims()).
		SignedString([]byte("some-other-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := FromIDToken(raw, testProfile()); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected ErrInvalidIDToken, got %v", err)
	}
}

func TestFromIDTokenRejectsWrongAudience(t *testing.T) {
	claims := baseClaims()
	claims["aud"] = "someone-elses-client"
	raw := signToken(t, claims)

	if _, err := FromIDToken(raw, testProfile()); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected ErrInvalidIDToken, got %v", err)
	}
}

func TestFromIDTokenRejectsWrongIssuer(t *testing.T) {
	claims := baseClaims()
	claims["iss"] = "https://evil.example.com"
	raw := signToken(t, claims)

	if _, err := FromIDToken(raw, testProfile()); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected ErrInvalidIDToken, got %v", err)
	}
}

func TestFromIDTokenRejectsExpired(t *testing.T) {
	claims := baseClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	raw := signToken(t, claims)

	if _, err := FromIDToken(raw, testProfile()); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected ErrInvalidIDToken, got %v", err)
	}
}

func TestFromIDTokenRequiresSubject(t *testing.T) {
	claims := baseClaims()
	delete(claims, "sub")
	raw := signToken(t, claims)

	if _, err := FromIDToken(raw, testProfile()); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected ErrInvalidIDToken, got %v", err)
	}
}

func TestFromIDTokenUnverifiedPath(t *testing.T) {
	profile := testProfile()
	profile.Keyfunc = nil

	// Tokens straight from the provider's token endpoint skip signature
	// verification but still get time and audience checks.
	raw := signToken(t, baseClaims())
	id, err := FromIDToken(raw, profile)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Subject != "subject-123" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	expired := baseClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	if _, err := FromIDToken(signToken(t, expired), profile); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected ErrInvalidIDToken for expired token, got %v", err)
	}

	badAud := baseClaims()
	badAud["aud"] = "someone-elses-client"
	if _, err := FromIDToken(signToken(t, badAud), profile); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected ErrInvalidIDToken for wrong audience, got %v", err)
	}
}

func TestFromIDTokenLeewayAbsorbsSkew(t *testing.T) {
	claims := baseClaims()
	claims["exp"] = time.Now().Add(-30 * time.Second).Unix()
	raw := signToken(t, claims)

	profile := testProfile()
	profile.Leeway = time.Minute
	if _, err := FromIDToken(raw, profile); err != nil {
		t.Fatalf("expected leeway to absorb 30s skew: %v", err)
	}
}

func TestFromIDTokenGarbage(t *testing.T) {
	if _, err := FromIDToken("not-a-jwt", testProfile()); !errors.Is(err, ErrInvalidIDToken) {
		t.Fatalf("expected ErrInvalidIDToken, got %v", err)
	}
}
