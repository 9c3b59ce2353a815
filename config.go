package authstore

import (
	"os"
	"strconv"
	"time"

	"github.com/appauth/authstore/internal/keyspace"
	"github.com/appauth/authstore/session"
	"github.com/appauth/authstore/state"
)

// Config carries all tunable policy for the store. Configure once
// during initialization and treat as immutable afterwards.
type Config struct {
	// Namespace prefixes every key written by this instance.
	Namespace string
	// BackendTimeout bounds each backend round-trip made on behalf of a
	// Manager operation.
	BackendTimeout time.Duration

	Session session.Options
	Index   session.IndexOptions
	// StateTTL bounds how long an issued OAuth state stays redeemable.
	StateTTL time.Duration
}

// DefaultConfig returns the production defaults: one-hour sliding
// sessions with a half-window rewrite threshold, unlimited sessions per
// identity, and ten-minute OAuth state.
func DefaultConfig() Config {
	return Config{
		Namespace:      keyspace.DefaultNamespace,
		BackendTimeout: 5 * time.Second,
		Session: session.Options{
			DefaultTTL:       time.Hour,
			Sliding:          true,
			Window:           time.Hour,
			SlideDivisor:     2,
			AbsoluteLifetime: 0,
		},
		Index: session.IndexOptions{
			MaxPerIdentity: 0,
			ListLimit:      20,
		},
		StateTTL: state.DefaultTTL,
	}
}

// ConfigFromEnv starts from [DefaultConfig] and applies the environment
// overrides used by existing deployments.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("REDIS_PREFIX"); v != "" {
		cfg.Namespace = v
	}
	if v := envInt("SESSION_TTL_DEFAULT"); v > 0 {
		cfg.Session.DefaultTTL = time.Duration(v) * time.Second
	}
	if v := os.Getenv("SESSION_SLIDING"); v != "" {
		cfg.Session.Sliding = envBool(v)
	}
	if v := envInt("SESSION_SLIDING_SECONDS"); v > 0 {
		cfg.Session.Window = time.Duration(v) * time.Second
	}
	if v := envInt("SESSION_ABSOLUTE_SECONDS"); v > 0 {
		cfg.Session.AbsoluteLifetime = time.Duration(v) * time.Second
	}
	if v := envInt("MAX_USER_SESSIONS"); v > 0 {
		cfg.Index.MaxPerIdentity = v
	}
	if v := envInt("SESSION_LIST_LIMIT"); v > 0 {
		cfg.Index.ListLimit = v
	}

	return cfg
}

func envInt(name string) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return 0
	}
	return v
}

func envBool(v string) bool {
	switch v {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
