package authstore

import (
	"errors"

	"go.uber.org/zap"

	"github.com/appauth/authstore/backend"
	"github.com/appauth/authstore/session"
	"github.com/appauth/authstore/state"
)

// Builder assembles a [Manager]. Construction is allocation-only; no
// backend I/O happens before the first Manager operation.
type Builder struct {
	config   Config
	backend  backend.Backend
	upserter UserUpserter
	log      *zap.Logger

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithBackend sets the store backend. Required.
func (b *Builder) WithBackend(be backend.Backend) *Builder {
	b.backend = be
	return b
}

// WithUserUpserter sets the external identity→user persistence
// collaborator. Optional.
func (b *Builder) WithUserUpserter(up UserUpserter) *Builder {
	b.upserter = up
	return b
}

// WithLogger sets the logger. Optional; the default is a no-op logger
// so the library stays silent unless wired into the host's logging.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// Build validates the configuration and constructs the [Manager].
// A Builder builds at most once.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("authstore: builder already used")
	}
	if b.backend == nil {
		return nil, errors.New("authstore: backend is required")
	}
	b.built = true

	cfg := b.config
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = DefaultConfig().BackendTimeout
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}

	sessions := session.NewStore(b.backend, cfg.Namespace, cfg.Session)

	return &Manager{
		cfg:      cfg,
		backend:  b.backend,
		sessions: sessions,
		index:    session.NewIndex(b.backend, sessions, cfg.Namespace, cfg.Index),
		states:   state.NewStore(b.backend, cfg.Namespace, cfg.StateTTL),
		upserter: b.upserter,
		log:      log,
	}, nil
}
