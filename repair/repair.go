// Package repair reconciles the per-identity session indices against
// the session records they reference.
//
// Index and record live in the same store but expire independently, so
// an index member can outlive its record ("orphan"). The runner scans
// every identity index, classifies members as valid or orphaned, and in
// mutating mode removes the orphans and deletes indices left empty. A
// report-only mode computes the same counters without touching anything,
// serving both as a standalone audit and as a pre-flight check before a
// destructive run.
//
// The runner is a batch process: it is invoked out-of-band (cron, admin
// command), never from a request path.
package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appauth/authstore/backend"
	"github.com/appauth/authstore/internal/keyspace"
	"github.com/appauth/authstore/session"
)

// Verdict is the derived consistency state of a finished run.
type Verdict string

const (
	// VerdictGood means no orphaned members were found.
	VerdictGood Verdict = "good"
	// VerdictRepaired means orphans were found and all were removed.
	VerdictRepaired Verdict = "repaired"
	// VerdictNeedsRepair means orphans were found but remain (dry run,
	// or removals failed partway).
	VerdictNeedsRepair Verdict = "needs_repair"
)

// Options select what a run does.
type Options struct {
	// DryRun computes and reports counters without any mutation.
	DryRun bool
	// IncludeExpired additionally runs the bounded-age sweep.
	IncludeExpired bool
	// MaxAgeDays is the bounded-age threshold: session records created
	// longer ago than this are removed regardless of their stored TTL.
	// Zero means 30.
	MaxAgeDays int
}

// Stats are the counters accumulated over one run.
type Stats struct {
	IndicesScanned      int `json:"indices_scanned"`
	MembersChecked      int `json:"members_checked"`
	ValidFound          int `json:"valid_found"`
	OrphanedFound       int `json:"orphaned_found"`
	OrphanedRemoved     int `json:"orphaned_removed"`
	EmptyIndicesRemoved int `json:"empty_indices_removed"`
	IndicesRepaired     int `json:"indices_repaired"`
	AgedSessionsFound   int `json:"aged_sessions_found"`
	AgedSessionsRemoved int `json:"aged_sessions_removed"`
	IdentityFailures    int `json:"identity_failures"`
}

// Report is the structured result of one run.
type Report struct {
	RunID      string    `json:"run_id"`
	DryRun     bool      `json:"dry_run"`
	MaxAgeDays int       `json:"max_age_days,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Stats      Stats     `json:"stats"`
	Verdict    Verdict   `json:"verdict"`
}

// Runner executes repair runs against one namespace of a backend.
type Runner struct {
	backend   backend.Backend
	namespace string
	log       *zap.Logger
}

// NewRunner creates a repair [Runner]. A nil logger is replaced with a
// no-op logger.
func NewRunner(b backend.Backend, namespace string, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		backend:   b,
		namespace: namespace,
		log:       log,
	}
}

// Run executes one repair pass and returns its report. Mutating runs are
// idempotent: with no intervening drift, a second run finds zero
// orphans. Per-identity failures are logged and counted, and the scan
// continues; Run itself fails only when the index enumeration does.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
	}
	if opts.IncludeExpired {
		if opts.MaxAgeDays <= 0 {
			opts.MaxAgeDays = 30
		}
		report.MaxAgeDays = opts.MaxAgeDays
	}

	r.log.Info("repair run starting",
		zap.String("run_id", report.RunID),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("include_expired", opts.IncludeExpired),
	)

	if err := r.orphanPass(ctx, opts.DryRun, &report.Stats); err != nil {
		return nil, err
	}

	if opts.IncludeExpired {
		removed, err := r.agedSweep(ctx, opts, &report.Stats)
		if err != nil {
			return nil, err
		}
		// The sweep just dropped records out from under their indices;
		// a second orphan pass cleans the memberships it created.
		if removed > 0 && !opts.DryRun {
			if err := r.orphanPass(ctx, false, &report.Stats); err != nil {
				return nil, err
			}
		}
	}

	report.FinishedAt = time.Now()
	report.Verdict = verdict(report.Stats)

	r.log.Info("repair run finished",
		zap.String("run_id", report.RunID),
		zap.String("verdict", string(report.Verdict)),
		zap.Int("orphaned_found", report.Stats.OrphanedFound),
		zap.Int("orphaned_removed", report.Stats.OrphanedRemoved),
	)
	return report, nil
}

func verdict(s Stats) Verdict {
	switch {
	case s.OrphanedFound == 0:
		return VerdictGood
	case s.OrphanedRemoved >= s.OrphanedFound:
		return VerdictRepaired
	default:
		return VerdictNeedsRepair
	}
}

// orphanPass scans every identity index and reconciles it against the
// record store.
func (r *Runner) orphanPass(ctx context.Context, dryRun bool, stats *Stats) error {
	pattern := keyspace.Pattern(r.namespace, keyspace.KindUserIndex)
	indexKeys, err := r.backend.Scan(ctx, pattern)
	if err != nil {
		return fmt.Errorf("repair: scan indices: %w", err)
	}

	r.log.Info("scanning identity indices", zap.Int("indices", len(indexKeys)))

	for _, indexKey := range indexKeys {
		stats.IndicesScanned++
		identity := keyspace.Identifier(r.namespace, keyspace.KindUserIndex, indexKey)

		if err := r.repairIndex(ctx, indexKey, dryRun, stats); err != nil {
			stats.IdentityFailures++
			r.log.Error("index repair failed, continuing",
				zap.String("identity", identity),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (r *Runner) repairIndex(ctx context.Context, indexKey string, dryRun bool, stats *Stats) error {
	members, err := r.backend.SortedRange(ctx, indexKey, 0, -1)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	stats.MembersChecked += len(members)

	var valid, orphaned []string
	for _, sid := range members {
		exists, err := r.backend.Exists(ctx, keyspace.Session(r.namespace, sid))
		if err != nil {
			return err
		}
		if exists {
			valid = append(valid, sid)
		} else {
			orphaned = append(orphaned, sid)
		}
	}
	stats.ValidFound += len(valid)
	stats.OrphanedFound += len(orphaned)

	if len(orphaned) == 0 {
		return nil
	}

	identity := keyspace.Identifier(r.namespace, keyspace.KindUserIndex, indexKey)
	if dryRun {
		r.log.Info("dry run: would remove orphaned members",
			zap.String("identity", identity),
			zap.Int("orphaned", len(orphaned)),
			zap.Int("valid", len(valid)),
		)
		return nil
	}

	if err := r.backend.SortedRemove(ctx, indexKey, orphaned...); err != nil {
		return err
	}
	stats.OrphanedRemoved += len(orphaned)
	stats.IndicesRepaired++

	if len(valid) == 0 {
		if err := r.backend.Delete(ctx, indexKey); err != nil {
			return err
		}
		stats.EmptyIndicesRemoved++
	}

	r.log.Info("removed orphaned members",
		zap.String("identity", identity),
		zap.Int("orphaned", len(orphaned)),
		zap.Int("valid", len(valid)),
	)
	return nil
}

// agedSweep removes session records older than the bounded-age
// threshold regardless of their stored TTL. Records that fail to load
// or decode are logged and skipped, never treated as aged.
func (r *Runner) agedSweep(ctx context.Context, opts Options, stats *Stats) (int, error) {
	cutoff := time.Now().Add(-time.Duration(opts.MaxAgeDays) * 24 * time.Hour).Unix()

	pattern := keyspace.Pattern(r.namespace, keyspace.KindSession)
	sessionKeys, err := r.backend.Scan(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("repair: scan sessions: %w", err)
	}

	r.log.Info("bounded-age sweep",
		zap.Int("sessions", len(sessionKeys)),
		zap.Int("max_age_days", opts.MaxAgeDays),
	)

	removed := 0
	for _, key := range sessionKeys {
		raw, err := r.backend.Get(ctx, key)
		if err != nil {
			if errors.Is(err, backend.ErrKeyNotFound) {
				continue
			}
			stats.IdentityFailures++
			r.log.Error("aged sweep read failed, continuing", zap.String("key", key), zap.Error(err))
			continue
		}

		rec, err := session.Decode([]byte(raw))
		if err != nil {
			r.log.Warn("undecodable session record skipped", zap.String("key", key))
			continue
		}
		if rec.CreatedAt >= cutoff {
			continue
		}

		stats.AgedSessionsFound++
		if opts.DryRun {
			continue
		}
		if err := r.backend.Delete(ctx, key); err != nil {
			stats.IdentityFailures++
			r.log.Error("aged sweep delete failed, continuing", zap.String("key", key), zap.Error(err))
			continue
		}
		stats.AgedSessionsRemoved++
		removed++
	}
	return removed, nil
}
