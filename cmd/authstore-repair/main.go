// Command authstore-repair reconciles the per-identity session indices
// against the session records they reference, out-of-band from any
// serving process.
//
// By default it runs the orphan pass only, which is always safe.
// -include-expired additionally removes session records older than
// -max-age-days regardless of their stored TTL. -dry-run computes and
// prints the same report without mutating anything; run it first before
// a destructive pass.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/appauth/authstore/backend"
	"github.com/appauth/authstore/internal/keyspace"
	"github.com/appauth/authstore/repair"
)

func main() {
	// Deployments keep REDIS_URL and REDIS_PREFIX in .env; absence is fine.
	_ = godotenv.Load()

	var (
		dryRun         = flag.Bool("dry-run", false, "report what would be cleaned without mutating anything")
		includeExpired = flag.Bool("include-expired", false, "also remove session records older than -max-age-days")
		maxAgeDays     = flag.Int("max-age-days", 30, "bounded-age threshold for -include-expired")
		redisAddr      = flag.String("redis-addr", "", "redis address; defaults to REDIS_URL")
		namespace      = flag.String("namespace", "", "key namespace; defaults to REDIS_PREFIX or "+keyspace.DefaultNamespace)
		timeout        = flag.Duration("timeout", 5*time.Minute, "overall run deadline")
	)
	flag.Parse()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_URL")
	}
	if addr == "" {
		fmt.Fprintln(os.Stderr, "no redis address: set -redis-addr or REDIS_URL")
		os.Exit(2)
	}

	ns := *namespace
	if ns == "" {
		ns = os.Getenv("REDIS_PREFIX")
	}
	if ns == "" {
		ns = keyspace.DefaultNamespace
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	be, err := backend.Dial(ctx, addr, 5*time.Second)
	if err != nil {
		// Dial falls back to the in-process store, which is useless for
		// repairing a shared deployment. Refuse to run against it.
		log.Fatal("redis unreachable", zap.String("addr", addr), zap.Error(err))
	}
	defer func() { _ = be.Close() }()

	runner := repair.NewRunner(be, ns, log)
	report, err := runner.Run(ctx, repair.Options{
		DryRun:         *dryRun,
		IncludeExpired: *includeExpired,
		MaxAgeDays:     *maxAgeDays,
	})
	if err != nil {
		log.Fatal("repair run failed", zap.Error(err))
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatal("encode report", zap.Error(err))
	}
	fmt.Println(string(out))

	if report.Verdict == repair.VerdictNeedsRepair && !*dryRun {
		os.Exit(1)
	}
}
