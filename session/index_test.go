package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/appauth/authstore/backend"
)

func newIndexTest(t *testing.T, opts IndexOptions) (*Index, *Store, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	be := backend.NewRedis(rdb)
	store := NewStore(be, "app", Options{})
	ix := NewIndex(be, store, "app", opts)
	return ix, store, mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func mustSave(t *testing.T, store *Store, rec *Record) {
	t.Helper()
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("save %s: %v", rec.SessionID, err)
	}
}

func TestIndexKeyDerivation(t *testing.T) {
	cases := []struct {
		email, subject, want string
	}{
		{"User@Example.COM", "sub-1", "user@example.com"},
		{"  user@example.com  ", "sub-1", "user@example.com"},
		{"", "sub-1", "sub-1"},
		{"   ", "sub-1", "sub-1"},
		{"", "", ""},
	}
	for _, tc := range cases {
		if got := IndexKey(tc.email, tc.subject); got != tc.want {
			t.Errorf("IndexKey(%q, %q) = %q, want %q", tc.email, tc.subject, got, tc.want)
		}
	}
}

func TestRegisterAndList(t *testing.T) {
	ix, store, _, done := newIndexTest(t, IndexOptions{})
	defer done()
	ctx := context.Background()

	rec := testRecord("sid-a", time.Hour)
	mustSave(t, store, rec)
	if err := ix.Register(ctx, IndexKey(rec.Email, rec.Subject), rec.SessionID, rec.CreatedAt); err != nil {
		t.Fatalf("register: %v", err)
	}

	entries, err := ix.List(ctx, rec.Email, rec.Subject)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.SessionID != "sid-a" || e.Expired || e.Provider != "google" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.ExpiresAt != rec.ExpiresAt || e.CreatedAt != rec.CreatedAt {
		t.Fatalf("entry timestamps mismatch: %+v", e)
	}
}

func TestListNewestFirst(t *testing.T) {
	ix, store, _, done := newIndexTest(t, IndexOptions{})
	defer done()
	ctx := context.Background()

	base := time.Now().Unix()
	for i, sid := range []string{"sid-1", "sid-2", "sid-3"} {
		rec := testRecord(sid, time.Hour)
		rec.CreatedAt = base + int64(i*10)
		mustSave(t, store, rec)
		if err := ix.Register(ctx, "user@example.com", sid, rec.CreatedAt); err != nil {
			t.Fatalf("register %s: %v", sid, err)
		}
	}

	entries, err := ix.List(ctx, "user@example.com", "sub-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 || entries[0].SessionID != "sid-3" || entries[2].SessionID != "sid-1" {
		t.Fatalf("expected newest first, got %+v", entries)
	}
}

func TestRegisterEvictsOldestPastCap(t *testing.T) {
	ix, store, mr, done := newIndexTest(t, IndexOptions{MaxPerIdentity: 2})
	defer done()
	ctx := context.Background()

	base := time.Now().Unix()
	for i, sid := range []string{"sid-1", "sid-2", "sid-3"} {
		rec := testRecord(sid, time.Hour)
		rec.CreatedAt = base + int64(i*10)
		mustSave(t, store, rec)
		if err := ix.Register(ctx, "user@example.com", sid, rec.CreatedAt); err != nil {
			t.Fatalf("register %s: %v", sid, err)
		}
	}

	entries, err := ix.List(ctx, "user@example.com", "sub-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].SessionID != "sid-3" || entries[1].SessionID != "sid-2" {
		t.Fatalf("expected [sid-3 sid-2], got %+v", entries)
	}

	// The evicted session's record is gone too, not just its membership.
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected evicted record deleted, got %v", err)
	}
	if mr.Exists("app:sess:sid-1") {
		t.Fatal("evicted record still stored")
	}
}

func TestListHealsOrphanedMembers(t *testing.T) {
	ix, store, mr, done := newIndexTest(t, IndexOptions{})
	defer done()
	ctx := context.Background()

	live := testRecord("sid-live", time.Hour)
	gone := testRecord("sid-gone", time.Hour)
	mustSave(t, store, live)
	mustSave(t, store, gone)
	for _, rec := range []*Record{live, gone} {
		if err := ix.Register(ctx, "user@example.com", rec.SessionID, rec.CreatedAt); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	// The record expires out from under the index.
	if err := store.Delete(ctx, "sid-gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	entries, err := ix.List(ctx, "user@example.com", "sub-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != "sid-live" {
		t.Fatalf("expected only sid-live, got %+v", entries)
	}

	// Post-state: the orphan was removed from the index in the same call.
	members, err := mr.ZMembers("app:usess:user@example.com")
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	if len(members) != 1 || members[0] != "sid-live" {
		t.Fatalf("index not reconciled: %v", members)
	}
}

func TestListDeletesEmptiedIndexKey(t *testing.T) {
	ix, store, mr, done := newIndexTest(t, IndexOptions{})
	defer done()
	ctx := context.Background()

	rec := testRecord("sid-only", time.Hour)
	mustSave(t, store, rec)
	if err := ix.Register(ctx, "user@example.com", rec.SessionID, rec.CreatedAt); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := store.Delete(ctx, "sid-only"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	entries, err := ix.List(ctx, "user@example.com", "sub-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty listing, got %+v", entries)
	}
	if mr.Exists("app:usess:user@example.com") {
		t.Fatal("emptied index key not deleted")
	}
}

func TestListFallsBackToLegacySubjectIndex(t *testing.T) {
	ix, store, _, done := newIndexTest(t, IndexOptions{})
	defer done()
	ctx := context.Background()

	// A pre-migration session registered under the provider subject.
	rec := testRecord("sid-legacy", time.Hour)
	mustSave(t, store, rec)
	if err := ix.Register(ctx, rec.Subject, rec.SessionID, rec.CreatedAt); err != nil {
		t.Fatalf("register legacy: %v", err)
	}

	entries, err := ix.List(ctx, rec.Email, rec.Subject)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != "sid-legacy" {
		t.Fatalf("legacy fallback failed: %+v", entries)
	}
}

func TestListRespectsLimit(t *testing.T) {
	ix, store, _, done := newIndexTest(t, IndexOptions{ListLimit: 2})
	defer done()
	ctx := context.Background()

	base := time.Now().Unix()
	for i, sid := range []string{"sid-1", "sid-2", "sid-3"} {
		rec := testRecord(sid, time.Hour)
		rec.CreatedAt = base + int64(i*10)
		mustSave(t, store, rec)
		if err := ix.Register(ctx, "user@example.com", sid, rec.CreatedAt); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	entries, err := ix.List(ctx, "user@example.com", "sub-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].SessionID != "sid-3" || entries[1].SessionID != "sid-2" {
		t.Fatalf("expected 2 newest entries, got %+v", entries)
	}
}

func TestRemoveMembership(t *testing.T) {
	ix, store, mr, done := newIndexTest(t, IndexOptions{})
	defer done()
	ctx := context.Background()

	for _, sid := range []string{"sid-1", "sid-2"} {
		rec := testRecord(sid, time.Hour)
		mustSave(t, store, rec)
		if err := ix.Register(ctx, "user@example.com", sid, rec.CreatedAt); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if err := ix.Remove(ctx, "user@example.com", "sid-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	members, err := mr.ZMembers("app:usess:user@example.com")
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	if len(members) != 1 || members[0] != "sid-2" {
		t.Fatalf("unexpected members: %v", members)
	}

	if err := ix.Remove(ctx, "user@example.com", "sid-2"); err != nil {
		t.Fatalf("remove last: %v", err)
	}
	if mr.Exists("app:usess:user@example.com") {
		t.Fatal("emptied index key not deleted on remove")
	}
}
