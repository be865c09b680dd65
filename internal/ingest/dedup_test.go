package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeDedupStore answers the three authoritative dedup queries from sets.
type fakeDedupStore struct {
	recordings map[string]bool
	sessions   map[string]bool
	tuples     map[string]bool // "from|to|duration"

	idQueries int
}

func newFakeDedupStore() *fakeDedupStore {
	return &fakeDedupStore{
		recordings: map[string]bool{},
		sessions:   map[string]bool{},
		tuples:     map[string]bool{},
	}
}

func (f *fakeDedupStore) RecordingExists(_ context.Context, id string) (bool, error) {
	f.idQueries++
	return f.recordings[id], nil
}

func (f *fakeDedupStore) SessionExists(_ context.Context, id string) (bool, error) {
	return f.sessions[id], nil
}

func (f *fakeDedupStore) CallTupleExists(_ context.Context, _ time.Time, from, to string, dur int) (bool, error) {
	return f.tuples[fmt.Sprintf("%s|%s|%d", from, to, dur)], nil
}

func candidate() Candidate {
	return Candidate{
		RecordingID: "rec-1",
		SessionID:   "sess-1",
		StartTime:   time.Date(2025, 9, 21, 15, 30, 0, 0, time.UTC),
		From:        "+15550001111",
		To:          "+15550002222",
		DurationSec: 120,
	}
}

func TestIsDuplicateFreshCandidate(t *testing.T) {
	d := NewDeduper(newFakeDedupStore(), NewIDCache(), t.TempDir())
	dup, reason, err := d.IsDuplicate(context.Background(), candidate())
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Fatalf("fresh candidate flagged duplicate via %s", reason)
	}
}

func TestIsDuplicateLayerOrder(t *testing.T) {
	staging := t.TempDir()

	cases := []struct {
		name   string
		setup  func(st *fakeDedupStore, cache *IDCache)
		reason string
	}{
		{
			name: "staging file wins first",
			setup: func(st *fakeDedupStore, _ *IDCache) {
				path := filepath.Join(staging, "rec-1.mp3")
				if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
					t.Fatal(err)
				}
				st.recordings["rec-1"] = true // would also hit layer 2
			},
			reason: DupStagingFile,
		},
		{
			name:   "persisted recording id",
			setup:  func(st *fakeDedupStore, _ *IDCache) { st.recordings["rec-1"] = true },
			reason: DupRecordingID,
		},
		{
			name:   "session id",
			setup:  func(st *fakeDedupStore, _ *IDCache) { st.sessions["sess-1"] = true },
			reason: DupSession,
		},
		{
			name: "call tuple",
			setup: func(st *fakeDedupStore, _ *IDCache) {
				st.tuples["+15550001111|+15550002222|120"] = true
			},
			reason: DupCallTuple,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, cache := newFakeDedupStore(), NewIDCache()
			tc.setup(st, cache)
			d := NewDeduper(st, cache, staging)

			dup, reason, err := d.IsDuplicate(context.Background(), candidate())
			if err != nil {
				t.Fatalf("IsDuplicate: %v", err)
			}
			if !dup || reason != tc.reason {
				t.Fatalf("dup=%v reason=%q, want duplicate via %s", dup, reason, tc.reason)
			}
		})
		os.Remove(filepath.Join(staging, "rec-1.mp3"))
	}
}

func TestIsDuplicateCacheShortCircuitsDB(t *testing.T) {
	st, cache := newFakeDedupStore(), NewIDCache()
	cache.Add("rec-1")
	d := NewDeduper(st, cache, "")

	dup, reason, err := d.IsDuplicate(context.Background(), candidate())
	if err != nil || !dup || reason != DupRecordingID {
		t.Fatalf("dup=%v reason=%q err=%v, want cache hit", dup, reason, err)
	}
	if st.idQueries != 0 {
		t.Errorf("cache hit still queried the store %d times", st.idQueries)
	}
}

func TestIsDuplicateDBHitBackfillsCache(t *testing.T) {
	st, cache := newFakeDedupStore(), NewIDCache()
	st.recordings["rec-1"] = true
	d := NewDeduper(st, cache, "")

	if _, _, err := d.IsDuplicate(context.Background(), candidate()); err != nil {
		t.Fatal(err)
	}
	if !cache.Contains("rec-1") {
		t.Error("DB duplicate hit should warm the advisory cache")
	}
}

func TestIsDuplicateEmptyID(t *testing.T) {
	d := NewDeduper(newFakeDedupStore(), nil, "")
	if _, _, err := d.IsDuplicate(context.Background(), Candidate{}); err == nil {
		t.Fatal("empty recording id must be rejected")
	}
}
