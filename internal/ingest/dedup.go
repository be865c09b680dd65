package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/convoscope/convoscope/internal/store"
)

// Dedup reasons, in check order. The first hit wins.
const (
	DupStagingFile = "staging-file"
	DupRecordingID = "recording-id"
	DupSession     = "session-duplicate"
	DupCallTuple   = "call-tuple"
)

// DedupStore is the authoritative duplicate-check surface. *store.Store
// satisfies it.
type DedupStore interface {
	RecordingExists(ctx context.Context, recordingID string) (bool, error)
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	CallTupleExists(ctx context.Context, start time.Time, from, to string, durationSec int) (bool, error)
}

var _ DedupStore = (*store.Store)(nil)

// Candidate is the identity of a discovered recording for dedup purposes.
type Candidate struct {
	RecordingID string
	SessionID   string
	StartTime   time.Time
	From        string
	To          string
	DurationSec int
}

// Deduper applies the four-layer duplicate check: staging file, persisted
// recording id, persisted session id, and the (start±5s, from, to,
// duration) call tuple.
type Deduper struct {
	st         DedupStore
	cache      *IDCache
	stagingDir string
}

// NewDeduper builds a deduper. cache may be nil to skip the advisory layer.
func NewDeduper(st DedupStore, cache *IDCache, stagingDir string) *Deduper {
	return &Deduper{st: st, cache: cache, stagingDir: stagingDir}
}

// IsDuplicate reports whether the candidate is already known, and through
// which layer it was caught.
func (d *Deduper) IsDuplicate(ctx context.Context, c Candidate) (bool, string, error) {
	if c.RecordingID == "" {
		return false, "", fmt.Errorf("ingest: dedup: empty recording id")
	}

	if d.stagingDir != "" {
		matches, err := filepath.Glob(filepath.Join(d.stagingDir, c.RecordingID+".*"))
		if err == nil && len(matches) > 0 {
			return true, DupStagingFile, nil
		}
	}

	if d.cache != nil && d.cache.Contains(c.RecordingID) {
		return true, DupRecordingID, nil
	}
	known, err := d.st.RecordingExists(ctx, c.RecordingID)
	if err != nil {
		return false, "", fmt.Errorf("ingest: dedup by id: %w", err)
	}
	if known {
		if d.cache != nil {
			d.cache.Add(c.RecordingID)
		}
		return true, DupRecordingID, nil
	}

	if c.SessionID != "" {
		known, err = d.st.SessionExists(ctx, c.SessionID)
		if err != nil {
			return false, "", fmt.Errorf("ingest: dedup by session: %w", err)
		}
		if known {
			return true, DupSession, nil
		}
	}

	if c.From != "" && c.To != "" && c.DurationSec > 0 {
		known, err = d.st.CallTupleExists(ctx, c.StartTime, c.From, c.To, c.DurationSec)
		if err != nil {
			return false, "", fmt.Errorf("ingest: dedup by tuple: %w", err)
		}
		if known {
			return true, DupCallTuple, nil
		}
	}
	return false, "", nil
}
