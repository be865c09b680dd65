package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/convoscope/convoscope/internal/resilience"
	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/pkg/provider/telephony"
)

// pageSleep is the minimum pause between paginated provider fetches.
const pageSleep = 500 * time.Millisecond

// CallClient is the slice of the telephony client the call-log adapter
// uses.
type CallClient interface {
	CallLog(ctx context.Context, from, to time.Time, page int) (*telephony.CallLogPage, error)
}

// RecordingStore persists newly discovered recordings. *store.Store
// satisfies it.
type RecordingStore interface {
	InsertRecording(ctx context.Context, r *store.Recording) (bool, error)
}

var _ RecordingStore = (*store.Store)(nil)

// TelephonyAdapter discovers call recordings from the detailed call log
// and queues them as pending recordings.
type TelephonyAdapter struct {
	client CallClient
	st     RecordingStore
	dedup  *Deduper
	cache  *IDCache
	log    *slog.Logger
}

// NewTelephonyAdapter wires the call-log adapter.
func NewTelephonyAdapter(client CallClient, st RecordingStore, dedup *Deduper, cache *IDCache, log *slog.Logger) *TelephonyAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &TelephonyAdapter{client: client, st: st, dedup: dedup, cache: cache, log: log}
}

// SyncDay enumerates one calendar day's call log and queues every recorded
// call that passes the dedup checks. Returns the number newly queued.
func (a *TelephonyAdapter) SyncDay(ctx context.Context, day time.Time) (int, error) {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)

	queued := 0
	for page := 1; ; page++ {
		p, err := a.client.CallLog(ctx, from, to, page)
		if err != nil {
			return queued, fmt.Errorf("ingest: call log page %d: %w", page, err)
		}
		for i := range p.Records {
			n, err := a.queueRecord(ctx, &p.Records[i])
			if err != nil {
				return queued, err
			}
			queued += n
		}
		if !p.HasNextPage() {
			break
		}
		select {
		case <-time.After(pageSleep):
		case <-ctx.Done():
			return queued, ctx.Err()
		}
	}
	a.log.Info("telephony sync done", "day", from.Format("2006-01-02"), "queued", queued)
	return queued, nil
}

func (a *TelephonyAdapter) queueRecord(ctx context.Context, rec *telephony.CallLogRecord) (int, error) {
	if rec.Recording == nil || rec.Recording.ID == "" {
		return 0, nil
	}

	cand := Candidate{
		RecordingID: rec.Recording.ID,
		SessionID:   rec.SessionID,
		StartTime:   rec.StartTime,
		From:        rec.From.PhoneNumber,
		To:          rec.To.PhoneNumber,
		DurationSec: rec.Duration,
	}
	dup, reason, err := a.dedup.IsDuplicate(ctx, cand)
	if err != nil {
		return 0, err
	}
	if dup {
		a.log.Debug("skipping duplicate recording",
			"recording", cand.RecordingID, "reason", reason)
		return 0, nil
	}

	row := &store.Recording{
		RecordingID:   rec.Recording.ID,
		CallID:        rec.ID,
		SessionID:     rec.SessionID,
		StartTime:     rec.StartTime,
		Duration:      rec.Duration,
		Direction:     callDirection(rec),
		From:          store.Party{Number: rec.From.PhoneNumber, Name: rec.From.Name, Extension: rec.From.ExtensionID},
		To:            store.Party{Number: rec.To.PhoneNumber, Name: rec.To.Name, Extension: rec.To.ExtensionID},
		RecordingType: recordingType(rec.Recording.Type),
		MediaURI:      rec.Recording.ContentURI,
		MediaKind:     "audio",
	}
	inserted, err := a.st.InsertRecording(ctx, row)
	if err != nil {
		return 0, fmt.Errorf("ingest: queue recording %s: %w", row.RecordingID, err)
	}
	if !inserted {
		return 0, nil
	}
	if a.cache != nil {
		a.cache.Add(row.RecordingID)
	}
	return 1, nil
}

// callDirection maps the provider direction, treating extension-to-
// extension calls as internal.
func callDirection(rec *telephony.CallLogRecord) store.Direction {
	if rec.From.ExtensionID != "" && rec.To.ExtensionID != "" {
		return store.DirectionInternal
	}
	if strings.EqualFold(rec.Direction, "outbound") {
		return store.DirectionOutbound
	}
	return store.DirectionInbound
}

func recordingType(t string) string {
	if strings.EqualFold(t, "ondemand") || strings.EqualFold(t, "on_demand") {
		return "on_demand"
	}
	return "automatic"
}

// MediaClient is the media-download slice of the telephony client.
type MediaClient interface {
	DownloadCallRecording(ctx context.Context, rec *telephony.RecordingRef, destPath string) error
	DownloadVideoRecording(ctx context.Context, rec *telephony.VideoRecording, destPath string) error
}

// Downloader fetches a recording's media into the staging directory. It is
// the pipeline's download stage for both call audio and video meetings.
type Downloader struct {
	client     MediaClient
	stagingDir string
}

// NewDownloader builds a downloader writing under stagingDir.
func NewDownloader(client MediaClient, stagingDir string) *Downloader {
	return &Downloader{client: client, stagingDir: stagingDir}
}

// Download streams the recording's media to the staging area and returns
// the local path. A non-empty file already present is reused, making the
// stage idempotent.
func (d *Downloader) Download(ctx context.Context, rec *store.Recording) (string, error) {
	if rec.MediaURI == "" {
		return "", resilience.Permanent(fmt.Errorf("ingest: recording %s has no media URI", rec.RecordingID))
	}
	dest := filepath.Join(d.stagingDir, rec.RecordingID+mediaExt(rec.MediaKind))
	if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
		return dest, nil
	}

	var err error
	if rec.MediaKind == "video" {
		err = d.client.DownloadVideoRecording(ctx,
			&telephony.VideoRecording{ID: rec.RecordingID, MediaLink: rec.MediaURI}, dest)
	} else {
		err = d.client.DownloadCallRecording(ctx,
			&telephony.RecordingRef{ID: rec.RecordingID, ContentURI: rec.MediaURI}, dest)
	}
	if err != nil {
		return "", fmt.Errorf("ingest: download %s: %w", rec.RecordingID, err)
	}
	return dest, nil
}

func mediaExt(kind string) string {
	if kind == "video" {
		return ".mp4"
	}
	return ".mp3"
}
