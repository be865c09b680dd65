package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// sessionDupWindow is the tolerance applied to start times when matching a
// call by its (start, from, to, duration) tuple.
const sessionDupWindow = 5 * time.Second

// InsertRecording persists a newly discovered recording with all stages
// pending. It reports whether a row was actually inserted; a pre-existing
// recording with the same id leaves the table untouched (the uniqueness
// constraint is belt-and-braces behind the explicit dedup checks).
func (s *Store) InsertRecording(ctx context.Context, r *Recording) (bool, error) {
	const q = `
		INSERT INTO recordings
		    (recording_id, call_id, session_id, start_time, duration_seconds,
		     direction, from_number, from_name, from_extension,
		     to_number, to_name, to_extension, recording_type,
		     media_uri, media_kind, local_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (recording_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q,
		r.RecordingID, r.CallID, r.SessionID, r.StartTime, r.Duration,
		string(r.Direction),
		r.From.Number, r.From.Name, r.From.Extension,
		r.To.Number, r.To.Name, r.To.Extension,
		r.RecordingType, r.MediaURI, r.MediaKind, r.LocalPath,
	)
	if err != nil {
		return false, fmt.Errorf("store: insert recording %s: %w", r.RecordingID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetRecording loads one recording by id. Returns [ErrNotFound] when absent.
func (s *Store) GetRecording(ctx context.Context, recordingID string) (*Recording, error) {
	const q = `
		SELECT recording_id, call_id, session_id, start_time, duration_seconds,
		       direction, from_number, from_name, from_extension,
		       to_number, to_name, to_extension, recording_type,
		       media_uri, media_kind,
		       download_status, download_attempts, download_completed_at, download_error,
		       transcription_status, transcription_attempts, transcription_completed_at, transcription_error,
		       upload_status, upload_attempts, upload_completed_at, upload_error,
		       local_path, archive_file_id, word_count, confidence, language,
		       audio_deleted, audio_deleted_at, retry_count, worker_id,
		       created_at, last_updated
		FROM   recordings
		WHERE  recording_id = $1`

	r := &Recording{}
	var direction string
	err := s.pool.QueryRow(ctx, q, recordingID).Scan(
		&r.RecordingID, &r.CallID, &r.SessionID, &r.StartTime, &r.Duration,
		&direction,
		&r.From.Number, &r.From.Name, &r.From.Extension,
		&r.To.Number, &r.To.Name, &r.To.Extension,
		&r.RecordingType,
		&r.MediaURI, &r.MediaKind,
		&r.Download.Status, &r.Download.Attempts, &r.Download.CompletedAt, &r.Download.LastError,
		&r.Transcription.Status, &r.Transcription.Attempts, &r.Transcription.CompletedAt, &r.Transcription.LastError,
		&r.Upload.Status, &r.Upload.Attempts, &r.Upload.CompletedAt, &r.Upload.LastError,
		&r.LocalPath, &r.ArchiveFileID, &r.WordCount, &r.Confidence, &r.Language,
		&r.AudioDeleted, &r.AudioDeletedAt, &r.RetryCount, &r.WorkerID,
		&r.CreatedAt, &r.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get recording %s: %w", recordingID, err)
	}
	r.Direction = Direction(direction)
	return r, nil
}

// RecordingExists reports whether a recording with the given provider id is
// already persisted.
func (s *Store) RecordingExists(ctx context.Context, recordingID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM recordings WHERE recording_id = $1)`,
		recordingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: recording exists: %w", err)
	}
	return exists, nil
}

// SessionExists reports whether any recording carries the given provider
// session id. Used by the dedup layer to catch re-reported sessions.
func (s *Store) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM recordings WHERE session_id = $1)`,
		sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: session exists: %w", err)
	}
	return exists, nil
}

// CallTupleExists reports whether a recording matches the
// (start_time ± 5s, from, to, duration) tuple. This catches the same call
// reported under distinct provider ids.
func (s *Store) CallTupleExists(ctx context.Context, start time.Time, from, to string, durationSec int) (bool, error) {
	const q = `
		SELECT EXISTS (
		    SELECT 1 FROM recordings
		    WHERE from_number = $1
		      AND to_number = $2
		      AND duration_seconds = $3
		      AND start_time BETWEEN $4 AND $5
		)`
	var exists bool
	err := s.pool.QueryRow(ctx, q, from, to, durationSec,
		start.Add(-sessionDupWindow), start.Add(sessionDupWindow),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: call tuple exists: %w", err)
	}
	return exists, nil
}

// ClaimStage atomically transitions a recording's stage from pending to
// in_progress and stamps the claiming worker. It reports whether the claim
// succeeded; a false return means another worker owns the item or it is not
// pending.
func (s *Store) ClaimStage(ctx context.Context, recordingID string, stage Stage, workerID string) (bool, error) {
	if !stage.IsValid() {
		return false, fmt.Errorf("store: claim stage: invalid stage %q", stage)
	}
	q := fmt.Sprintf(`
		UPDATE recordings
		SET    %[1]s = 'in_progress',
		       worker_id = $2,
		       last_updated = now()
		WHERE  recording_id = $1
		  AND  %[1]s = 'pending'`, stage.column())

	tag, err := s.pool.Exec(ctx, q, recordingID, workerID)
	if err != nil {
		return false, fmt.Errorf("store: claim %s for %s: %w", stage, recordingID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveStageCheckpoint records the outcome of one stage attempt: completed on
// success, failed with the error text otherwise. Attempts are incremented on
// every call.
func (s *Store) SaveStageCheckpoint(ctx context.Context, recordingID string, stage Stage, success bool, stageErr string) error {
	if !stage.IsValid() {
		return fmt.Errorf("store: checkpoint: invalid stage %q", stage)
	}

	var q string
	if success {
		q = fmt.Sprintf(`
			UPDATE recordings
			SET    %[1]s_status = 'completed',
			       %[1]s_attempts = %[1]s_attempts + 1,
			       %[1]s_completed_at = now(),
			       %[1]s_error = '',
			       last_updated = now()
			WHERE  recording_id = $1`, string(stage))
		stageErr = ""
	} else {
		q = fmt.Sprintf(`
			UPDATE recordings
			SET    %[1]s_status = 'failed',
			       %[1]s_attempts = %[1]s_attempts + 1,
			       %[1]s_error = $2,
			       last_updated = now()
			WHERE  recording_id = $1`, string(stage))
	}

	var err error
	if success {
		_, err = s.pool.Exec(ctx, q, recordingID)
	} else {
		_, err = s.pool.Exec(ctx, q, recordingID, stageErr)
	}
	if err != nil {
		return fmt.Errorf("store: checkpoint %s for %s: %w", stage, recordingID, err)
	}
	return nil
}

// PendingForStage returns up to limit recordings eligible for the given
// stage. Stage gating follows the pipeline order: transcription requires a
// completed download, upload requires a completed transcription. Recordings
// present in failed_items are excluded.
func (s *Store) PendingForStage(ctx context.Context, stage Stage, limit int) ([]PendingItem, error) {
	var cond string
	switch stage {
	case StageDownload:
		cond = `download_status = 'pending'`
	case StageTranscription:
		cond = `download_status = 'completed' AND transcription_status = 'pending'`
	case StageUpload:
		cond = `transcription_status = 'completed' AND upload_status = 'pending'`
	default:
		return nil, fmt.Errorf("store: pending: invalid stage %q", stage)
	}

	q := fmt.Sprintf(`
		SELECT r.recording_id, r.retry_count, r.last_updated
		FROM   recordings r
		WHERE  %s
		  AND  NOT EXISTS (SELECT 1 FROM failed_items f WHERE f.recording_id = r.recording_id)
		ORDER  BY r.start_time
		LIMIT  $1`, cond)

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending for %s: %w", stage, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PendingItem, error) {
		var it PendingItem
		err := row.Scan(&it.RecordingID, &it.RetryCount, &it.LastUpdated)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan pending: %w", err)
	}
	return items, nil
}

// PendingOnDate returns recordings for one calendar day (UTC) whose upload
// has not completed. The batch processor uses it to re-drive partially
// processed days on resume.
func (s *Store) PendingOnDate(ctx context.Context, day time.Time, limit int) ([]PendingItem, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	const q = `
		SELECT r.recording_id, r.retry_count, r.last_updated
		FROM   recordings r
		WHERE  r.start_time >= $1 AND r.start_time < $2
		  AND  r.upload_status <> 'completed'
		  AND  NOT EXISTS (SELECT 1 FROM failed_items f WHERE f.recording_id = r.recording_id)
		ORDER  BY r.start_time
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, dayStart, dayStart.Add(24*time.Hour), limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending on date: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PendingItem, error) {
		var it PendingItem
		err := row.Scan(&it.RecordingID, &it.RetryCount, &it.LastUpdated)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan pending on date: %w", err)
	}
	return items, nil
}

// CompletedUploadIDs returns the subset of ids whose upload stage has
// completed. The batch processor uses it to exclude already-processed
// recordings from a day's provider listing.
func (s *Store) CompletedUploadIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if len(ids) == 0 {
		return map[string]struct{}{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT recording_id FROM recordings
		 WHERE recording_id = ANY($1) AND upload_status = 'completed'`, ids)
	if err != nil {
		return nil, fmt.Errorf("store: completed upload ids: %w", err)
	}
	out := map[string]struct{}{}
	var id string
	if _, err := pgx.ForEachRow(rows, []any{&id}, func() error {
		out[id] = struct{}{}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("store: scan completed ids: %w", err)
	}
	return out, nil
}

// KnownRecordingIDs returns all recording ids first seen after cutoff. The
// ingestion adapters load these into their advisory in-memory dedup cache at
// startup.
func (s *Store) KnownRecordingIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT recording_id FROM recordings WHERE created_at >= $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: known recording ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan known ids: %w", err)
	}
	return ids, nil
}

// SetLocalPath records where a downloaded media file lives on disk.
func (s *Store) SetLocalPath(ctx context.Context, recordingID, path string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE recordings SET local_path = $2, last_updated = now() WHERE recording_id = $1`,
		recordingID, path)
	if err != nil {
		return fmt.Errorf("store: set local path: %w", err)
	}
	return nil
}

// SetTranscriptStats denormalises transcript statistics onto the recording.
func (s *Store) SetTranscriptStats(ctx context.Context, recordingID string, wordCount int, confidence float32, language string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE recordings
		 SET word_count = $2, confidence = $3, language = $4, last_updated = now()
		 WHERE recording_id = $1`,
		recordingID, wordCount, confidence, language)
	if err != nil {
		return fmt.Errorf("store: set transcript stats: %w", err)
	}
	return nil
}

// MarkAudioDeleted records the verified removal of the canonical audio file.
// The archive identifier must already be known; a deleted recording without
// an archive copy would violate the retention invariant.
func (s *Store) MarkAudioDeleted(ctx context.Context, recordingID, archiveFileID string) error {
	if archiveFileID == "" {
		return errors.New("store: mark audio deleted: archive file id is required")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE recordings
		 SET audio_deleted = TRUE,
		     audio_deleted_at = now(),
		     archive_file_id = $2,
		     local_path = '',
		     last_updated = now()
		 WHERE recording_id = $1`,
		recordingID, archiveFileID)
	if err != nil {
		return fmt.Errorf("store: mark audio deleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetFailedStages resets failed stages back to pending for recordings
// older than maxAge with retry_count below maxRetries. Exactly the failed
// stage is reset; completed stages are preserved. Returns the number of
// recordings touched.
func (s *Store) ResetFailedStages(ctx context.Context, maxAge time.Duration, maxRetries int) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	total := 0
	for _, stage := range []Stage{StageDownload, StageTranscription, StageUpload} {
		q := fmt.Sprintf(`
			UPDATE recordings
			SET    %[1]s_status = 'pending',
			       %[1]s_error = '',
			       retry_count = retry_count + 1,
			       last_updated = now()
			WHERE  %[1]s_status = 'failed'
			  AND  last_updated < $1
			  AND  retry_count < $2`, string(stage))
		tag, err := s.pool.Exec(ctx, q, cutoff, maxRetries)
		if err != nil {
			return total, fmt.Errorf("store: reset failed %s: %w", stage, err)
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

// ProcessingSummary aggregates pipeline counts in SQL.
func (s *Store) ProcessingSummary(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		PendingByStage: map[Stage]int{},
		FailedByStage:  map[Stage]int{},
	}

	const q = `
		SELECT count(*),
		       count(*) FILTER (WHERE download_status = 'pending'),
		       count(*) FILTER (WHERE download_status = 'completed' AND transcription_status = 'pending'),
		       count(*) FILTER (WHERE transcription_status = 'completed' AND upload_status = 'pending'),
		       count(*) FILTER (WHERE download_status = 'failed'),
		       count(*) FILTER (WHERE transcription_status = 'failed'),
		       count(*) FILTER (WHERE upload_status = 'failed')
		FROM recordings`
	var pd, pt, pu, fd, ft, fu int
	if err := s.pool.QueryRow(ctx, q).Scan(
		&sum.TotalRecordings, &pd, &pt, &pu, &fd, &ft, &fu,
	); err != nil {
		return nil, fmt.Errorf("store: processing summary: %w", err)
	}
	sum.PendingByStage[StageDownload] = pd
	sum.PendingByStage[StageTranscription] = pt
	sum.PendingByStage[StageUpload] = pu
	sum.FailedByStage[StageDownload] = fd
	sum.FailedByStage[StageTranscription] = ft
	sum.FailedByStage[StageUpload] = fu

	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM failed_items`).Scan(&sum.FailedItems); err != nil {
		return nil, fmt.Errorf("store: failed item count: %w", err)
	}
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM batches WHERE is_active AND NOT completed`,
	).Scan(&sum.ActiveBatches); err != nil {
		return nil, fmt.Errorf("store: active batch count: %w", err)
	}
	return sum, nil
}
