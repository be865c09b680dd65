package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RecordFailedItem moves a recording into the failed-items table after it
// exhausted its retry budget. An existing row is refreshed with the newer
// error and attempt count. Recordings listed here are excluded from all
// pending-selection queries until manually reset.
func (s *Store) RecordFailedItem(ctx context.Context, recordingID, reason, lastError string, attempts int) error {
	const q = `
		INSERT INTO failed_items
		    (recording_id, failure_reason, last_error, attempt_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (recording_id) DO UPDATE SET
		    failure_reason = EXCLUDED.failure_reason,
		    last_error     = EXCLUDED.last_error,
		    attempt_count  = EXCLUDED.attempt_count,
		    last_attempted = now()`
	if _, err := s.pool.Exec(ctx, q, recordingID, reason, lastError, attempts); err != nil {
		return fmt.Errorf("store: record failed item %s: %w", recordingID, err)
	}
	return nil
}

// IsFailedItem reports whether the recording is parked in failed_items.
func (s *Store) IsFailedItem(ctx context.Context, recordingID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM failed_items WHERE recording_id = $1)`,
		recordingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: is failed item: %w", err)
	}
	return exists, nil
}

// ListFailedItems returns all parked recordings, most recent failure first.
func (s *Store) ListFailedItems(ctx context.Context, limit int) ([]FailedItem, error) {
	const q = `
		SELECT recording_id, failure_reason, last_error, attempt_count,
		       first_attempted, last_attempted
		FROM   failed_items
		ORDER  BY last_attempted DESC
		LIMIT  $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list failed items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (FailedItem, error) {
		var fi FailedItem
		err := row.Scan(&fi.RecordingID, &fi.FailureReason, &fi.LastError,
			&fi.AttemptCount, &fi.FirstAttempted, &fi.LastAttempted)
		return fi, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan failed items: %w", err)
	}
	return items, nil
}

// ReinstateFailedItem removes a recording from failed_items and resets its
// failed stages to pending with a fresh retry budget. This is the manual
// reset path; automatic passes never touch parked items.
func (s *Store) ReinstateFailedItem(ctx context.Context, recordingID string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM failed_items WHERE recording_id = $1`, recordingID)
		if err != nil {
			return fmt.Errorf("store: reinstate %s: %w", recordingID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx, `
			UPDATE recordings
			SET download_status      = CASE WHEN download_status = 'failed' THEN 'pending' ELSE download_status END,
			    transcription_status = CASE WHEN transcription_status = 'failed' THEN 'pending' ELSE transcription_status END,
			    upload_status        = CASE WHEN upload_status = 'failed' THEN 'pending' ELSE upload_status END,
			    download_error = '', transcription_error = '', upload_error = '',
			    retry_count = 0,
			    last_updated = now()
			WHERE recording_id = $1`, recordingID)
		if err != nil {
			return fmt.Errorf("store: reinstate reset %s: %w", recordingID, err)
		}
		return nil
	})
}

// ErrAlreadyFailed is returned when work is requested for a recording that
// is parked in failed_items.
var ErrAlreadyFailed = errors.New("store: recording is a failed item")
