package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AuditEntry is one row of the tamper-evident audit trail kept by the
// secure storage handler. Each entry's hash covers its own fields plus the
// previous entry's hash, forming a verifiable chain.
type AuditEntry struct {
	ID          uuid.UUID
	RecordingID string
	Action      string // e.g. "archive_upload", "audio_delete", "audio_delete_retry"
	Outcome     string // "success" | "partial" | "failure"
	Detail      string
	PrevHash    string
	EntryHash   string
	CreatedAt   time.Time
}

// AppendAudit appends an entry to the audit log, chaining its hash to the
// most recent entry. The insert and the previous-hash read happen in one
// transaction so concurrent appends cannot fork the chain.
func (s *Store) AppendAudit(ctx context.Context, recordingID, action, outcome, detail string) (*AuditEntry, error) {
	entry := &AuditEntry{
		ID:          uuid.New(),
		RecordingID: recordingID,
		Action:      action,
		Outcome:     outcome,
		Detail:      detail,
		CreatedAt:   time.Now().UTC(),
	}

	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var prev string
		err := tx.QueryRow(ctx,
			`SELECT entry_hash FROM audit_log ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE`,
		).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("store: read audit head: %w", err)
		}
		entry.PrevHash = prev
		entry.EntryHash = hashAuditEntry(entry)

		_, err = tx.Exec(ctx,
			`INSERT INTO audit_log
			     (id, recording_id, action, outcome, detail, prev_hash, entry_hash, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			entry.ID, entry.RecordingID, entry.Action, entry.Outcome,
			entry.Detail, entry.PrevHash, entry.EntryHash, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: append audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AuditTrail returns all audit entries for a recording, oldest first.
func (s *Store) AuditTrail(ctx context.Context, recordingID string) ([]AuditEntry, error) {
	const q = `
		SELECT id, recording_id, action, outcome, detail, prev_hash, entry_hash, created_at
		FROM   audit_log
		WHERE  recording_id = $1
		ORDER  BY created_at`
	rows, err := s.pool.Query(ctx, q, recordingID)
	if err != nil {
		return nil, fmt.Errorf("store: audit trail: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuditEntry, error) {
		var e AuditEntry
		err := row.Scan(&e.ID, &e.RecordingID, &e.Action, &e.Outcome,
			&e.Detail, &e.PrevHash, &e.EntryHash, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan audit trail: %w", err)
	}
	return entries, nil
}

// hashAuditEntry computes the chained hash of an entry.
func hashAuditEntry(e *AuditEntry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%d",
		e.ID, e.RecordingID, e.Action, e.Outcome, e.Detail, e.PrevHash,
		e.CreatedAt.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}
