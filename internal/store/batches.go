package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateBatch persists a new batch with its cursor at the start date.
func (s *Store) CreateBatch(ctx context.Context, b *Batch) error {
	if b.EndDate.Before(b.StartDate) {
		return fmt.Errorf("store: create batch %s: end date before start date", b.BatchID)
	}
	const q = `
		INSERT INTO batches (batch_id, start_date, end_date, cursor_date)
		VALUES ($1, $2, $3, $2)`
	if _, err := s.pool.Exec(ctx, q, b.BatchID, b.StartDate, b.EndDate); err != nil {
		return fmt.Errorf("store: create batch %s: %w", b.BatchID, err)
	}
	b.CursorDate = b.StartDate
	b.IsActive = true
	return nil
}

// LoadBatch returns the stored batch snapshot or [ErrNotFound].
func (s *Store) LoadBatch(ctx context.Context, batchID string) (*Batch, error) {
	const q = `
		SELECT batch_id, start_date, end_date, cursor_date,
		       total_processed, total_failed, error_count, last_error,
		       completed, is_active, last_checkpoint, created_at
		FROM   batches
		WHERE  batch_id = $1`

	b := &Batch{}
	err := s.pool.QueryRow(ctx, q, batchID).Scan(
		&b.BatchID, &b.StartDate, &b.EndDate, &b.CursorDate,
		&b.TotalProcessed, &b.TotalFailed, &b.ErrorCount, &b.LastError,
		&b.Completed, &b.IsActive, &b.LastCheckpoint, &b.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load batch %s: %w", batchID, err)
	}
	return b, nil
}

// UpdateBatch overwrites the persisted snapshot and advances the checkpoint
// timestamp.
func (s *Store) UpdateBatch(ctx context.Context, b *Batch) error {
	const q = `
		UPDATE batches
		SET    cursor_date = $2,
		       total_processed = $3,
		       total_failed = $4,
		       error_count = $5,
		       last_error = $6,
		       last_checkpoint = now()
		WHERE  batch_id = $1`
	tag, err := s.pool.Exec(ctx, q,
		b.BatchID, b.CursorDate, b.TotalProcessed, b.TotalFailed,
		b.ErrorCount, b.LastError)
	if err != nil {
		return fmt.Errorf("store: update batch %s: %w", b.BatchID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteBatch marks the batch finished and inactive.
func (s *Store) CompleteBatch(ctx context.Context, b *Batch) error {
	const q = `
		UPDATE batches
		SET    completed = TRUE,
		       is_active = FALSE,
		       cursor_date = $2,
		       total_processed = $3,
		       total_failed = $4,
		       last_checkpoint = now()
		WHERE  batch_id = $1`
	if _, err := s.pool.Exec(ctx, q,
		b.BatchID, b.CursorDate, b.TotalProcessed, b.TotalFailed); err != nil {
		return fmt.Errorf("store: complete batch %s: %w", b.BatchID, err)
	}
	b.Completed = true
	b.IsActive = false
	return nil
}

// ActiveBatches returns all batches that are active and not yet completed,
// oldest first.
func (s *Store) ActiveBatches(ctx context.Context) ([]Batch, error) {
	const q = `
		SELECT batch_id, start_date, end_date, cursor_date,
		       total_processed, total_failed, error_count, last_error,
		       completed, is_active, last_checkpoint, created_at
		FROM   batches
		WHERE  is_active AND NOT completed
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: active batches: %w", err)
	}
	batches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Batch, error) {
		var b Batch
		err := row.Scan(
			&b.BatchID, &b.StartDate, &b.EndDate, &b.CursorDate,
			&b.TotalProcessed, &b.TotalFailed, &b.ErrorCount, &b.LastError,
			&b.Completed, &b.IsActive, &b.LastCheckpoint, &b.CreatedAt,
		)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan active batches: %w", err)
	}
	return batches, nil
}
