package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertInsight persists one cascade layer's output for a meeting. The row
// is keyed by meeting id, so re-running a layer replaces its previous
// output instead of accumulating duplicates.
func (s *Store) UpsertInsight(ctx context.Context, row *InsightRow) error {
	if row.Layer < 1 || row.Layer > 6 {
		return fmt.Errorf("store: upsert insight: layer %d out of range", row.Layer)
	}
	details := row.Details
	if len(details) == 0 {
		details = []byte("{}")
	}
	q := fmt.Sprintf(`
		INSERT INTO insights_layer%d
		    (meeting_id, score, label, summary, details, model)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (meeting_id) DO UPDATE SET
		    score      = EXCLUDED.score,
		    label      = EXCLUDED.label,
		    summary    = EXCLUDED.summary,
		    details    = EXCLUDED.details,
		    model      = EXCLUDED.model,
		    updated_at = now()`, row.Layer)

	if _, err := s.pool.Exec(ctx, q,
		row.MeetingID, row.Score, row.Label, row.Summary, details, row.Model,
	); err != nil {
		return fmt.Errorf("store: upsert layer %d insight for %d: %w", row.Layer, row.MeetingID, err)
	}
	return nil
}

// GetInsight loads one layer's output for a meeting. Returns [ErrNotFound]
// when the layer has not produced a row.
func (s *Store) GetInsight(ctx context.Context, meetingID int64, layer int) (*InsightRow, error) {
	if layer < 1 || layer > 6 {
		return nil, fmt.Errorf("store: get insight: layer %d out of range", layer)
	}
	q := fmt.Sprintf(`
		SELECT meeting_id, score, label, summary, details, model, created_at, updated_at
		FROM   insights_layer%d
		WHERE  meeting_id = $1`, layer)

	row := &InsightRow{Layer: layer}
	err := s.pool.QueryRow(ctx, q, meetingID).Scan(
		&row.MeetingID, &row.Score, &row.Label, &row.Summary,
		&row.Details, &row.Model, &row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get layer %d insight for %d: %w", layer, meetingID, err)
	}
	return row, nil
}

// InsightCount returns how many meetings have a row in the given layer's
// table. Used by metrics collection.
func (s *Store) InsightCount(ctx context.Context, layer int) (int, error) {
	if layer < 1 || layer > 6 {
		return 0, fmt.Errorf("store: insight count: layer %d out of range", layer)
	}
	var n int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM insights_layer%d`, layer),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: insight count layer %d: %w", layer, err)
	}
	return n, nil
}
