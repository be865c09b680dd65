package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SaveState upserts a processing-state snapshot under key. The snapshot is
// marshalled to JSON; one row per key, so at most one active state per key
// holds by construction.
func (s *Store) SaveState(ctx context.Context, key string, snapshot any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("store: marshal state %q: %w", key, err)
	}
	const q = `
		INSERT INTO processing_states (state_key, snapshot, is_active, updated_at)
		VALUES ($1, $2, TRUE, now())
		ON CONFLICT (state_key) DO UPDATE SET
		    snapshot   = EXCLUDED.snapshot,
		    is_active  = TRUE,
		    updated_at = now()`
	if _, err := s.pool.Exec(ctx, q, key, data); err != nil {
		return fmt.Errorf("store: save state %q: %w", key, err)
	}
	return nil
}

// LoadState unmarshals the snapshot stored under key into out. Returns
// [ErrNotFound] when no state exists for the key.
func (s *Store) LoadState(ctx context.Context, key string, out any) error {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM processing_states WHERE state_key = $1`, key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: load state %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("store: unmarshal state %q: %w", key, err)
	}
	return nil
}

// DeactivateState marks a state row inactive without deleting it, so a
// later [CleanupOldStates] can reap it.
func (s *Store) DeactivateState(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE processing_states SET is_active = FALSE, updated_at = now() WHERE state_key = $1`,
		key); err != nil {
		return fmt.Errorf("store: deactivate state %q: %w", key, err)
	}
	return nil
}

// CleanupOldStates deletes inactive state rows older than the given number
// of days. Returns the number of rows removed.
func (s *Store) CleanupOldStates(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM processing_states WHERE NOT is_active AND updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup old states: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
