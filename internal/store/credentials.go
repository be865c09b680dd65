package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertCredential stores or rotates an employee's encrypted notetaker API
// key. Rotation is an overwrite of the encrypted column; plaintext keys
// never reach this layer.
func (s *Store) UpsertCredential(ctx context.Context, c *EmployeeCredential) error {
	const q = `
		INSERT INTO employee_credentials
		    (employee_id, email, encrypted_api_key, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (employee_id) DO UPDATE SET
		    email             = EXCLUDED.email,
		    encrypted_api_key = EXCLUDED.encrypted_api_key,
		    active            = EXCLUDED.active,
		    updated_at        = now()`
	if _, err := s.pool.Exec(ctx, q,
		c.EmployeeID, c.Email, c.EncryptedAPIKey, c.Active); err != nil {
		return fmt.Errorf("store: upsert credential %s: %w", c.EmployeeID, err)
	}
	return nil
}

// ActiveCredentials returns the encrypted credentials of all active
// employees. Decryption is the caller's concern and happens in memory only.
func (s *Store) ActiveCredentials(ctx context.Context) ([]EmployeeCredential, error) {
	const q = `
		SELECT employee_id, email, encrypted_api_key, last_synced_recording_id,
		       active, updated_at
		FROM   employee_credentials
		WHERE  active
		ORDER  BY employee_id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: active credentials: %w", err)
	}
	creds, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (EmployeeCredential, error) {
		var c EmployeeCredential
		err := row.Scan(&c.EmployeeID, &c.Email, &c.EncryptedAPIKey,
			&c.LastSyncedRecordingID, &c.Active, &c.UpdatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan credentials: %w", err)
	}
	return creds, nil
}

// SetLastSyncedRecording advances an employee's sync watermark so the next
// notetaker pass only pulls newer meetings.
func (s *Store) SetLastSyncedRecording(ctx context.Context, employeeID, recordingID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE employee_credentials
		 SET last_synced_recording_id = $2, updated_at = now()
		 WHERE employee_id = $1`,
		employeeID, recordingID)
	if err != nil {
		return fmt.Errorf("store: set last synced for %s: %w", employeeID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
