package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertTranscript persists the full transcript for a recording. Re-running
// transcription replaces the previous row.
func (s *Store) UpsertTranscript(ctx context.Context, t *Transcript) error {
	segments, err := json.Marshal(t.Segments)
	if err != nil {
		return fmt.Errorf("store: marshal segments: %w", err)
	}
	const q = `
		INSERT INTO transcripts
		    (recording_id, text, language, language_prob, segments,
		     confidence, word_count, participant_name, customer_name, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (recording_id) DO UPDATE SET
		    text             = EXCLUDED.text,
		    language         = EXCLUDED.language,
		    language_prob    = EXCLUDED.language_prob,
		    segments         = EXCLUDED.segments,
		    confidence       = EXCLUDED.confidence,
		    word_count       = EXCLUDED.word_count,
		    participant_name = EXCLUDED.participant_name,
		    customer_name    = EXCLUDED.customer_name,
		    duration_seconds = EXCLUDED.duration_seconds,
		    updated_at       = now()`
	if _, err := s.pool.Exec(ctx, q,
		t.RecordingID, t.Text, t.Language, t.LanguageProb, segments,
		t.Confidence, t.WordCount, t.ParticipantName, t.CustomerName, t.Duration,
	); err != nil {
		return fmt.Errorf("store: upsert transcript %s: %w", t.RecordingID, err)
	}
	return nil
}

// GetTranscript loads the transcript for one recording. Returns
// [ErrNotFound] when absent.
func (s *Store) GetTranscript(ctx context.Context, recordingID string) (*Transcript, error) {
	const q = `
		SELECT recording_id, text, language, language_prob, segments,
		       confidence, word_count, participant_name, customer_name,
		       duration_seconds, created_at, updated_at
		FROM   transcripts
		WHERE  recording_id = $1`

	t := &Transcript{}
	var segments []byte
	err := s.pool.QueryRow(ctx, q, recordingID).Scan(
		&t.RecordingID, &t.Text, &t.Language, &t.LanguageProb, &segments,
		&t.Confidence, &t.WordCount, &t.ParticipantName, &t.CustomerName,
		&t.Duration, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get transcript %s: %w", recordingID, err)
	}
	if err := json.Unmarshal(segments, &t.Segments); err != nil {
		return nil, fmt.Errorf("store: unmarshal segments %s: %w", recordingID, err)
	}
	return t, nil
}

// SetTranscriptNames updates the resolved participant and customer names on
// an existing transcript. Name resolution is advisory; a missing row is not
// an error for the caller to act on.
func (s *Store) SetTranscriptNames(ctx context.Context, recordingID, participant, customer string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE transcripts
		 SET participant_name = $2, customer_name = $3, updated_at = now()
		 WHERE recording_id = $1`,
		recordingID, participant, customer)
	if err != nil {
		return fmt.Errorf("store: set transcript names: %w", err)
	}
	return nil
}

// TranscriptsWithoutEmbedding returns transcripts of at least minChars
// characters that have no embedding row yet.
func (s *Store) TranscriptsWithoutEmbedding(ctx context.Context, minChars, limit int) ([]Transcript, error) {
	const q = `
		SELECT t.recording_id, t.text, t.language, t.language_prob, t.segments,
		       t.confidence, t.word_count, t.participant_name, t.customer_name,
		       t.duration_seconds, t.created_at, t.updated_at
		FROM   transcripts t
		WHERE  length(t.text) >= $1
		  AND  NOT EXISTS (
		           SELECT 1 FROM transcript_embeddings e
		           WHERE e.recording_id = t.recording_id)
		ORDER  BY t.created_at
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, minChars, limit)
	if err != nil {
		return nil, fmt.Errorf("store: transcripts without embedding: %w", err)
	}
	transcripts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transcript, error) {
		var t Transcript
		var segments []byte
		if err := row.Scan(
			&t.RecordingID, &t.Text, &t.Language, &t.LanguageProb, &segments,
			&t.Confidence, &t.WordCount, &t.ParticipantName, &t.CustomerName,
			&t.Duration, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return Transcript{}, err
		}
		if err := json.Unmarshal(segments, &t.Segments); err != nil {
			return Transcript{}, err
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan transcripts: %w", err)
	}
	return transcripts, nil
}
