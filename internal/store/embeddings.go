package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// EmbeddingRow is the persisted representative vector for one transcript,
// together with the filterable facet snapshot used by semantic search.
type EmbeddingRow struct {
	RecordingID  string
	Embedding    []float32
	SourceText   string
	Customer     string
	Employee     string
	CallDate     time.Time
	Duration     int
	WordCount    int
	Sentiment    string
	QualityScore float32
	CallType     string
	Issue        string
	Summary      string
	Topics       []string
	Model        string
}

// SearchFilter restricts semantic search to rows matching the given facet
// predicates. Zero values mean "no restriction".
type SearchFilter struct {
	Employee   string    // ILIKE substring match
	Customer   string    // ILIKE substring match
	Sentiment  string    // exact match
	DateFrom   time.Time // call_date >=
	DateTo     time.Time // call_date <=
	MinQuality float32   // quality_score >=
}

// SearchResult is one semantic-search hit. Similarity is 1 − cosine
// distance, so higher is closer.
type SearchResult struct {
	EmbeddingRow
	Similarity float32
}

// UpsertEmbedding stores the representative vector and facets for a
// recording. A recording has at most one embedding row; re-ingesting
// replaces it, so the operation is idempotent.
func (s *Store) UpsertEmbedding(ctx context.Context, row *EmbeddingRow) error {
	topics, err := json.Marshal(row.Topics)
	if err != nil {
		return fmt.Errorf("store: marshal topics: %w", err)
	}
	const q = `
		INSERT INTO transcript_embeddings
		    (recording_id, embedding, source_text, customer, employee, call_date,
		     duration, word_count, sentiment, quality_score, call_type, issue,
		     summary, topics, model)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (recording_id) DO UPDATE SET
		    embedding     = EXCLUDED.embedding,
		    source_text   = EXCLUDED.source_text,
		    customer      = EXCLUDED.customer,
		    employee      = EXCLUDED.employee,
		    call_date     = EXCLUDED.call_date,
		    duration      = EXCLUDED.duration,
		    word_count    = EXCLUDED.word_count,
		    sentiment     = EXCLUDED.sentiment,
		    quality_score = EXCLUDED.quality_score,
		    call_type     = EXCLUDED.call_type,
		    issue         = EXCLUDED.issue,
		    summary       = EXCLUDED.summary,
		    topics        = EXCLUDED.topics,
		    model         = EXCLUDED.model,
		    updated_at    = now()`

	vec := pgvector.NewVector(row.Embedding)
	if _, err := s.pool.Exec(ctx, q,
		row.RecordingID, vec, row.SourceText, row.Customer, row.Employee,
		row.CallDate, row.Duration, row.WordCount, row.Sentiment,
		row.QualityScore, row.CallType, row.Issue, row.Summary, topics, row.Model,
	); err != nil {
		return fmt.Errorf("store: upsert embedding %s: %w", row.RecordingID, err)
	}
	return nil
}

// EmbeddingExists reports whether a recording already has an embedding row.
func (s *Store) EmbeddingExists(ctx context.Context, recordingID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transcript_embeddings WHERE recording_id = $1)`,
		recordingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: embedding exists: %w", err)
	}
	return exists, nil
}

// SemanticSearch finds the limit embedding rows closest (cosine distance)
// to the supplied query vector, optionally restricted by filter. The query
// vector is bound once as $1 and referenced by both the projected distance
// and the ORDER BY, so both uses see the same value deterministically.
//
// Results are ordered by ascending cosine distance (most similar first).
func (s *Store) SemanticSearch(ctx context.Context, embedding []float32, filter SearchFilter, limit int) ([]SearchResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.Employee != "" {
		conditions = append(conditions, "employee ILIKE "+next("%"+filter.Employee+"%"))
	}
	if filter.Customer != "" {
		conditions = append(conditions, "customer ILIKE "+next("%"+filter.Customer+"%"))
	}
	if filter.Sentiment != "" {
		conditions = append(conditions, "sentiment = "+next(filter.Sentiment))
	}
	if !filter.DateFrom.IsZero() {
		conditions = append(conditions, "call_date >= "+next(filter.DateFrom))
	}
	if !filter.DateTo.IsZero() {
		conditions = append(conditions, "call_date <= "+next(filter.DateTo))
	}
	if filter.MinQuality > 0 {
		conditions = append(conditions, "quality_score >= "+next(filter.MinQuality))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT recording_id, embedding, source_text, customer, employee,
		       call_date, duration, word_count, sentiment, quality_score,
		       call_type, issue, summary, topics, model,
		       embedding <=> $1 AS distance
		FROM   transcript_embeddings
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: semantic search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchResult, error) {
		var (
			sr       SearchResult
			vec      pgvector.Vector
			topics   []byte
			distance float32
		)
		if err := row.Scan(
			&sr.RecordingID, &vec, &sr.SourceText, &sr.Customer, &sr.Employee,
			&sr.CallDate, &sr.Duration, &sr.WordCount, &sr.Sentiment,
			&sr.QualityScore, &sr.CallType, &sr.Issue, &sr.Summary,
			&topics, &sr.Model, &distance,
		); err != nil {
			return SearchResult{}, err
		}
		sr.Embedding = vec.Slice()
		sr.Similarity = 1 - distance
		if err := json.Unmarshal(topics, &sr.Topics); err != nil {
			return SearchResult{}, err
		}
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan search rows: %w", err)
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}
