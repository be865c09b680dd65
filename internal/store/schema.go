package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Recordings — one telephony call with per-stage status
// ─────────────────────────────────────────────────────────────────────────────

const ddlRecordings = `
CREATE TABLE IF NOT EXISTS recordings (
    recording_id          TEXT         PRIMARY KEY,
    call_id               TEXT         NOT NULL DEFAULT '',
    session_id            TEXT         NOT NULL DEFAULT '',
    start_time            TIMESTAMPTZ  NOT NULL,
    duration_seconds      INT          NOT NULL DEFAULT 0,
    direction             TEXT         NOT NULL DEFAULT 'inbound',
    from_number           TEXT         NOT NULL DEFAULT '',
    from_name             TEXT         NOT NULL DEFAULT '',
    from_extension        TEXT         NOT NULL DEFAULT '',
    to_number             TEXT         NOT NULL DEFAULT '',
    to_name               TEXT         NOT NULL DEFAULT '',
    to_extension          TEXT         NOT NULL DEFAULT '',
    recording_type        TEXT         NOT NULL DEFAULT 'automatic',
    media_uri             TEXT         NOT NULL DEFAULT '',
    media_kind            TEXT         NOT NULL DEFAULT 'audio',

    download_status       TEXT         NOT NULL DEFAULT 'pending',
    download_attempts     INT          NOT NULL DEFAULT 0,
    download_completed_at TIMESTAMPTZ,
    download_error        TEXT         NOT NULL DEFAULT '',

    transcription_status       TEXT        NOT NULL DEFAULT 'pending',
    transcription_attempts     INT         NOT NULL DEFAULT 0,
    transcription_completed_at TIMESTAMPTZ,
    transcription_error        TEXT        NOT NULL DEFAULT '',

    upload_status         TEXT         NOT NULL DEFAULT 'pending',
    upload_attempts       INT          NOT NULL DEFAULT 0,
    upload_completed_at   TIMESTAMPTZ,
    upload_error          TEXT         NOT NULL DEFAULT '',

    local_path            TEXT         NOT NULL DEFAULT '',
    archive_file_id       TEXT         NOT NULL DEFAULT '',
    word_count            INT          NOT NULL DEFAULT 0,
    confidence            REAL         NOT NULL DEFAULT 0,
    language              TEXT         NOT NULL DEFAULT '',

    audio_deleted         BOOLEAN      NOT NULL DEFAULT FALSE,
    audio_deleted_at      TIMESTAMPTZ,

    retry_count           INT          NOT NULL DEFAULT 0,
    worker_id             TEXT         NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_updated          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recordings_start_time
    ON recordings (start_time);

CREATE INDEX IF NOT EXISTS idx_recordings_session_id
    ON recordings (session_id);

CREATE INDEX IF NOT EXISTS idx_recordings_stages
    ON recordings (download_status, transcription_status, upload_status);

CREATE INDEX IF NOT EXISTS idx_recordings_call_tuple
    ON recordings (from_number, to_number, duration_seconds, start_time);
`

// ─────────────────────────────────────────────────────────────────────────────
// Meetings — one video meeting with layer-completion flags
// ─────────────────────────────────────────────────────────────────────────────

const ddlMeetings = `
CREATE TABLE IF NOT EXISTS meetings (
    id                  BIGSERIAL    PRIMARY KEY,
    recording_id        TEXT         NOT NULL,
    source              TEXT         NOT NULL,
    content_hash        TEXT         NOT NULL DEFAULT '',
    title               TEXT         NOT NULL DEFAULT '',
    meeting_type        TEXT         NOT NULL DEFAULT 'other',
    platform            TEXT         NOT NULL DEFAULT '',
    host_name           TEXT         NOT NULL DEFAULT '',
    host_email          TEXT         NOT NULL DEFAULT '',
    host_extension_id   TEXT         NOT NULL DEFAULT '',
    host_phone          TEXT         NOT NULL DEFAULT '',
    start_time          TIMESTAMPTZ  NOT NULL,
    end_time            TIMESTAMPTZ,
    duration_seconds    INT          NOT NULL DEFAULT 0,
    participant_count   INT          NOT NULL DEFAULT 0,
    has_recording       BOOLEAN      NOT NULL DEFAULT FALSE,
    participants        JSONB        NOT NULL DEFAULT '[]',
    action_items        JSONB        NOT NULL DEFAULT '[]',
    crm_deals           JSONB        NOT NULL DEFAULT '[]',
    raw_payload         JSONB        NOT NULL DEFAULT '{}',

    transcript_text     TEXT         NOT NULL DEFAULT '',
    transcript_missing  BOOLEAN      NOT NULL DEFAULT FALSE,
    summary_text        TEXT         NOT NULL DEFAULT '',

    layer1_complete     BOOLEAN      NOT NULL DEFAULT FALSE,
    layer2_complete     BOOLEAN      NOT NULL DEFAULT FALSE,
    layer3_complete     BOOLEAN      NOT NULL DEFAULT FALSE,
    layer4_complete     BOOLEAN      NOT NULL DEFAULT FALSE,
    layer5_complete     BOOLEAN      NOT NULL DEFAULT FALSE,
    layer6_complete     BOOLEAN      NOT NULL DEFAULT FALSE,

    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_updated        TIMESTAMPTZ  NOT NULL DEFAULT now(),

    UNIQUE (source, recording_id)
);

CREATE INDEX IF NOT EXISTS idx_meetings_content_hash
    ON meetings (content_hash);

CREATE INDEX IF NOT EXISTS idx_meetings_layers
    ON meetings (layer1_complete, layer2_complete, layer3_complete,
                 layer4_complete, layer5_complete, layer6_complete);
`

// ─────────────────────────────────────────────────────────────────────────────
// Batches + processing state + failed items
// ─────────────────────────────────────────────────────────────────────────────

const ddlPipelineState = `
CREATE TABLE IF NOT EXISTS batches (
    batch_id        TEXT         PRIMARY KEY,
    start_date      DATE         NOT NULL,
    end_date        DATE         NOT NULL,
    cursor_date     DATE         NOT NULL,
    total_processed INT          NOT NULL DEFAULT 0,
    total_failed    INT          NOT NULL DEFAULT 0,
    error_count     INT          NOT NULL DEFAULT 0,
    last_error      TEXT         NOT NULL DEFAULT '',
    completed       BOOLEAN      NOT NULL DEFAULT FALSE,
    is_active       BOOLEAN      NOT NULL DEFAULT TRUE,
    last_checkpoint TIMESTAMPTZ  NOT NULL DEFAULT now(),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS processing_states (
    state_key   TEXT         PRIMARY KEY,
    snapshot    JSONB        NOT NULL DEFAULT '{}',
    is_active   BOOLEAN      NOT NULL DEFAULT TRUE,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS failed_items (
    recording_id     TEXT         PRIMARY KEY,
    failure_reason   TEXT         NOT NULL,
    last_error       TEXT         NOT NULL DEFAULT '',
    attempt_count    INT          NOT NULL DEFAULT 0,
    first_attempted  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_attempted   TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ─────────────────────────────────────────────────────────────────────────────
// Transcripts + insight layers
// ─────────────────────────────────────────────────────────────────────────────

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    recording_id     TEXT         PRIMARY KEY,
    text             TEXT         NOT NULL,
    language         TEXT         NOT NULL DEFAULT '',
    language_prob    REAL         NOT NULL DEFAULT 0,
    segments         JSONB        NOT NULL DEFAULT '[]',
    confidence       REAL         NOT NULL DEFAULT 0,
    word_count       INT          NOT NULL DEFAULT 0,
    participant_name TEXT         NOT NULL DEFAULT '',
    customer_name    TEXT         NOT NULL DEFAULT '',
    duration_seconds REAL         NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('english', text));
`

// insightLayerDDL builds the per-layer insight table. Each layer persists a
// handful of typed, queryable columns plus a JSONB blob with the full
// structured output.
func insightLayerDDL(layer int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS insights_layer%[1]d (
    meeting_id  BIGINT       PRIMARY KEY REFERENCES meetings (id) ON DELETE CASCADE,
    score       REAL         NOT NULL DEFAULT 0,
    label       TEXT         NOT NULL DEFAULT '',
    summary     TEXT         NOT NULL DEFAULT '',
    details     JSONB        NOT NULL DEFAULT '{}',
    model       TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`, layer)
}

// ─────────────────────────────────────────────────────────────────────────────
// Embeddings + employee credentials
// ─────────────────────────────────────────────────────────────────────────────

// ddlEmbeddings returns the embeddings DDL with the vector dimension
// substituted. The dimension is baked into the column type at schema
// creation time.
func ddlEmbeddings(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcript_embeddings (
    recording_id   TEXT         PRIMARY KEY,
    embedding      vector(%d),
    source_text    TEXT         NOT NULL DEFAULT '',
    customer       TEXT         NOT NULL DEFAULT '',
    employee       TEXT         NOT NULL DEFAULT '',
    call_date      DATE,
    duration       INT          NOT NULL DEFAULT 0,
    word_count     INT          NOT NULL DEFAULT 0,
    sentiment      TEXT         NOT NULL DEFAULT '',
    quality_score  REAL         NOT NULL DEFAULT 0,
    call_type      TEXT         NOT NULL DEFAULT '',
    issue          TEXT         NOT NULL DEFAULT '',
    summary        TEXT         NOT NULL DEFAULT '',
    topics         JSONB        NOT NULL DEFAULT '[]',
    model          TEXT         NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_embeddings_vec
    ON transcript_embeddings USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_transcript_embeddings_facets
    ON transcript_embeddings (sentiment, call_date);
`, embeddingDimensions)
}

const ddlCredentials = `
CREATE TABLE IF NOT EXISTS employee_credentials (
    employee_id              TEXT         PRIMARY KEY,
    email                    TEXT         NOT NULL DEFAULT '',
    encrypted_api_key        BYTEA        NOT NULL,
    last_synced_recording_id TEXT         NOT NULL DEFAULT '',
    active                   BOOLEAN      NOT NULL DEFAULT TRUE,
    updated_at               TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlAudit = `
CREATE TABLE IF NOT EXISTS audit_log (
    id            UUID         PRIMARY KEY,
    recording_id  TEXT         NOT NULL,
    action        TEXT         NOT NULL,
    outcome       TEXT         NOT NULL,
    detail        TEXT         NOT NULL DEFAULT '',
    prev_hash     TEXT         NOT NULL DEFAULT '',
    entry_hash    TEXT         NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_recording
    ON audit_log (recording_id, created_at);
`

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlRecordings,
		ddlMeetings,
		ddlPipelineState,
		ddlTranscripts,
		ddlEmbeddings(embeddingDimensions),
		ddlCredentials,
		ddlAudit,
	}
	for layer := 1; layer <= 6; layer++ {
		statements = append(statements, insightLayerDDL(layer))
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
	}
	return nil
}
