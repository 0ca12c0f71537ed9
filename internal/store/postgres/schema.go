// Package postgres is the PostgreSQL-backed record store: interview records
// with their evolving answer data, sessions with status and transcript, and
// the ICD-10 code index used for diagnosis lookup.
//
// All operations share a single [pgxpool.Pool]. The pgvector extension must
// be available in the target database; [Migrate] installs it via CREATE
// EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlRecords = `
CREATE TABLE IF NOT EXISTS interview_records (
    id           TEXT         PRIMARY KEY,
    template_id  TEXT         NOT NULL,
    title        TEXT         NOT NULL DEFAULT '',
    data         JSONB        NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_records_template_id
    ON interview_records (template_id);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS interview_sessions (
    id               TEXT         PRIMARY KEY,
    record_id        TEXT         NOT NULL REFERENCES interview_records (id) ON DELETE CASCADE,
    status           TEXT         NOT NULL DEFAULT 'active',
    current_section  TEXT         NOT NULL DEFAULT '',
    summary          TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_record_id
    ON interview_sessions (record_id);
`

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS session_transcripts (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    speaker     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    section     TEXT         NOT NULL DEFAULT '',
    spoken_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session_id
    ON session_transcripts (session_id, id);
`

// ddlICD10 returns the ICD-10 index DDL with the embedding dimension
// substituted. The dimension is baked into the column type at schema
// creation time.
func ddlICD10(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS icd10_codes (
    code       TEXT  PRIMARY KEY,
    title      TEXT  NOT NULL,
    embedding  vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_icd10_embedding
    ON icd10_codes USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions. Idempotent
// and safe to run on every application start.
//
// embeddingDimensions must match the embedding model configured for ICD-10
// lookup (e.g. 1536 for OpenAI text-embedding-3-small). Changing it after
// the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlRecords,
		ddlSessions,
		ddlTranscripts,
		ddlICD10(embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
