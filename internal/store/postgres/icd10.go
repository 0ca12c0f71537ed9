package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// ICD10Match is one diagnosis code returned by semantic search. Score is
// cosine similarity in [0, 1], higher is closer.
type ICD10Match struct {
	Code  string  `json:"code"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// UpsertICD10 inserts or replaces one pre-embedded diagnosis code.
func (s *Store) UpsertICD10(ctx context.Context, code, title string, embedding []float32) error {
	const q = `
		INSERT INTO icd10_codes (code, title, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET
		    title     = EXCLUDED.title,
		    embedding = EXCLUDED.embedding`

	if _, err := s.pool.Exec(ctx, q, code, title, pgvector.NewVector(embedding)); err != nil {
		return fmt.Errorf("postgres store: upsert icd10 %q: %w", code, err)
	}
	return nil
}

// SearchICD10 returns the topK codes closest to the query embedding by
// cosine distance, most similar first.
func (s *Store) SearchICD10(ctx context.Context, embedding []float32, topK int) ([]ICD10Match, error) {
	const q = `
		SELECT code, title, 1 - (embedding <=> $1) AS score
		FROM   icd10_codes
		ORDER  BY embedding <=> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search icd10: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ICD10Match, error) {
		var m ICD10Match
		err := row.Scan(&m.Code, &m.Title, &m.Score)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: search icd10: scan: %w", err)
	}
	return matches, nil
}

// CountICD10 reports how many codes are indexed. Used to decide whether a
// sync from the code catalogue is needed at startup.
func (s *Store) CountICD10(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM icd10_codes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count icd10: %w", err)
	}
	return n, nil
}
