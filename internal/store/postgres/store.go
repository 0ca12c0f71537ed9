package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/vocalis-health/vocalis/internal/persist"
)

// ErrNotFound is returned when a record or session does not exist.
var ErrNotFound = errors.New("postgres store: not found")

// Compile-time check: Store backs the persistence gateway.
var _ persist.Store = (*Store)(nil)

// Record is one interview record: the document the answer set accumulates
// into. Data is keyed by section id then field id.
type Record struct {
	ID         string                    `json:"id"`
	TemplateID string                    `json:"templateId"`
	Title      string                    `json:"title"`
	Data       map[string]map[string]any `json:"data"`
	CreatedAt  time.Time                 `json:"createdAt"`
	UpdatedAt  time.Time                 `json:"updatedAt"`
}

// Session is the stored lifecycle state of one interview session.
type Session struct {
	ID             string    `json:"id"`
	RecordID       string    `json:"recordId"`
	Status         string    `json:"status"`
	CurrentSection string    `json:"currentSection,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store is the PostgreSQL record store. All methods are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, registers pgvector types on
// every connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool wraps an existing pool without migrating. Used by tests.
func NewStoreWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateRecord inserts a fresh record for templateID.
func (s *Store) CreateRecord(ctx context.Context, templateID, title string) (*Record, error) {
	const q = `
		INSERT INTO interview_records (id, template_id, title)
		VALUES ($1, $2, $3)
		RETURNING id, template_id, title, data, created_at, updated_at`

	row := s.pool.QueryRow(ctx, q, uuid.NewString(), templateID, title)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create record: %w", err)
	}
	return rec, nil
}

// GetRecord fetches one record by id.
func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	const q = `
		SELECT id, template_id, title, data, created_at, updated_at
		FROM   interview_records
		WHERE  id = $1`

	rec, err := scanRecord(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get record: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	if err := row.Scan(&rec.ID, &rec.TemplateID, &rec.Title, &rec.Data, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if rec.Data == nil {
		rec.Data = make(map[string]map[string]any)
	}
	return &rec, nil
}
