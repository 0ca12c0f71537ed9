package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/internal/persist"
)

// CreateSession inserts a fresh active session for recordID.
func (s *Store) CreateSession(ctx context.Context, recordID string) (*Session, error) {
	const q = `
		INSERT INTO interview_sessions (id, record_id)
		VALUES ($1, $2)
		RETURNING id, record_id, status, current_section, summary, created_at, updated_at`

	sess, err := scanSession(s.pool.QueryRow(ctx, q, uuid.NewString(), recordID))
	if err != nil {
		return nil, fmt.Errorf("postgres store: create session: %w", err)
	}
	return sess, nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	const q = `
		SELECT id, record_id, status, current_section, summary, created_at, updated_at
		FROM   interview_sessions
		WHERE  id = $1`

	sess, err := scanSession(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get session: %w", err)
	}
	return sess, nil
}

// MergeAnswers implements [persist.Store]. It merges the answer set into the
// session's record at field level inside one transaction: concurrent merges
// against the same record serialize on the row lock, and fields absent from
// answers are never clobbered.
func (s *Store) MergeAnswers(ctx context.Context, sessionID string, answers interview.AnswerSet) error {
	if len(answers) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: merge answers: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const sel = `
		SELECT r.id, r.data
		FROM   interview_records r
		JOIN   interview_sessions s ON s.record_id = r.id
		WHERE  s.id = $1
		FOR UPDATE OF r`

	var (
		recordID string
		data     map[string]map[string]any
	)
	err = tx.QueryRow(ctx, sel, sessionID).Scan(&recordID, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres store: merge answers: select: %w", err)
	}
	if data == nil {
		data = make(map[string]map[string]any)
	}

	for sectionID, fields := range answers {
		if data[sectionID] == nil {
			data[sectionID] = make(map[string]any)
		}
		for fieldID, value := range fields {
			data[sectionID][fieldID] = value
		}
	}

	const upd = `
		UPDATE interview_records
		SET    data = $2, updated_at = now()
		WHERE  id = $1`
	if _, err := tx.Exec(ctx, upd, recordID, data); err != nil {
		return fmt.Errorf("postgres store: merge answers: update: %w", err)
	}
	return tx.Commit(ctx)
}

// UpdateSession implements [persist.Store]. Nil fields in update are left
// untouched.
func (s *Store) UpdateSession(ctx context.Context, sessionID string, update persist.SessionUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{sessionID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.Status != nil {
		sets = append(sets, "status = "+next(*update.Status))
	}
	if update.CurrentSection != nil {
		sets = append(sets, "current_section = "+next(*update.CurrentSection))
	}

	q := "UPDATE interview_sessions SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("postgres store: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return nil
}

// SetSummary stores the post-completion report summary on a session.
func (s *Store) SetSummary(ctx context.Context, sessionID, summary string) error {
	const q = `
		UPDATE interview_sessions
		SET    summary = $2, updated_at = now()
		WHERE  id = $1`
	tag, err := s.pool.Exec(ctx, q, sessionID, summary)
	if err != nil {
		return fmt.Errorf("postgres store: set summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return nil
}

// AppendTranscript implements [persist.Store]. Entries are written in order
// in one batch round trip.
func (s *Store) AppendTranscript(ctx context.Context, sessionID string, entries []interview.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const q = `
		INSERT INTO session_transcripts (session_id, speaker, text, section, spoken_at)
		VALUES ($1, $2, $3, $4, $5)`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(q, sessionID, e.Speaker, e.Text, e.Section, e.Timestamp)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: append transcript: %w", err)
	}
	return nil
}

// GetTranscript returns all entries for sessionID in append order.
func (s *Store) GetTranscript(ctx context.Context, sessionID string) ([]interview.TranscriptEntry, error) {
	const q = `
		SELECT speaker, text, section, spoken_at
		FROM   session_transcripts
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get transcript: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (interview.TranscriptEntry, error) {
		var e interview.TranscriptEntry
		err := row.Scan(&e.Speaker, &e.Text, &e.Section, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: get transcript: scan: %w", err)
	}
	return entries, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID,
		&sess.RecordID,
		&sess.Status,
		&sess.CurrentSection,
		&sess.Summary,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
