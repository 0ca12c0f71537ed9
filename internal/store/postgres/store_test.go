package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	pgxpkg "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/internal/persist"
	"github.com/vocalis-health/vocalis/internal/store/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if VOCALIS_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOCALIS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOCALIS_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] against a clean schema and
// closes it when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxpkg.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, table := range []string{"session_transcripts", "interview_sessions", "interview_records", "icd10_codes"} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func createRecordAndSession(t *testing.T, store *postgres.Store) (*postgres.Record, *postgres.Session) {
	t.Helper()
	ctx := context.Background()
	rec, err := store.CreateRecord(ctx, "intake", "First visit")
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	sess, err := store.CreateSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return rec, sess
}

func TestStore_RecordLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, sess := createRecordAndSession(t, store)
	if rec.TemplateID != "intake" || len(rec.Data) != 0 {
		t.Errorf("record = %+v", rec)
	}
	if sess.Status != "active" || sess.RecordID != rec.ID {
		t.Errorf("session = %+v", sess)
	}

	got, err := store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("GetRecord id = %q", got.ID)
	}

	if _, err := store.GetRecord(ctx, "missing"); !errors.Is(err, postgres.ErrNotFound) {
		t.Errorf("GetRecord(missing) = %v", err)
	}
	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, postgres.ErrNotFound) {
		t.Errorf("GetSession(missing) = %v", err)
	}
}

func TestStore_MergeAnswers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec, sess := createRecordAndSession(t, store)

	err := store.MergeAnswers(ctx, sess.ID, interview.AnswerSet{
		"complaints": {"text": "headache"},
	})
	if err != nil {
		t.Fatalf("MergeAnswers: %v", err)
	}
	// A second merge into the same section must not clobber the first field.
	err = store.MergeAnswers(ctx, sess.ID, interview.AnswerSet{
		"complaints": {"onset": "2026-08-01"},
		"diagnosis":  {"icd": "R51"},
	})
	if err != nil {
		t.Fatalf("second MergeAnswers: %v", err)
	}

	got, err := store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Data["complaints"]["text"] != "headache" || got.Data["complaints"]["onset"] != "2026-08-01" {
		t.Errorf("complaints = %v", got.Data["complaints"])
	}
	if got.Data["diagnosis"]["icd"] != "R51" {
		t.Errorf("diagnosis = %v", got.Data["diagnosis"])
	}

	if err := store.MergeAnswers(ctx, "missing", interview.AnswerSet{"x": {"y": 1}}); !errors.Is(err, postgres.ErrNotFound) {
		t.Errorf("MergeAnswers(missing) = %v", err)
	}
}

func TestStore_UpdateSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, sess := createRecordAndSession(t, store)

	status := "paused"
	section := "complaints"
	err := store.UpdateSession(ctx, sess.ID, persist.SessionUpdate{
		Status:         &status,
		CurrentSection: &section,
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != "paused" || got.CurrentSection != "complaints" {
		t.Errorf("session = %+v", got)
	}

	// Partial update leaves other columns alone.
	completed := "completed"
	if err := store.UpdateSession(ctx, sess.ID, persist.SessionUpdate{Status: &completed}); err != nil {
		t.Fatalf("partial UpdateSession: %v", err)
	}
	got, _ = store.GetSession(ctx, sess.ID)
	if got.Status != "completed" || got.CurrentSection != "complaints" {
		t.Errorf("partial update clobbered: %+v", got)
	}

	if err := store.SetSummary(ctx, sess.ID, "short report"); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	got, _ = store.GetSession(ctx, sess.ID)
	if got.Summary != "short report" {
		t.Errorf("summary = %q", got.Summary)
	}
}

func TestStore_Transcript(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, sess := createRecordAndSession(t, store)

	now := time.Now().UTC().Truncate(time.Millisecond)
	entries := []interview.TranscriptEntry{
		{Speaker: "agent", Text: "What brings you in?", Timestamp: now},
		{Speaker: "user", Text: "A headache.", Section: "complaints", Timestamp: now.Add(time.Second)},
	}
	if err := store.AppendTranscript(ctx, sess.ID, entries); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	if err := store.AppendTranscript(ctx, sess.ID, []interview.TranscriptEntry{
		{Speaker: "agent", Text: "Since when?", Timestamp: now.Add(2 * time.Second)},
	}); err != nil {
		t.Fatalf("second AppendTranscript: %v", err)
	}

	got, err := store.GetTranscript(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	for i, want := range []string{"What brings you in?", "A headache.", "Since when?"} {
		if got[i].Text != want {
			t.Errorf("entry %d = %q, want %q", i, got[i].Text, want)
		}
	}
	if got[1].Section != "complaints" {
		t.Errorf("section = %q", got[1].Section)
	}
}

func TestStore_ICD10(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	codes := []struct {
		code  string
		title string
		vec   []float32
	}{
		{"R51", "Headache", []float32{1, 0, 0, 0}},
		{"G43", "Migraine", []float32{0.9, 0.1, 0, 0}},
		{"J00", "Acute nasopharyngitis", []float32{0, 0, 1, 0}},
	}
	for _, c := range codes {
		if err := store.UpsertICD10(ctx, c.code, c.title, c.vec); err != nil {
			t.Fatalf("UpsertICD10(%s): %v", c.code, err)
		}
	}

	n, err := store.CountICD10(ctx)
	if err != nil || n != 3 {
		t.Fatalf("CountICD10 = %d, %v", n, err)
	}

	matches, err := store.SearchICD10(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchICD10: %v", err)
	}
	if len(matches) != 2 || matches[0].Code != "R51" || matches[1].Code != "G43" {
		t.Errorf("matches = %+v", matches)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("results not ordered by similarity")
	}

	// Upsert replaces.
	if err := store.UpsertICD10(ctx, "R51", "Headache, unspecified", []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if n, _ := store.CountICD10(ctx); n != 3 {
		t.Errorf("count after re-upsert = %d", n)
	}
}
