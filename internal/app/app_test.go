package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vocalis-health/vocalis/internal/config"
	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/internal/persist"
	"github.com/vocalis-health/vocalis/internal/store/postgres"
	"github.com/vocalis-health/vocalis/internal/template"
)

// fullStore is an in-memory RecordStore for wiring tests.
type fullStore struct {
	mu       sync.Mutex
	records  map[string]*postgres.Record
	sessions map[string]*postgres.Session
	nextID   int
}

func newFullStore() *fullStore {
	return &fullStore{
		records:  make(map[string]*postgres.Record),
		sessions: make(map[string]*postgres.Session),
	}
}

func (s *fullStore) CreateRecord(_ context.Context, templateID, title string) (*postgres.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec := &postgres.Record{ID: fmt.Sprintf("rec-%d", s.nextID), TemplateID: templateID, Title: title}
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *fullStore) GetRecord(_ context.Context, id string) (*postgres.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return rec, nil
}

func (s *fullStore) GetSession(_ context.Context, id string) (*postgres.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return sess, nil
}

func (s *fullStore) GetTranscript(context.Context, string) ([]interview.TranscriptEntry, error) {
	return nil, nil
}

func (s *fullStore) CreateSession(_ context.Context, recordID string) (*postgres.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sess := &postgres.Session{ID: fmt.Sprintf("sess-%d", s.nextID), RecordID: recordID, Status: "active"}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *fullStore) MergeAnswers(context.Context, string, interview.AnswerSet) error { return nil }

func (s *fullStore) UpdateSession(context.Context, string, persist.SessionUpdate) error { return nil }

func (s *fullStore) AppendTranscript(context.Context, string, []interview.TranscriptEntry) error {
	return nil
}

func (s *fullStore) SetSummary(context.Context, string, string) error { return nil }

func (s *fullStore) UpsertICD10(context.Context, string, string, []float32) error { return nil }

func (s *fullStore) SearchICD10(context.Context, []float32, int) ([]postgres.ICD10Match, error) {
	return nil, nil
}

func (s *fullStore) CountICD10(context.Context) (int, error) { return 0, nil }

func (s *fullStore) Ping(context.Context) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Audio: config.AudioConfig{
			FrameDuration: config.Duration(100 * time.Millisecond),
		},
		Persist: config.PersistConfig{
			Debounce: config.Duration(50 * time.Millisecond),
		},
		Reconnect: config.ReconnectConfig{
			MaxAttempts: 3,
			Delays:      []config.Duration{config.Duration(time.Millisecond)},
		},
	}
}

func newTestApp(t *testing.T) (*App, *fullStore) {
	t.Helper()
	store := newFullStore()
	reg := template.NewRegistry(map[string]*template.Schema{"general-intake": managerSchema()})

	a, err := New(context.Background(), testConfig(),
		WithRecordStore(store),
		WithTemplates(reg),
		WithDialFunc(stubDial),
		WithReporter(&stubReporter{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Controllers built by the app open real audio devices; swap in stubs.
	a.manager.cfg.NewCapture = stubCaptureFactory
	a.manager.cfg.NewPlayback = stubPlaybackFactory
	return a, store
}

func TestApp_EndToEnd(t *testing.T) {
	a, _ := newTestApp(t)
	srv := httptest.NewServer(a.server.Handler)
	defer srv.Close()

	// Liveness and readiness against the injected store.
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}

	// Start a session from a fresh record in one call.
	body := bytes.NewBufferString(`{"templateId": "general-intake"}`)
	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", body)
	if err != nil {
		t.Fatalf("POST /api/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/sessions = %d, want 201", resp.StatusCode)
	}
	var sess struct {
		ID    string `json:"id"`
		Phase string `json:"phase"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("empty session id")
	}

	// Complete it over the API.
	resp2, err := http.Post(srv.URL+"/api/sessions/"+sess.ID+"/complete", "application/json", nil)
	if err != nil {
		t.Fatalf("POST complete: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("POST complete = %d, want 200", resp2.StatusCode)
	}

	waitFor(t, "completed", func() bool {
		s, err := a.manager.Session(sess.ID)
		return err == nil && s.Phase == interview.PhaseCompleted
	})

	sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestApp_LookupUnconfigured(t *testing.T) {
	a, _ := newTestApp(t)
	srv := httptest.NewServer(a.server.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/icd10?q=headache")
	if err != nil {
		t.Fatalf("GET icd10: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("GET icd10 = %d, want 503", resp.StatusCode)
	}
}

func TestApp_ShutdownIdempotent(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestApp_MissingTemplateDir(t *testing.T) {
	cfg := testConfig()
	cfg.Templates.Dir = "does/not/exist"
	_, err := New(context.Background(), cfg, WithRecordStore(newFullStore()), WithDialFunc(stubDial))
	if err == nil {
		t.Fatal("expected error for missing template dir")
	}
}
