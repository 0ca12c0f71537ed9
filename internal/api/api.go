// Package api exposes the HTTP surface of the Vocalis server: session
// control, template listing, record access, diagnosis code lookup, and the
// operational endpoints (/metrics, /healthz, /readyz).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocalis-health/vocalis/internal/health"
	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/internal/observe"
	"github.com/vocalis-health/vocalis/internal/store/postgres"
	"github.com/vocalis-health/vocalis/internal/template"
)

// SessionService drives interview session lifecycles, implemented by the
// app-level session manager.
type SessionService interface {
	// StartSession creates and starts an interview for the given record.
	StartSession(ctx context.Context, recordID, templateID string) (interview.Snapshot, error)

	// Session returns the live snapshot of a running or finished session.
	Session(id string) (interview.Snapshot, error)

	// Pause suspends a running session.
	Pause(ctx context.Context, id string) error

	// Resume continues a paused session.
	Resume(ctx context.Context, id string) error

	// Complete ends a session and flushes its state.
	Complete(ctx context.Context, id string) error
}

// ErrSessionNotFound is returned by [SessionService] implementations for
// unknown session IDs.
var ErrSessionNotFound = errors.New("api: session not found")

// RecordService reads and creates interview records, implemented by the
// postgres store.
type RecordService interface {
	CreateRecord(ctx context.Context, templateID, title string) (*postgres.Record, error)
	GetRecord(ctx context.Context, id string) (*postgres.Record, error)
	GetSession(ctx context.Context, id string) (*postgres.Session, error)
	GetTranscript(ctx context.Context, sessionID string) ([]interview.TranscriptEntry, error)
}

// LookupService searches the diagnosis code index.
type LookupService interface {
	Search(ctx context.Context, query string, topK int) ([]postgres.ICD10Match, error)
}

// Server holds the dependencies behind the HTTP routes.
type Server struct {
	sessions  SessionService
	records   RecordService
	templates *template.Registry
	lookup    LookupService
	health    *health.Handler
	metrics   *observe.Metrics
	log       *slog.Logger
}

// NewServer wires the HTTP surface. lookup may be nil when no code catalogue
// is configured; the endpoint then returns 503.
func NewServer(sessions SessionService, records RecordService, templates *template.Registry, lookup LookupService, h *health.Handler, m *observe.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		sessions:  sessions,
		records:   records,
		templates: templates,
		lookup:    lookup,
		health:    h,
		metrics:   m,
		log:       log,
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	r.Route("/api", func(api chi.Router) {
		api.Post("/records", s.handleCreateRecord)
		api.Get("/records/{id}", s.handleGetRecord)

		api.Post("/sessions", s.handleStartSession)
		api.Get("/sessions/{id}", s.handleGetSession)
		api.Get("/sessions/{id}/transcript", s.handleGetTranscript)
		api.Post("/sessions/{id}/pause", s.handlePause)
		api.Post("/sessions/{id}/resume", s.handleResume)
		api.Post("/sessions/{id}/complete", s.handleComplete)

		api.Get("/templates", s.handleListTemplates)
		api.Get("/templates/{id}", s.handleGetTemplate)

		api.Get("/icd10", s.handleICD10Search)
	})

	r.Handle("/metrics", promhttp.Handler())
	s.health.Register(r)

	return r
}

// respondJSON encodes v with the given status code.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "err", err)
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// respondError maps err to an HTTP status and writes the error body.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, postgres.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, interview.ErrTerminal),
		errors.Is(err, interview.ErrNotPaused),
		errors.Is(err, interview.ErrAlreadyStarted):
		status = http.StatusConflict
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
	}
	s.respondJSON(w, status, errorBody{Error: err.Error()})
}

// errBadRequest marks client-side input errors for status mapping.
var errBadRequest = errors.New("bad request")

func badRequestf(format string, args ...any) error {
	args = append(args, errBadRequest)
	return fmt.Errorf(format+": %w", args...)
}
