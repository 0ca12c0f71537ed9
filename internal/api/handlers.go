package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vocalis-health/vocalis/internal/interview"
)

// sessionBody is the JSON view of a live session snapshot.
type sessionBody struct {
	ID             string              `json:"id"`
	Phase          interview.Phase     `json:"phase"`
	Answers        interview.AnswerSet `json:"answers"`
	Progress       interview.Progress  `json:"progress"`
	CurrentSection string              `json:"currentSection,omitempty"`
	Error          string              `json:"error,omitempty"`
}

func toSessionBody(snap interview.Snapshot) sessionBody {
	body := sessionBody{
		ID:             snap.SessionID,
		Phase:          snap.Phase,
		Answers:        snap.Answers,
		Progress:       snap.Progress,
		CurrentSection: snap.CurrentSection,
	}
	if snap.Err != nil {
		body.Error = snap.Err.Error()
	}
	return body
}

type createRecordRequest struct {
	TemplateID string `json:"templateId"`
	Title      string `json:"title"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, badRequestf("decode body"))
		return
	}
	if req.TemplateID == "" {
		s.respondError(w, badRequestf("templateId is required"))
		return
	}
	if _, ok := s.templates.Get(req.TemplateID); !ok {
		s.respondError(w, badRequestf("unknown template %q", req.TemplateID))
		return
	}
	if req.Title == "" {
		req.Title = "Untitled interview"
	}

	rec, err := s.records.CreateRecord(r.Context(), req.TemplateID, req.Title)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

type startSessionRequest struct {
	RecordID   string `json:"recordId"`
	TemplateID string `json:"templateId"`
	Title      string `json:"title"`
}

// handleStartSession starts an interview. When recordId is omitted a fresh
// record is created from templateId first.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, badRequestf("decode body"))
		return
	}

	recordID := req.RecordID
	templateID := req.TemplateID

	if recordID == "" {
		if templateID == "" {
			s.respondError(w, badRequestf("recordId or templateId is required"))
			return
		}
		title := req.Title
		if title == "" {
			title = "Untitled interview"
		}
		rec, err := s.records.CreateRecord(r.Context(), templateID, title)
		if err != nil {
			s.respondError(w, err)
			return
		}
		recordID = rec.ID
	} else if templateID == "" {
		rec, err := s.records.GetRecord(r.Context(), recordID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		templateID = rec.TemplateID
	}

	if _, ok := s.templates.Get(templateID); !ok {
		s.respondError(w, badRequestf("unknown template %q", templateID))
		return
	}

	snap, err := s.sessions.StartSession(r.Context(), recordID, templateID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toSessionBody(snap))
}

// handleGetSession serves the live snapshot when the session is in memory and
// falls back to the stored row for past sessions.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := s.sessions.Session(id)
	if err == nil {
		s.respondJSON(w, http.StatusOK, toSessionBody(snap))
		return
	}
	if !errors.Is(err, ErrSessionNotFound) {
		s.respondError(w, err)
		return
	}

	stored, err := s.records.GetSession(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stored)
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	entries, err := s.records.GetTranscript(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if entries == nil {
		entries = []interview.TranscriptEntry{}
	}
	s.respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleLifecycle(w, r, s.sessions.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handleLifecycle(w, r, s.sessions.Resume)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.handleLifecycle(w, r, s.sessions.Complete)
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}

	snap, err := s.sessions.Session(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSessionBody(snap))
}

// templateSummary is the list view of one interview template.
type templateSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Sections    int    `json:"sections"`
}

func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	ids := s.templates.IDs()
	out := make([]templateSummary, 0, len(ids))
	for _, id := range ids {
		schema, ok := s.templates.Get(id)
		if !ok {
			continue
		}
		out = append(out, templateSummary{
			ID:          id,
			Name:        schema.Name,
			Description: schema.Description,
			Sections:    len(schema.Sections),
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	schema, ok := s.templates.Get(id)
	if !ok {
		s.respondJSON(w, http.StatusNotFound, errorBody{Error: "unknown template " + id})
		return
	}
	s.respondJSON(w, http.StatusOK, schema)
}

func (s *Server) handleICD10Search(w http.ResponseWriter, r *http.Request) {
	if s.lookup == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: "code lookup is not configured"})
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondError(w, badRequestf("q query parameter is required"))
		return
	}
	topK := 0
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, badRequestf("top_k must be a positive integer"))
			return
		}
		topK = n
	}

	matches, err := s.lookup.Search(r.Context(), query, topK)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordICD10Lookup(r.Context())
	}
	s.respondJSON(w, http.StatusOK, matches)
}
