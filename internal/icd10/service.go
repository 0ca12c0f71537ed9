package icd10

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vocalis-health/vocalis/internal/store/postgres"
)

// Code is one catalogue entry.
type Code struct {
	Code  string `yaml:"code"`
	Title string `yaml:"title"`
}

// Index is the vector storage boundary, satisfied by [*postgres.Store].
type Index interface {
	UpsertICD10(ctx context.Context, code, title string, embedding []float32) error
	SearchICD10(ctx context.Context, embedding []float32, topK int) ([]postgres.ICD10Match, error)
	CountICD10(ctx context.Context) (int, error)
}

// syncBatchSize bounds one embedding request during a catalogue sync.
const syncBatchSize = 100

// Service embeds queries and catalogue entries and searches the index.
type Service struct {
	embedder Embedder
	index    Index
	log      *slog.Logger
}

// NewService wires a lookup service.
func NewService(embedder Embedder, index Index, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{embedder: embedder, index: index, log: log}
}

// Search returns the topK best-matching codes for a free-text query.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]postgres.ICD10Match, error) {
	if query == "" {
		return nil, fmt.Errorf("icd10: query must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := s.index.SearchICD10(ctx, vec, topK)
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Sync embeds and upserts the catalogue in batches. Entries are embedded as
// "<code> <title>" so both code mentions and plain-language descriptions
// match.
func (s *Service) Sync(ctx context.Context, codes []Code) (int, error) {
	synced := 0
	for start := 0; start < len(codes); start += syncBatchSize {
		end := min(start+syncBatchSize, len(codes))
		batch := codes[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Code + " " + c.Title
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return synced, fmt.Errorf("icd10: sync batch at %d: %w", start, err)
		}
		for i, c := range batch {
			if err := s.index.UpsertICD10(ctx, c.Code, c.Title, vecs[i]); err != nil {
				return synced, err
			}
			synced++
		}
		s.log.Debug("icd10 sync progress", "synced", synced, "total", len(codes))
	}
	return synced, nil
}

// SyncIfEmpty runs [Service.Sync] only when the index holds no codes yet.
// Called at startup so a populated index is not re-embedded on every boot.
func (s *Service) SyncIfEmpty(ctx context.Context, codes []Code) error {
	n, err := s.index.CountICD10(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Debug("icd10 index already populated", "codes", n)
		return nil
	}
	synced, err := s.Sync(ctx, codes)
	if err != nil {
		return err
	}
	s.log.Info("icd10 catalogue synced", "codes", synced)
	return nil
}

// catalogFile is the YAML shape of a code catalogue.
type catalogFile struct {
	Codes []Code `yaml:"codes"`
}

// LoadCatalog reads a code catalogue from a YAML file.
func LoadCatalog(path string) ([]Code, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("icd10: open catalogue %q: %w", path, err)
	}
	defer f.Close()

	codes, err := LoadCatalogFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("icd10: parse catalogue %q: %w", path, err)
	}
	return codes, nil
}

// LoadCatalogFromReader parses catalogue YAML from r.
func LoadCatalogFromReader(r io.Reader) ([]Code, error) {
	var cf catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("icd10: decode catalogue yaml: %w", err)
	}
	for i, c := range cf.Codes {
		if c.Code == "" || c.Title == "" {
			return nil, fmt.Errorf("icd10: catalogue entry %d is missing code or title", i)
		}
	}
	return cf.Codes, nil
}
