package template

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a template YAML file from disk.
func Load(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("template: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("template: parse %q: %w", path, err)
	}
	return s, nil
}

// LoadFromReader parses and validates template YAML from an [io.Reader].
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadFromReader(r io.Reader) (*Schema, error) {
	var s Schema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("template: decode yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Registry holds the templates available to new sessions, keyed by the
// template file's base name without extension.
type Registry struct {
	templates map[string]*Schema
}

// NewRegistry builds a Registry from already-loaded schemas, keyed by id.
func NewRegistry(templates map[string]*Schema) *Registry {
	reg := &Registry{templates: make(map[string]*Schema, len(templates))}
	for id, s := range templates {
		reg.templates[id] = s
	}
	return reg
}

// LoadDir loads every *.yaml and *.yml file in dir into a Registry.
// A directory with no template files is an error.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("template: read dir %q: %w", dir, err)
	}

	reg := &Registry{templates: make(map[string]*Schema)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		s, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		reg.templates[strings.TrimSuffix(e.Name(), ext)] = s
	}
	if len(reg.templates) == 0 {
		return nil, fmt.Errorf("template: no template files in %q", dir)
	}
	return reg, nil
}

// Get returns the template with the given id.
func (r *Registry) Get(id string) (*Schema, bool) {
	s, ok := r.templates[id]
	return s, ok
}

// IDs returns all registered template ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
