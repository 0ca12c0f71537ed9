package interview

import (
	"maps"
	"sort"

	"github.com/vocalis-health/vocalis/internal/template"
)

// AnswerSet is the structured data extracted so far, keyed by section id
// then field id. It grows by field-level merge: resupplying a field
// overwrites that field only, never the whole section.
type AnswerSet map[string]map[string]any

// Merge applies fields to the section's entry with last-write-wins per
// field. Fields that do not resolve against the schema are dropped and
// returned so the caller can log them. An unknown section merges nothing.
func (a AnswerSet) Merge(schema *template.Schema, sectionID string, fields map[string]any) (applied int, dropped []string) {
	if _, ok := schema.Section(sectionID); !ok {
		for f := range fields {
			dropped = append(dropped, f)
		}
		sort.Strings(dropped)
		return 0, dropped
	}
	for fieldID, value := range fields {
		if !schema.HasField(sectionID, fieldID) {
			dropped = append(dropped, fieldID)
			continue
		}
		if a[sectionID] == nil {
			a[sectionID] = make(map[string]any)
		}
		a[sectionID][fieldID] = value
		applied++
	}
	sort.Strings(dropped)
	return applied, dropped
}

// FilledSections returns the ids of sections holding at least one non-empty
// field, in schema order.
func (a AnswerSet) FilledSections(schema *template.Schema) []string {
	var ids []string
	for _, sec := range schema.Sections {
		if a.sectionFilled(sec.ID) {
			ids = append(ids, sec.ID)
		}
	}
	return ids
}

func (a AnswerSet) sectionFilled(sectionID string) bool {
	for _, v := range a[sectionID] {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return true
	}
	return false
}

// Clone returns a deep-enough copy for snapshots: section maps are copied,
// values are shared (they are never mutated after merge).
func (a AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(a))
	for sec, fields := range a {
		out[sec] = maps.Clone(fields)
	}
	return out
}

// Filled converts the answer set to the template package's prefill shape.
func (a AnswerSet) Filled() template.Filled {
	return template.Filled(a.Clone())
}

// Progress is the derived completion measure: sections with at least one
// filled field over total sections. Always recomputed, never stored.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Complete reports whether every section has at least one filled field.
func (p Progress) Complete() bool { return p.Total > 0 && p.Completed == p.Total }

// Progress computes the current progress against schema.
func (a AnswerSet) Progress(schema *template.Schema) Progress {
	return Progress{
		Completed: len(a.FilledSections(schema)),
		Total:     len(schema.Sections),
	}
}
