// Package template defines the interview template schema: the sections and
// fields an interview walks through, loaded from YAML files. A template is
// the contract between the session controller, the remote interviewer and
// the persisted record: section and field identifiers in saved answers must
// resolve against it.
package template

import (
	"errors"
	"fmt"
)

// FieldType enumerates the value shapes a field can hold.
type FieldType string

const (
	FieldText        FieldType = "text"
	FieldProse       FieldType = "prose"
	FieldDate        FieldType = "date"
	FieldSelect      FieldType = "select"
	FieldMultiSelect FieldType = "multi-select"
	FieldBullets     FieldType = "bullets"
	FieldTimeline    FieldType = "timeline"
	FieldMedications FieldType = "medications"
	FieldVitals      FieldType = "vitals"
)

var knownFieldTypes = map[FieldType]bool{
	FieldText:        true,
	FieldProse:       true,
	FieldDate:        true,
	FieldSelect:      true,
	FieldMultiSelect: true,
	FieldBullets:     true,
	FieldTimeline:    true,
	FieldMedications: true,
	FieldVitals:      true,
}

// Field is one data point inside a section.
type Field struct {
	// ID is the field's stable identifier, unique within its section.
	ID string `yaml:"id" json:"id"`

	// Label is the human-readable field name.
	Label string `yaml:"label" json:"label"`

	// Type constrains the field's value shape.
	Type FieldType `yaml:"type" json:"type"`

	// Options lists the admissible values for select and multi-select
	// fields.
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`

	// Prompt is the question the interviewer asks to fill this field.
	// Fields without a prompt are filled manually and never asked about.
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`

	// FollowUps are clarifying questions asked when the answer to Prompt
	// is affirmative.
	FollowUps []string `yaml:"follow_ups,omitempty" json:"followUps,omitempty"`
}

// Askable reports whether the interviewer should ask about this field.
func (f Field) Askable() bool { return f.Prompt != "" }

// Section groups related fields under one identifier.
type Section struct {
	ID     string  `yaml:"id" json:"id"`
	Title  string  `yaml:"title" json:"title"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// Schema is a full interview template.
type Schema struct {
	// Name is the template's display name.
	Name string `yaml:"name" json:"name"`

	// Description is a free-text summary shown when listing templates.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Sections []Section `yaml:"sections" json:"sections"`
}

// Validate checks structural integrity: non-empty identifiers, no duplicate
// section or field IDs, known field types, and options present exactly on
// select-style fields. All problems are reported together.
func (s *Schema) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, fmt.Errorf("template: name must not be empty"))
	}
	if len(s.Sections) == 0 {
		errs = append(errs, fmt.Errorf("template: at least one section is required"))
	}

	seenSections := make(map[string]bool, len(s.Sections))
	for _, sec := range s.Sections {
		if sec.ID == "" {
			errs = append(errs, fmt.Errorf("template: section %q has no id", sec.Title))
			continue
		}
		if seenSections[sec.ID] {
			errs = append(errs, fmt.Errorf("template: duplicate section id %q", sec.ID))
		}
		seenSections[sec.ID] = true

		seenFields := make(map[string]bool, len(sec.Fields))
		for _, f := range sec.Fields {
			if f.ID == "" {
				errs = append(errs, fmt.Errorf("template: section %q has a field with no id", sec.ID))
				continue
			}
			if seenFields[f.ID] {
				errs = append(errs, fmt.Errorf("template: section %q has duplicate field id %q", sec.ID, f.ID))
			}
			seenFields[f.ID] = true

			if !knownFieldTypes[f.Type] {
				errs = append(errs, fmt.Errorf("template: field %s.%s has unknown type %q", sec.ID, f.ID, f.Type))
			}
			selectLike := f.Type == FieldSelect || f.Type == FieldMultiSelect
			if selectLike && len(f.Options) == 0 {
				errs = append(errs, fmt.Errorf("template: field %s.%s is %s but lists no options", sec.ID, f.ID, f.Type))
			}
			if !selectLike && len(f.Options) > 0 {
				errs = append(errs, fmt.Errorf("template: field %s.%s is %s and must not list options", sec.ID, f.ID, f.Type))
			}
		}
	}
	return errors.Join(errs...)
}

// Section returns the section with the given id, if present.
func (s *Schema) Section(id string) (Section, bool) {
	for _, sec := range s.Sections {
		if sec.ID == id {
			return sec, true
		}
	}
	return Section{}, false
}

// HasField reports whether sectionID.fieldID resolves in the schema.
func (s *Schema) HasField(sectionID, fieldID string) bool {
	sec, ok := s.Section(sectionID)
	if !ok {
		return false
	}
	for _, f := range sec.Fields {
		if f.ID == fieldID {
			return true
		}
	}
	return false
}

// SectionIDs returns all section identifiers in template order.
func (s *Schema) SectionIDs() []string {
	ids := make([]string, len(s.Sections))
	for i, sec := range s.Sections {
		ids[i] = sec.ID
	}
	return ids
}
