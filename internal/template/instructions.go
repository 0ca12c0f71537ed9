package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vocalis-health/vocalis/pkg/realtime"
)

// Filled maps sectionID -> fieldID -> value for answers captured so far.
// Empty-string, nil and absent values all count as unfilled.
type Filled map[string]map[string]any

func (f Filled) has(sectionID, fieldID string) bool {
	v, ok := f[sectionID][fieldID]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

// SectionIDs returns the ids of sections that hold at least one value.
func (f Filled) SectionIDs() []string {
	var ids []string
	for id, fields := range f {
		if len(fields) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// BuildInstructions renders the interviewer's system instructions for one
// session: the dialogue rules, the schema of fields still to ask about, and
// any data captured before the session started. Already-filled fields are
// omitted so the interviewer never asks about them again.
func (s *Schema) BuildInstructions(filled Filled) string {
	var schema strings.Builder
	for _, sec := range s.Sections {
		var fields strings.Builder
		for _, f := range sec.Fields {
			if !f.Askable() || filled.has(sec.ID, f.ID) {
				continue
			}
			fmt.Fprintf(&fields, "    - %s (%s, type: %s)", f.ID, f.Label, f.Type)
			if len(f.Options) > 0 {
				opts, _ := json.Marshal(f.Options)
				fmt.Fprintf(&fields, " — allowed values: %s", opts)
			}
			fmt.Fprintf(&fields, "\n      Question: %q\n", f.Prompt)
			if len(f.FollowUps) > 0 {
				quoted := make([]string, len(f.FollowUps))
				for i, p := range f.FollowUps {
					quoted[i] = fmt.Sprintf("%q", p)
				}
				fmt.Fprintf(&fields, "      Follow-up questions (ask if the clinician answered yes): %s\n", strings.Join(quoted, ", "))
			}
		}
		if fields.Len() == 0 {
			continue // every askable field is already filled
		}
		partial := ""
		if len(filled[sec.ID]) > 0 {
			partial = " [PARTIALLY FILLED]"
		}
		fmt.Fprintf(&schema, "  - %s: %q%s\n%s", sec.ID, sec.Title, partial, fields.String())
	}

	prefilled := ""
	if len(filled) > 0 {
		data, _ := json.MarshalIndent(filled, "", "  ")
		prefilled = fmt.Sprintf("\n\nData already captured (do NOT ask about these again):\n%s", data)
	}

	return fmt.Sprintf(`You are a voice assistant conducting a structured clinical interview titled %q.

You hold a spoken dialogue with the clinician: you ask the questions defined by the interview template, the clinician answers by voice.

DIALOGUE RULES:
- Speak briefly and naturally, as in a live conversation.
- MOVING TO THE NEXT QUESTION: after the clinician answers, WAIT until they say "next" or "continue". Only then move on. If they have not said it, clarify the current question or ask "Shall we move on?"
- In your first question, briefly remind the clinician: when you finish an answer, say "next" to move to the following question.
- After every answer, you MUST call the save_section_data function with the extracted data.
- When ALL questions have been asked, call the complete_session function.
- SKIP fields that are already filled; never ask about them.
- Ask ONLY the fields listed in the schema below. Fields without a question are filled in manually by the clinician.
- A short answer ("no", "denies", "not observed") is a complete answer. Save it and wait for "next".
- If a field has follow-up questions and the clinician answered yes, ask the follow-ups from the list.
- For fields with fixed choices, use only the allowed values from the schema.
- Extract data exactly from the clinician's speech; never invent details.
- If an answer is unclear, ask the same question again.

FIELD SCHEMA FOR THE INTERVIEW:
%s%s

FUNCTIONS:
- save_section_data(sectionId, data): call after every answer with the extracted data
- complete_session(): call when ALL questions have been asked`, s.Name, schema.String(), prefilled)
}

// RecapEntry is one transcript line carried into a resumed connection.
type RecapEntry struct {
	Role string // "agent" or "user"
	Text string
}

// recapWindow is how many trailing transcript entries a recap carries.
const recapWindow = 6

// BuildRecap renders the context message injected after a reconnect so the
// interviewer resumes mid-conversation instead of starting over.
func BuildRecap(entries []RecapEntry, filledSections []string) string {
	if len(entries) > recapWindow {
		entries = entries[len(entries)-recapWindow:]
	}
	var b strings.Builder
	b.WriteString("The connection was interrupted and has been restored. Context of the interrupted session:\n")
	if len(filledSections) > 0 {
		fmt.Fprintf(&b, "Sections already saved: %s\n", strings.Join(filledSections, ", "))
	}
	if len(entries) > 0 {
		b.WriteString("Recent dialogue:\n")
		for _, e := range entries {
			role := "Clinician"
			if e.Role == "agent" {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, e.Text)
		}
	}
	b.WriteString("Continue the interview from where it stopped. Do not repeat questions that were already answered and saved.")
	return b.String()
}

// Tools returns the function definitions exposed to the interviewer.
func Tools() []realtime.Tool {
	return []realtime.Tool{
		{
			Type:        "function",
			Name:        "save_section_data",
			Description: "Save extracted data for one template section after the clinician answers.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sectionId": map[string]any{
						"type":        "string",
						"description": "Identifier of the template section the data belongs to.",
					},
					"data": map[string]any{
						"type":        "object",
						"description": "Field values extracted from the clinician's answer, keyed by field id.",
					},
				},
				"required": []string{"sectionId", "data"},
			},
		},
		{
			Type:        "function",
			Name:        "complete_session",
			Description: "Mark the interview as finished once every question has been asked.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}
