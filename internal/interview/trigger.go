package interview

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// TurnAction is a turn-taking policy's verdict on one user utterance.
type TurnAction int

const (
	// TurnNone leaves turn-taking to the peer's voice-activity detection.
	TurnNone TurnAction = iota

	// TurnAdvance asks the peer to produce its next output now.
	TurnAdvance

	// TurnComplete finishes the interview.
	TurnComplete
)

// TurnPolicy decides whether a transcribed user utterance should force a
// turn transition. The default VAD policy never does: the peer's own
// voice-activity detection and function calls drive the conversation.
type TurnPolicy interface {
	Decide(utterance string) TurnAction
}

// VADPolicy is the default policy: fully event-driven, no local triggers.
type VADPolicy struct{}

func (VADPolicy) Decide(string) TurnAction { return TurnNone }

// defaultTriggerThreshold is the Jaro-Winkler similarity above which a
// spoken word counts as a trigger phrase. Tolerant enough to absorb common
// transcription slips ("nextt", "continu") without firing on unrelated words.
const defaultTriggerThreshold = 0.92

// PhrasePolicy is the alternate trigger-phrase mode: the user advances or
// ends the interview by saying a designated phrase. Matching is fuzzy so
// imperfect transcriptions still trigger.
type PhrasePolicy struct {
	// AdvancePhrases force the next question. Defaults if empty.
	AdvancePhrases []string

	// CompletePhrases end the interview. Defaults if empty.
	CompletePhrases []string

	// Threshold is the minimum similarity score. Defaults if zero.
	Threshold float64
}

var (
	defaultAdvancePhrases  = []string{"next", "continue", "next question"}
	defaultCompletePhrases = []string{"end session", "finish interview", "we are done"}
)

func (p PhrasePolicy) Decide(utterance string) TurnAction {
	advance := p.AdvancePhrases
	if len(advance) == 0 {
		advance = defaultAdvancePhrases
	}
	complete := p.CompletePhrases
	if len(complete) == 0 {
		complete = defaultCompletePhrases
	}
	threshold := p.Threshold
	if threshold == 0 {
		threshold = defaultTriggerThreshold
	}

	// Completion outranks advance when both match.
	if matchesAny(utterance, complete, threshold) {
		return TurnComplete
	}
	if matchesAny(utterance, advance, threshold) {
		return TurnAdvance
	}
	return TurnNone
}

func matchesAny(utterance string, phrases []string, threshold float64) bool {
	u := normalizePhrase(utterance)
	if u == "" {
		return false
	}
	uTokens := strings.Fields(u)

	for _, phrase := range phrases {
		ph := normalizePhrase(phrase)
		if ph == "" {
			continue
		}
		if matchr.JaroWinkler(u, ph, false) >= threshold {
			return true
		}
		// Single-word phrases also match any one spoken token, so "okay,
		// next" triggers "next".
		if !strings.Contains(ph, " ") {
			for _, tok := range uTokens {
				if matchr.JaroWinkler(tok, ph, false) >= threshold {
					return true
				}
			}
		}
	}
	return false
}

func normalizePhrase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':':
			return -1
		}
		return r
	}, s)
}
