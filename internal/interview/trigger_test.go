package interview

import "testing"

func TestVADPolicy(t *testing.T) {
	var p VADPolicy
	for _, utterance := range []string{"next", "end session", "anything at all"} {
		if got := p.Decide(utterance); got != TurnNone {
			t.Errorf("Decide(%q) = %v, want TurnNone", utterance, got)
		}
	}
}

func TestPhrasePolicy(t *testing.T) {
	var p PhrasePolicy

	tests := []struct {
		utterance string
		want      TurnAction
	}{
		{"next", TurnAdvance},
		{"Next.", TurnAdvance},
		{"continue", TurnAdvance},
		{"okay, next", TurnAdvance}, // trigger embedded in a short utterance
		{"nextt", TurnAdvance},      // transcription slip
		{"end session", TurnComplete},
		{"End session!", TurnComplete},
		{"we are done", TurnComplete},
		{"the patient reports headaches", TurnNone},
		{"no", TurnNone},
		{"", TurnNone},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			if got := p.Decide(tt.utterance); got != tt.want {
				t.Errorf("Decide(%q) = %v, want %v", tt.utterance, got, tt.want)
			}
		})
	}
}

func TestPhrasePolicy_CustomPhrases(t *testing.T) {
	p := PhrasePolicy{
		AdvancePhrases:  []string{"weiter"},
		CompletePhrases: []string{"fertig"},
	}
	if got := p.Decide("weiter"); got != TurnAdvance {
		t.Errorf("Decide(weiter) = %v", got)
	}
	if got := p.Decide("fertig"); got != TurnComplete {
		t.Errorf("Decide(fertig) = %v", got)
	}
	// Defaults are replaced, not extended.
	if got := p.Decide("next"); got != TurnNone {
		t.Errorf("Decide(next) = %v, want TurnNone with custom phrases", got)
	}
}

func TestPhrasePolicy_CompletionOutranksAdvance(t *testing.T) {
	p := PhrasePolicy{
		AdvancePhrases:  []string{"done"},
		CompletePhrases: []string{"done"},
	}
	if got := p.Decide("done"); got != TurnComplete {
		t.Errorf("Decide(done) = %v, want TurnComplete", got)
	}
}
