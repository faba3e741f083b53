// Package triage implements the per-turn scoring pipeline: symptom
// extraction, query vectorization, and disease weighting against the
// lexicon. Everything here is pure CPU work over the in-process lexicon;
// nothing blocks on I/O.
package triage

import (
	"strings"
	"unicode"

	"triage/internal/domain"
	"triage/internal/lexicon"
)

// severity qualifiers recognized in front of a vocabulary term.
var qualifiers = map[string]struct{}{
	"severe":   {},
	"mild":     {},
	"moderate": {},
	"intense":  {},
	"slight":   {},
}

type Engine struct {
	lex *lexicon.Store
}

func NewEngine(lex *lexicon.Store) *Engine {
	return &Engine{lex: lex}
}

// Extract returns the symptom mentions of an utterance in order of first
// appearance. A qualifier token attaches to the immediately following
// vocabulary term; a qualifier not followed by one is dropped. Duplicate
// mentions within one utterance are preserved; deduplication happens only
// when the session accumulates them.
func (e *Engine) Extract(utterance string) []domain.SymptomMention {
	var mentions []domain.SymptomMention
	pending := ""
	for _, tok := range tokenize(utterance) {
		if _, ok := qualifiers[tok]; ok {
			pending = tok
			continue
		}
		if e.lex.HasTerm(tok) {
			mentions = append(mentions, domain.SymptomMention{Term: tok, Qualifier: pending})
		}
		pending = ""
	}
	return mentions
}

// tokenize lower-cases the utterance and splits on non-word-character
// boundaries.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
