package triage

import (
	"testing"

	"triage/internal/domain"
	"triage/internal/lexicon"
)

func testLexicon(t *testing.T) *lexicon.Store {
	t.Helper()
	lex, err := lexicon.New([]lexicon.Condition{
		{Name: "migraine", Symptoms: []string{"headache", "nausea"}, Vectors: [][]float32{{1, 0}, {0.9, 0.1}}},
		{Name: "flu", Symptoms: []string{"fever", "cough"}, Vectors: [][]float32{{0, 1}, {0.1, 0.9}}},
	})
	if err != nil {
		t.Fatalf("build lexicon: %v", err)
	}
	return lex
}

func mentionStrings(mentions []domain.SymptomMention) []string {
	out := make([]string, len(mentions))
	for i, m := range mentions {
		out[i] = m.String()
	}
	return out
}

func TestExtract_QualifiedMentions(t *testing.T) {
	e := NewEngine(testLexicon(t))

	got := mentionStrings(e.Extract("I have a severe headache and mild fever"))
	want := []string{"severe headache", "mild fever"}

	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mention %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestExtract_QualifierAloneDropped(t *testing.T) {
	e := NewEngine(testLexicon(t))

	if got := e.Extract("I feel severe today"); len(got) != 0 {
		t.Errorf("expected no mentions, got %v", got)
	}
}

func TestExtract_QualifierClearedByNonVocabToken(t *testing.T) {
	e := NewEngine(testLexicon(t))

	got := e.Extract("severe throbbing headache")
	if len(got) != 1 {
		t.Fatalf("expected 1 mention, got %v", got)
	}
	if got[0].Qualifier != "" || got[0].Term != "headache" {
		t.Errorf("expected bare headache, got %+v", got[0])
	}
}

func TestExtract_DuplicatesPreserved(t *testing.T) {
	e := NewEngine(testLexicon(t))

	got := e.Extract("headache, just headache")
	if len(got) != 2 {
		t.Fatalf("expected duplicates preserved within one utterance, got %v", got)
	}
}

func TestExtract_CaseAndPunctuation(t *testing.T) {
	e := NewEngine(testLexicon(t))

	got := mentionStrings(e.Extract("FEVER! And... Nausea?"))
	want := []string{"fever", "nausea"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestExtract_NoMatches(t *testing.T) {
	e := NewEngine(testLexicon(t))

	if got := e.Extract("the weather is nice today"); len(got) != 0 {
		t.Errorf("expected no mentions, got %v", got)
	}
}
