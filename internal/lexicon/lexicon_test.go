package lexicon

import (
	"strings"
	"testing"
)

const validDoc = `{
  "conditions": [
    {"name": "migraine", "symptoms": ["Headache", "nausea"], "vectors": [[1, 0], [0.9, 0.1]]},
    {"name": "flu", "symptoms": ["fever", "cough"], "vectors": [[0, 1], [0.1, 0.9]]}
  ]
}`

func TestLoad_Valid(t *testing.T) {
	s, err := Load(strings.NewReader(validDoc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Dim() != 2 {
		t.Errorf("expected dimension 2, got %d", s.Dim())
	}
	if len(s.Conditions()) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(s.Conditions()))
	}
	if s.Conditions()[0].Name != "migraine" {
		t.Errorf("expected file order preserved, got %q first", s.Conditions()[0].Name)
	}
}

func TestLoad_LowercasesVocabulary(t *testing.T) {
	s, err := Load(strings.NewReader(validDoc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.HasTerm("headache") {
		t.Error("expected vocabulary terms to be lower-cased")
	}
	if s.HasTerm("Headache") {
		t.Error("membership should be against the normalized term")
	}
}

func TestLoad_DimensionMismatch(t *testing.T) {
	doc := `{"conditions": [{"name": "a", "symptoms": ["x", "y"], "vectors": [[1, 0], [1, 0, 0]]}]}`
	if _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatal("expected error for inconsistent vector dimensions")
	}
}

func TestLoad_NoVectors(t *testing.T) {
	doc := `{"conditions": [{"name": "a", "symptoms": [], "vectors": []}]}`
	if _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatal("expected error for condition without reference vectors")
	}
}

func TestLoad_SymptomVectorCountMismatch(t *testing.T) {
	doc := `{"conditions": [{"name": "a", "symptoms": ["x"], "vectors": [[1], [2]]}]}`
	if _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatal("expected error when vector count differs from symptom count")
	}
}

func TestNew_Empty(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for empty lexicon")
	}
}
