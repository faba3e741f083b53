// Package lexicon holds the static condition knowledge base: per-condition
// symptom vocabularies and their precomputed reference embedding vectors.
// The store is loaded once at startup and read-only afterwards, so it is
// shared across concurrent turns without locking.
package lexicon

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Condition is one entry of the knowledge base. Vectors is ordered one per
// symptom term and every vector shares the store-wide dimensionality.
type Condition struct {
	Name     string      `json:"name"`
	Symptoms []string    `json:"symptoms"`
	Vectors  [][]float32 `json:"vectors"`
}

// HasTerm reports whether term belongs to this condition's vocabulary.
// Vocabularies are small, so a linear scan is fine.
func (c Condition) HasTerm(term string) bool {
	for _, s := range c.Symptoms {
		if s == term {
			return true
		}
	}
	return false
}

type Store struct {
	conditions []Condition
	vocab      map[string]struct{}
	dim        int
}

type lexiconFile struct {
	Conditions []Condition `json:"conditions"`
}

// LoadFile reads the lexicon JSON from path.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lexicon: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load parses and validates a lexicon document. Condition order in the file
// is preserved; ranking uses it for stable tie-breaks.
func Load(r io.Reader) (*Store, error) {
	var doc lexiconFile
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode lexicon: %w", err)
	}
	return New(doc.Conditions)
}

// New builds a store from the given conditions, lower-casing all vocabulary
// terms and enforcing the structural invariants: at least one condition,
// one vector per symptom term, and a constant dimension across the store.
func New(conditions []Condition) (*Store, error) {
	if len(conditions) == 0 {
		return nil, fmt.Errorf("lexicon has no conditions")
	}

	s := &Store{
		conditions: make([]Condition, 0, len(conditions)),
		vocab:      make(map[string]struct{}),
	}

	for _, c := range conditions {
		if c.Name == "" {
			return nil, fmt.Errorf("lexicon condition with empty name")
		}
		if len(c.Vectors) == 0 {
			return nil, fmt.Errorf("condition %q has no reference vectors", c.Name)
		}
		if len(c.Vectors) != len(c.Symptoms) {
			return nil, fmt.Errorf("condition %q has %d symptoms but %d vectors", c.Name, len(c.Symptoms), len(c.Vectors))
		}
		for _, v := range c.Vectors {
			if s.dim == 0 {
				s.dim = len(v)
			}
			if len(v) == 0 || len(v) != s.dim {
				return nil, fmt.Errorf("condition %q has a vector of dimension %d, want %d", c.Name, len(v), s.dim)
			}
		}

		norm := Condition{Name: c.Name, Symptoms: make([]string, len(c.Symptoms)), Vectors: c.Vectors}
		for i, term := range c.Symptoms {
			t := strings.ToLower(strings.TrimSpace(term))
			norm.Symptoms[i] = t
			s.vocab[t] = struct{}{}
		}
		s.conditions = append(s.conditions, norm)
	}

	return s, nil
}

// Dim is the shared dimensionality of all reference vectors.
func (s *Store) Dim() int { return s.dim }

// Conditions returns the conditions in file order. Callers must not mutate.
func (s *Store) Conditions() []Condition { return s.conditions }

// HasTerm reports membership in the union of all condition vocabularies.
func (s *Store) HasTerm(term string) bool {
	_, ok := s.vocab[term]
	return ok
}
