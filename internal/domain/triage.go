package domain

// SymptomMention is a single extracted symptom occurrence, optionally
// qualified by severity ("severe headache"). Qualifiers come from a fixed
// vocabulary; a bare term has an empty Qualifier.
type SymptomMention struct {
	Term      string `json:"term"`
	Qualifier string `json:"qualifier,omitempty"`
}

func (m SymptomMention) String() string {
	if m.Qualifier == "" {
		return m.Term
	}
	return m.Qualifier + " " + m.Term
}

// Candidate is one ranked condition. Weight is rounded to two decimals for
// display; the full-precision value lives in the session's weight map.
type Candidate struct {
	Condition string  `json:"condition"`
	Weight    float64 `json:"weight"`
}

// DiagnosticSnapshot is the structured side-channel payload appended to the
// reply stream after the assistant text, and persisted on the assistant
// message that produced it.
type DiagnosticSnapshot struct {
	TopCandidates  []Candidate        `json:"top_candidates"`
	DiseaseWeights map[string]float64 `json:"disease_weights"`
	QuestionsLeft  int                `json:"questions_left"`
}
