package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

func ValidSessionStatus(s string) bool {
	switch SessionStatus(s) {
	case SessionActive, SessionEnded:
		return true
	}
	return false
}

// ConversationSession is the aggregate root for one triage dialogue.
// It owns the authoritative history: everything a turn mutates lives here,
// and all mutation happens under the per-session lock in the service layer.
type ConversationSession struct {
	ID             uuid.UUID          `json:"id"`
	CallerID       string             `json:"caller_id,omitempty"`
	Status         SessionStatus      `json:"status"`
	Language       string             `json:"language"`
	QuestionBudget int                `json:"question_budget"`
	Utterances     []string           `json:"utterances"`
	Replies        []string           `json:"replies"`
	Symptoms       []string           `json:"symptoms"`
	DiseaseWeights map[string]float64 `json:"disease_weights,omitempty"`
	TopCandidates  []Candidate        `json:"top_candidates,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	EndedAt        *time.Time         `json:"ended_at,omitempty"`
	LastUpdated    time.Time          `json:"last_updated"`
}

// Ended reports whether the session has been terminated. Ended is terminal:
// no further turns are accepted.
func (s *ConversationSession) Ended() bool {
	return s.Status == SessionEnded
}

// AddSymptoms unions the given mentions into the accumulated symptom set,
// preserving first-seen order across turns.
func (s *ConversationSession) AddSymptoms(mentions []SymptomMention) {
	seen := make(map[string]struct{}, len(s.Symptoms))
	for _, sym := range s.Symptoms {
		seen[sym] = struct{}{}
	}
	for _, m := range mentions {
		key := m.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		s.Symptoms = append(s.Symptoms, key)
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one persisted turn half. User messages carry the symptom
// mentions extracted from the utterance; assistant messages carry the
// diagnostic snapshot computed for the turn.
type Message struct {
	ID                uuid.UUID           `json:"id"`
	SessionID         uuid.UUID           `json:"session_id"`
	Role              Role                `json:"role"`
	Content           string              `json:"content"`
	ExtractedSymptoms []string            `json:"extracted_symptoms,omitempty"`
	Snapshot          *DiagnosticSnapshot `json:"diagnostic_snapshot,omitempty"`
	QueryVector       []float32           `json:"-"`
	CreatedAt         time.Time           `json:"created_at"`
}
