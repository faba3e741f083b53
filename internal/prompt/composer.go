// Package prompt renders session state into the system instruction for the
// completion backend. Compose is a pure function: identical state always
// yields identical text.
package prompt

import (
	"fmt"
	"strings"

	"triage/internal/domain"
)

// State is the projection of a conversation session that the template
// consumes. QuestionsLeft is the budget before this turn's decrement.
type State struct {
	TopCandidates    []domain.Candidate
	RelevantSymptoms []string
	QuestionsLeft    int
	Language         string
}

// The substitution keys below are the exhaustive set the template uses.
const systemTemplate = `You are a careful medical triage assistant talking to a patient.

You are not a doctor and you must never assert a definitive diagnosis. You gather information, narrow possibilities, and always defer final judgment to a human clinician.

Current working assessment (internal, do not volunteer it): {{top_conditions}}.
Symptoms relevant to these possibilities: {{relevant_symptoms}}.

Do not proactively disclose the conditions above or any scores. Only discuss them if the patient directly asks what you suspect, and even then present them as possibilities, not conclusions.

{{questioning_instruction}}

Keep replies short, warm, and free of medical jargon. You are always to respond in {{language}}.`

const askTemplate = `You may ask at most {{questions_left}} more clarifying question(s), one per reply, choosing the question that best distinguishes between the possibilities above.`

const concludeInstruction = `You have no clarifying questions left. Ask no further questions; state your current best-effort impression in plain language and recommend the patient see a clinician for confirmation.`

// Compose renders the system instruction for the given state.
func Compose(st State) string {
	questioning := concludeInstruction
	if st.QuestionsLeft > 0 {
		questioning = strings.ReplaceAll(askTemplate, "{{questions_left}}", fmt.Sprintf("%d", st.QuestionsLeft))
	}

	r := strings.NewReplacer(
		"{{top_conditions}}", renderCandidates(st.TopCandidates),
		"{{relevant_symptoms}}", renderList(st.RelevantSymptoms),
		"{{questioning_instruction}}", questioning,
		"{{language}}", st.Language,
	)
	return r.Replace(systemTemplate)
}

func renderCandidates(cands []domain.Candidate) string {
	if len(cands) == 0 {
		return "none yet"
	}
	parts := make([]string, len(cands))
	for i, c := range cands {
		parts[i] = fmt.Sprintf("%s (%.2f)", c.Condition, c.Weight)
	}
	return strings.Join(parts, ", ")
}

func renderList(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
