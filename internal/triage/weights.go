package triage

import (
	"math"
	"sort"

	"triage/internal/domain"
)

// TopCandidateCount is how many ranked conditions a turn surfaces.
const TopCandidateCount = 3

// Weigh scores every condition against the query vector and normalizes the
// scores into a 0–100 distribution. A condition's raw score is the mean of
// its clamped cosine similarities; negative similarity carries no
// diagnostic signal and is treated as zero. If every raw score is zero the
// distribution is all-zero, not uniform.
func (e *Engine) Weigh(query []float32) map[string]float64 {
	conds := e.lex.Conditions()
	raw := make([]float64, len(conds))
	var total float64

	for i, cond := range conds {
		var sum float64
		for _, ref := range cond.Vectors {
			sim := cosine(query, ref)
			if sim > 0 {
				sum += sim
			}
		}
		raw[i] = sum / float64(len(cond.Vectors))
		total += raw[i]
	}

	weights := make(map[string]float64, len(conds))
	for i, cond := range conds {
		if total > 0 {
			weights[cond.Name] = raw[i] / total * 100
		} else {
			weights[cond.Name] = 0
		}
	}
	return weights
}

// Rank returns the highest-weight conditions, at most TopCandidateCount.
// Non-finite weights are excluded before sorting; ties keep lexicon order.
// Candidate weights are rounded to two decimals for display; the map passed
// in retains full precision.
func (e *Engine) Rank(weights map[string]float64) []domain.Candidate {
	ranked := make([]domain.Candidate, 0, len(weights))
	for _, cond := range e.lex.Conditions() {
		w, ok := weights[cond.Name]
		if !ok || math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		ranked = append(ranked, domain.Candidate{Condition: cond.Name, Weight: w})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Weight > ranked[j].Weight
	})

	if len(ranked) > TopCandidateCount {
		ranked = ranked[:TopCandidateCount]
	}
	for i := range ranked {
		ranked[i].Weight = math.Round(ranked[i].Weight*100) / 100
	}
	return ranked
}

// RelevantSymptoms is the vocabulary union of the top candidates,
// deduplicated, ordered by first appearance in rank order.
func (e *Engine) RelevantSymptoms(candidates []domain.Candidate) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, cand := range candidates {
		for _, cond := range e.lex.Conditions() {
			if cond.Name != cand.Condition {
				continue
			}
			for _, term := range cond.Symptoms {
				if _, ok := seen[term]; ok {
					continue
				}
				seen[term] = struct{}{}
				out = append(out, term)
			}
			break
		}
	}
	return out
}

// cosine is zero when either vector has zero magnitude.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
