package triage

// Vectorize places an utterance in the lexicon's embedding space by
// averaging the reference vectors of every condition whose vocabulary
// matched a token. Attribution is first-match-wins: a token shared by
// several conditions' vocabularies is credited only to the first condition
// in lexicon order. When no token matches, the zero vector is returned.
func (e *Engine) Vectorize(utterance string) []float32 {
	dim := e.lex.Dim()
	acc := make([]float64, dim)
	matched := 0

	for _, tok := range tokenize(utterance) {
		for _, cond := range e.lex.Conditions() {
			if !cond.HasTerm(tok) {
				continue
			}
			for _, ref := range cond.Vectors {
				for i, x := range ref {
					acc[i] += float64(x)
				}
			}
			matched++
			break
		}
	}

	out := make([]float32, dim)
	if matched == 0 {
		return out
	}
	for i, x := range acc {
		out[i] = float32(x / float64(matched))
	}
	return out
}
