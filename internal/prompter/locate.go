package prompter

import (
	"strings"

	"github.com/fyrsmithlabs/extractd/internal/interdoc"
)

// DefaultTopN is the number of candidates kept per path.
const DefaultTopN = 10

func joinPath(names []string) string { return strings.Join(names, "/") }

// Locate ranks the elements of r for every path of m and keeps the best
// topN per path. A nil reader yields an empty mapping.
func (m *Model) Locate(r *interdoc.Reader, topN int) CrudeAnswer {
	out := CrudeAnswer{}
	if r == nil || m == nil || m.Vocabulary == nil {
		return out
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	elems := candidates(r)
	vectors := make([][]int, len(elems))
	for i, e := range elems {
		vectors[i] = m.Vocabulary.vector(m.Vocabulary.Params.Features(r, e))
	}
	for _, path := range m.Paths() {
		c := m.Classifiers[path]
		cands := make([]Candidate, len(elems))
		for i, e := range elems {
			cands[i] = candidateOf(e, c.score(vectors[i]))
		}
		sortCandidates(cands)
		out[path] = cands[:min(topN, len(cands))]
	}
	return out
}

func candidateOf(e *interdoc.Element, score float64) Candidate {
	text := e.PlainText()
	if runes := []rune(text); len(runes) > 200 {
		text = string(runes[:200])
	}
	return Candidate{
		Index:   e.Index,
		Page:    e.Page,
		Class:   e.Class,
		Outline: e.Outline,
		Text:    text,
		Score:   score,
	}
}

// Merge folds extra candidates into c, keeping the best score per element
// and re-ranking each touched path to at most topN.
func (c CrudeAnswer) Merge(extra CrudeAnswer, topN int) {
	if topN <= 0 {
		topN = DefaultTopN
	}
	for path, cands := range extra {
		byIndex := map[int]int{}
		merged := append([]Candidate(nil), c[path]...)
		for i, cand := range merged {
			byIndex[cand.Index] = i
		}
		for _, cand := range cands {
			if i, ok := byIndex[cand.Index]; ok {
				merged[i].Score = max(merged[i].Score, cand.Score)
				continue
			}
			byIndex[cand.Index] = len(merged)
			merged = append(merged, cand)
		}
		sortCandidates(merged)
		c[path] = merged[:min(topN, len(merged))]
	}
}
