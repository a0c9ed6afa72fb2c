package prompter

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/fyrsmithlabs/extractd/internal/interdoc"
)

// Candidate is one element proposed for a field.
type Candidate struct {
	Index   int              `json:"element_index"`
	Page    int              `json:"page"`
	Class   interdoc.Class   `json:"class"`
	Outline interdoc.Outline `json:"outline"`
	Text    string           `json:"text"`
	Score   float64          `json:"score"`
}

// CrudeAnswer maps a field name path (root excluded, "/" separated) to its
// candidates, best first.
type CrudeAnswer map[string][]Candidate

// ParseCrudeAnswer decodes a stored crude answer. Empty input yields an
// empty mapping.
func ParseCrudeAnswer(raw json.RawMessage) (CrudeAnswer, error) {
	out := CrudeAnswer{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode crude answer: %w", err)
	}
	return out, nil
}

// Marshal encodes c for storage on the question row.
func (c CrudeAnswer) Marshal() (json.RawMessage, error) {
	if c == nil {
		c = CrudeAnswer{}
	}
	return json.Marshal(c)
}

// Top returns up to limit candidates of path scoring at least threshold.
func (c CrudeAnswer) Top(path string, limit int, threshold float64) []Candidate {
	var out []Candidate
	for _, cand := range c[path] {
		if cand.Score < threshold {
			continue
		}
		out = append(out, cand)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// sortCandidates orders by score descending, then by element index.
func sortCandidates(cands []Candidate) {
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return a.Index - b.Index
	})
}
