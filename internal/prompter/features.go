package prompter

import (
	"slices"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/extractd/internal/interdoc"
)

// Feature prefixes keep text, context and section tokens apart.
const (
	prefixText     = "t:"
	prefixBefore   = "b:"
	prefixAfter    = "a:"
	prefixSyllabus = "s:"
	prefixClass    = "c:"
)

// FeatureParams controls element featurization. They are saved with the
// model so inference featurizes exactly like training did.
type FeatureParams struct {
	// MaxNGram is the longest character n-gram taken from element text.
	MaxNGram int `json:"max_ngram"`
	// MaxChars truncates element text before n-grams are taken.
	MaxChars int `json:"max_chars"`
	// ContextLength is how many neighbouring elements on each side
	// contribute context tokens.
	ContextLength int `json:"context_length"`
	// UseSyllabuses adds tokens from the titles of enclosing sections.
	UseSyllabuses bool `json:"use_syllabuses"`
	// MinDF drops features seen in fewer training elements.
	MinDF int `json:"min_df"`
	// MaxFeatures caps the vocabulary, most frequent first.
	MaxFeatures int `json:"max_features"`
}

// DefaultFeatureParams returns the parameters used when training does not
// override them.
func DefaultFeatureParams() FeatureParams {
	return FeatureParams{
		MaxNGram:      2,
		MaxChars:      120,
		ContextLength: 1,
		UseSyllabuses: true,
		MinDF:         1,
		MaxFeatures:   50000,
	}
}

// elementClasses are the elements the locator ranks.
var elementClasses = []interdoc.Class{interdoc.ClassParagraph, interdoc.ClassTable}

// candidates lists the rankable elements of r in index order.
func candidates(r *interdoc.Reader) []*interdoc.Element {
	return slices.DeleteFunc(r.Elements(elementClasses...), func(e *interdoc.Element) bool {
		return r.IsFragment(e.Index)
	})
}

// Features returns the sorted, de-duplicated feature tokens of e.
func (p FeatureParams) Features(r *interdoc.Reader, e *interdoc.Element) []string {
	set := map[string]struct{}{prefixClass + string(e.Class): {}}
	add := func(prefix string, grams []string) {
		for _, g := range grams {
			set[prefix+g] = struct{}{}
		}
	}
	add(prefixText, p.ngrams(e.PlainText()))
	if p.ContextLength > 0 {
		for _, n := range r.Near(e.Index, -1, p.ContextLength, 10, elementClasses...) {
			add(prefixBefore, p.ngrams(n.PlainText()))
		}
		for _, n := range r.Near(e.Index, 1, p.ContextLength, 10, elementClasses...) {
			add(prefixAfter, p.ngrams(n.PlainText()))
		}
	}
	if p.UseSyllabuses {
		path := r.SyllabusPath(e.Index)
		if len(path) == 0 {
			set[prefixSyllabus+"None"] = struct{}{}
		}
		for _, s := range path {
			add(prefixSyllabus, p.ngrams(s.Title))
		}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// ngrams returns the character 1..MaxNGram grams of the cleaned text.
func (p FeatureParams) ngrams(text string) []string {
	runes := make([]rune, 0, len(text))
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		runes = append(runes, unicode.ToLower(r))
		if p.MaxChars > 0 && len(runes) == p.MaxChars {
			break
		}
	}
	maxN := max(p.MaxNGram, 1)
	var out []string
	var sb strings.Builder
	for i := range runes {
		for n := 1; n <= maxN && i+n <= len(runes); n++ {
			sb.Reset()
			for _, r := range runes[i : i+n] {
				sb.WriteRune(r)
			}
			out = append(out, sb.String())
		}
	}
	return out
}
