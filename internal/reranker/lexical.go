package reranker

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"unicode"
)

const (
	// DefaultWeight is the share of the combined score taken by term overlap.
	DefaultWeight = 0.5
	minTermLength = 2
)

// Lexical blends recall similarity with term overlap. Latin words are
// compared whole; Han, Hiragana, Katakana and Hangul runs are compared
// as character bigrams since they carry no spaces.
type Lexical struct {
	weight float32
}

// Option configures a Lexical reranker.
type Option func(*Lexical)

// WithWeight sets the overlap share of the combined score. Values outside
// [0, 1] are ignored.
func WithWeight(w float32) Option {
	return func(l *Lexical) {
		if w >= 0 && w <= 1 {
			l.weight = w
		}
	}
}

// NewLexical creates a Lexical reranker.
func NewLexical(opts ...Option) *Lexical {
	l := &Lexical{weight: DefaultWeight}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Reranker = (*Lexical)(nil)

// Rerank implements Reranker. Ties keep the input order.
func (l *Lexical) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]Scored, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if topK <= 0 || topK > len(docs) {
		topK = len(docs)
	}
	out := make([]Scored, len(docs))
	terms := Terms(query)
	for i, d := range docs {
		s := Scored{Document: d, OriginalRank: i, Combined: d.Score}
		if len(terms) > 0 {
			s.Overlap = overlap(terms, Terms(d.Text))
			s.Combined = (1-l.weight)*d.Score + l.weight*s.Overlap
		}
		out[i] = s
	}
	slices.SortStableFunc(out, func(a, b Scored) int {
		return cmp.Compare(b.Combined, a.Combined)
	})
	return out[:topK], nil
}

// Terms splits text into lower-cased comparable terms, unique and in
// first-seen order. Field path separators and punctuation split terms.
func Terms(text string) []string {
	seen := map[string]bool{}
	var terms []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}

	var word []rune
	var cjk []rune
	flushWord := func() {
		if len([]rune(string(word))) >= minTermLength && !isStopword(string(word)) {
			add(string(word))
		}
		word = word[:0]
	}
	flushCJK := func() {
		switch len(cjk) {
		case 0:
		case 1:
			add(string(cjk))
		default:
			for i := 0; i+1 < len(cjk); i++ {
				add(string(cjk[i : i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return terms
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// overlap is the share of query terms present in doc.
func overlap(query, doc []string) float32 {
	if len(query) == 0 {
		return 0
	}
	have := make(map[string]struct{}, len(doc))
	for _, t := range doc {
		have[t] = struct{}{}
	}
	n := 0
	for _, t := range query {
		if _, ok := have[t]; ok {
			n++
		}
	}
	return float32(n) / float32(len(query))
}

var stopwords = map[string]bool{
	"the": true, "an": true, "and": true, "or": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "of": true, "with": true, "by": true,
	"from": true, "as": true, "is": true, "are": true, "be": true,
}

func isStopword(t string) bool { return stopwords[t] }
