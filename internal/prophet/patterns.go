package prophet

import (
	"encoding/json"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Patterns is a list of regular expressions. It decodes from a JSON string
// or a list of strings. HTML entities are unescaped before compiling, so a
// config that does not compile is rejected when it is decoded.
type Patterns struct {
	raw []string
	res []*regexp2.Regexp
}

// NewPatterns compiles raw.
func NewPatterns(raw ...string) (Patterns, error) {
	var p Patterns
	err := p.set(unescape(raw), false)
	return p, err
}

// MustPatterns is NewPatterns for literals known to compile.
func MustPatterns(raw ...string) Patterns {
	p, err := NewPatterns(raw...)
	if err != nil {
		panic(err)
	}
	return p
}

// QuotedPatterns matches any of the literal texts.
func QuotedPatterns(texts ...string) Patterns {
	raw := make([]string, 0, len(texts))
	for _, t := range texts {
		if t != "" {
			raw = append(raw, regexp2.Escape(t))
		}
	}
	p, _ := NewPatterns(raw...)
	return p
}

func (p *Patterns) UnmarshalJSON(b []byte) error {
	var list []string
	switch {
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		list = []string{s}
	case string(b) == "null":
	default:
		if err := json.Unmarshal(b, &list); err != nil {
			return fmt.Errorf("%w: patterns must be a string or a list of strings", ErrInvalidConfig)
		}
	}
	return p.set(unescape(list), false)
}

func (p Patterns) MarshalJSON() ([]byte, error) {
	if p.raw == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.raw)
}

func unescape(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		s = html.UnescapeString(s)
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// matchTimeout bounds a single match so a backtracking pattern cannot
// stall a prediction.
const matchTimeout = time.Second

// pythonGroups rewrites the Python forms (?P<name>...) and (?P=name),
// which regexp2 accepts only in RE2 mode, to (?<name>...) and \k<name>.
func pythonGroups(expr string) string {
	expr = strings.ReplaceAll(expr, "(?P<", "(?<")
	var b strings.Builder
	for {
		i := strings.Index(expr, "(?P=")
		if i < 0 {
			break
		}
		j := strings.IndexByte(expr[i:], ')')
		if j < 0 {
			break
		}
		b.WriteString(expr[:i])
		b.WriteString(`\k<` + expr[i+4:i+j] + ">")
		expr = expr[i+j+1:]
	}
	b.WriteString(expr)
	return b.String()
}

func compile(expr string, fold bool) (*regexp2.Regexp, error) {
	opts := regexp2.None
	if fold {
		opts |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(pythonGroups(expr), opts)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = matchTimeout
	return re, nil
}

func (p *Patterns) set(raw []string, fold bool) error {
	res := make([]*regexp2.Regexp, 0, len(raw))
	for _, s := range raw {
		re, err := compile(s, fold)
		if err != nil {
			return fmt.Errorf("%w: regex %q: %v", ErrInvalidConfig, s, err)
		}
		res = append(res, re)
	}
	p.raw, p.res = raw, res
	return nil
}

// fold recompiles the patterns case-insensitively.
func (p *Patterns) fold() error {
	return p.set(p.raw, true)
}

// Len returns the number of patterns.
func (p Patterns) Len() int { return len(p.res) }

// Raw returns the source expressions.
func (p Patterns) Raw() []string { return slices.Clone(p.raw) }

// Match reports whether any pattern matches s. A match that times out
// counts as no match.
func (p Patterns) Match(s string) bool {
	for _, re := range p.res {
		if ok, err := re.MatchString(s); err == nil && ok {
			return true
		}
	}
	return false
}

// Find returns the byte span of the first pattern matching s. When the
// pattern has one of the named groups and it participated in the match,
// the span of that group is returned instead of the whole match.
func (p Patterns) Find(s string, groups ...string) (start, end int, ok bool) {
	var offs []int
	for _, re := range p.res {
		m, err := re.FindStringMatch(s)
		if err != nil || m == nil {
			continue
		}
		if offs == nil {
			offs = byteOffsets(s)
		}
		start, end = groupSpan(m, groups, offs)
		if start >= 0 && end > start {
			return start, end, true
		}
	}
	return 0, 0, false
}

// FindAll returns every non-overlapping span of the first pattern that
// matches s at all.
func (p Patterns) FindAll(s string, groups ...string) [][2]int {
	var offs []int
	for _, re := range p.res {
		m, err := re.FindStringMatch(s)
		if err != nil || m == nil {
			continue
		}
		if offs == nil {
			offs = byteOffsets(s)
		}
		var out [][2]int
		for ; m != nil; m, err = re.FindNextMatch(m) {
			if start, end := groupSpan(m, groups, offs); start >= 0 && end > start {
				out = append(out, [2]int{start, end})
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// groupSpan converts the rune span of the match, or of its first
// participating named group, into byte offsets of the input.
func groupSpan(m *regexp2.Match, groups []string, offs []int) (int, int) {
	for _, name := range groups {
		if g := m.GroupByName(name); g != nil && len(g.Captures) > 0 {
			return offs[g.Index], offs[g.Index+g.Length]
		}
	}
	return offs[m.Index], offs[m.Index+m.Length]
}

// byteOffsets maps rune positions of s to byte positions, with one extra
// entry for the end of the string.
func byteOffsets(s string) []int {
	offs := make([]int, 0, len(s)+1)
	for i := range s {
		offs = append(offs, i)
	}
	return append(offs, len(s))
}

// concat returns a pattern list holding both p and q.
func (p Patterns) concat(q Patterns) Patterns {
	if q.Len() == 0 {
		return p
	}
	if p.Len() == 0 {
		return q
	}
	return Patterns{
		raw: append(slices.Clone(p.raw), q.raw...),
		res: append(slices.Clone(p.res), q.res...),
	}
}
