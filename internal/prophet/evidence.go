package prophet

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
)

// Evidence is a piece of text an extractor picked and where it sits.
type Evidence struct {
	Element int
	Text    string
	Boxes   []answer.BoxRef
}

// Instance maps a column to its evidence. A leaf config has one column
// named after the leaf; a group config has one per member.
type Instance map[string][]Evidence

func (in Instance) empty() bool {
	for _, ev := range in {
		if len(ev) > 0 {
			return false
		}
	}
	return true
}

// cleanText drops whitespace. offs[i] is the rune offset in s of the i-th
// rune of the cleaned text.
func cleanText(s string) (string, []int) {
	var sb strings.Builder
	offs := make([]int, 0, len(s))
	i := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			sb.WriteRune(r)
			offs = append(offs, i)
		}
		i++
	}
	return sb.String(), offs
}

func clean(s string) string {
	c, _ := cleanText(s)
	return c
}

// runeSpan converts a byte span of s to a rune span.
func runeSpan(s string, start, end int) (int, int) {
	rs := utf8.RuneCountInString(s[:start])
	return rs, rs + utf8.RuneCountInString(s[start:end])
}

// matchText matches p against the cleaned text and returns the rune span
// in the original text.
func matchText(p Patterns, text string, groups ...string) (int, int, bool) {
	c, offs := cleanText(text)
	bs, be, ok := p.Find(c, groups...)
	if !ok {
		return 0, 0, false
	}
	rs, re := runeSpan(c, bs, be)
	if re <= rs {
		return 0, 0, false
	}
	return offs[rs], offs[re-1] + 1, true
}

// matchAllText is matchText for every match.
func matchAllText(p Patterns, text string, groups ...string) [][2]int {
	c, offs := cleanText(text)
	var out [][2]int
	for _, sp := range p.FindAll(c, groups...) {
		rs, re := runeSpan(c, sp[0], sp[1])
		if re > rs {
			out = append(out, [2]int{offs[rs], offs[re-1] + 1})
		}
	}
	return out
}

// elementEvidence takes the whole element.
func elementEvidence(e *interdoc.Element) Evidence {
	ev := Evidence{Element: e.Index, Text: e.PlainText()}
	pages := e.Pages
	if len(pages) == 0 {
		pages = []int{e.Page}
	}
	for _, page := range pages {
		for _, o := range e.RectsOn(page) {
			ev.Boxes = append(ev.Boxes, boxRef(page, o, ""))
		}
	}
	if len(ev.Boxes) > 0 {
		ev.Boxes[0].Text = ev.Text
	}
	return ev
}

// spanEvidence takes runes [start, end) of a paragraph.
func spanEvidence(e *interdoc.Element, start, end int) Evidence {
	return charsEvidence(e, e.Page, e.Outline, e.Text, e.Chars, start, end)
}

// cellEvidence takes runes [start, end) of a table cell. A negative end
// takes the whole cell.
func cellEvidence(e *interdoc.Element, c interdoc.Cell, start, end int) Evidence {
	if end < 0 {
		end = utf8.RuneCountInString(c.Text)
	}
	return charsEvidence(e, pageOf(e, c.Box), c.Box, c.Text, c.Chars, start, end)
}

// charsEvidence builds one box per page from the chars of the span. When
// the chars do not line up with the text the fallback outline is used.
func charsEvidence(e *interdoc.Element, page int, fallback interdoc.Outline, text string, chars []interdoc.Char, start, end int) Evidence {
	runes := []rune(text)
	start = max(0, min(start, len(runes)))
	end = max(start, min(end, len(runes)))
	ev := Evidence{Element: e.Index, Text: string(runes[start:end])}

	if len(chars) != len(runes) {
		ev.Boxes = []answer.BoxRef{boxRef(page, fallback, ev.Text)}
		return ev
	}
	var union interdoc.Outline
	seen := false
	for _, ch := range chars[start:end] {
		if !seen {
			union, seen = ch.Box, true
			continue
		}
		union = interdoc.Outline{
			min(union[0], ch.Box[0]), min(union[1], ch.Box[1]),
			max(union[2], ch.Box[2]), max(union[3], ch.Box[3]),
		}
	}
	if !seen {
		union = fallback
	}
	ev.Boxes = []answer.BoxRef{boxRef(page, union, ev.Text)}
	return ev
}

func boxRef(page int, o interdoc.Outline, text string) answer.BoxRef {
	return answer.BoxRef{
		Page: page,
		Text: text,
		Box:  answer.Box{Left: o[0], Top: o[1], Right: o[2], Bottom: o[3]},
	}
}

// pageOf finds the page of a cell of a possibly multi-page table.
func pageOf(e *interdoc.Element, box interdoc.Outline) int {
	for _, page := range e.Pages {
		for _, o := range e.RectsOn(page) {
			if box.CenterIn(o) {
				return page
			}
		}
	}
	return e.Page
}

// joinEvidence concatenates evidence into one piece.
func joinEvidence(evs []Evidence) Evidence {
	if len(evs) == 0 {
		return Evidence{}
	}
	out := Evidence{Element: evs[0].Element}
	texts := make([]string, 0, len(evs))
	for _, ev := range evs {
		texts = append(texts, ev.Text)
		out.Boxes = append(out.Boxes, ev.Boxes...)
	}
	out.Text = strings.Join(texts, "")
	return out
}

// splitEvidence cuts ev at every separator match. Pieces keep the box of
// the source.
func splitEvidence(ev Evidence, sep Patterns) []Evidence {
	spans := matchAllText(sep, ev.Text)
	if len(spans) == 0 {
		return []Evidence{ev}
	}
	runes := []rune(ev.Text)
	var out []Evidence
	from := 0
	for _, sp := range append(spans, [2]int{len(runes), len(runes)}) {
		piece := strings.TrimSpace(string(runes[from:sp[0]]))
		from = sp[1]
		if piece == "" {
			continue
		}
		boxes := make([]answer.BoxRef, len(ev.Boxes))
		copy(boxes, ev.Boxes)
		for i := range boxes {
			boxes[i].Text = ""
		}
		if len(boxes) > 0 {
			boxes[0].Text = piece
		}
		out = append(out, Evidence{Element: ev.Element, Text: piece, Boxes: boxes})
	}
	return out
}
