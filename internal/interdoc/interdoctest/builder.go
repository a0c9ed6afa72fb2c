// Package interdoctest builds small interdocs for tests.
package interdoctest

import (
	"strconv"

	"github.com/fyrsmithlabs/extractd/internal/interdoc"
)

// Builder appends elements with consecutive indices. Every element sits
// on its own line of height 20 so outlines never overlap.
type Builder struct {
	doc  interdoc.Interdoc
	next int
	line map[int]int
}

// New starts an empty document.
func New() *Builder {
	return &Builder{doc: interdoc.Interdoc{Pages: map[string]interdoc.Page{}}, line: map[int]int{}}
}

func (b *Builder) outline(page int) interdoc.Outline {
	if _, ok := b.doc.Pages[itoa(page)]; !ok {
		b.doc.Pages[itoa(page)] = interdoc.Page{Page: page, Width: 600, Height: 800}
	}
	top := float64(b.line[page] * 20)
	b.line[page]++
	return interdoc.Outline{10, top, 590, top + 18}
}

// Index returns the index the next element will get.
func (b *Builder) Index() int { return b.next }

// Para appends a paragraph and returns its index.
func (b *Builder) Para(page int, text string) int {
	idx := b.next
	b.next++
	o := b.outline(page)
	b.doc.Paragraphs = append(b.doc.Paragraphs, interdoc.Element{
		Index: idx, Page: page, Outline: o, Class: interdoc.ClassParagraph, Text: text, Chars: chars(text, o),
	})
	return idx
}

// Table appends a table built from rows and returns its index.
func (b *Builder) Table(page int, rows [][]string) int {
	idx := b.next
	b.next++
	o := b.outline(page)
	cells := map[string]interdoc.Cell{}
	for r, row := range rows {
		for c, text := range row {
			box := interdoc.Outline{o[0] + float64(c*100), o[1], o[0] + float64(c*100+90), o[3]}
			cells[interdoc.CellKey(r, c)] = interdoc.Cell{Text: text, Box: box, Chars: chars(text, box)}
		}
	}
	b.doc.Tables = append(b.doc.Tables, interdoc.Element{
		Index: idx, Page: page, Outline: o, Class: interdoc.ClassTable, Cells: cells,
	})
	return idx
}

// Syllabus appends an outline node covering [from, to) and a paragraph
// holding its title. It returns the title paragraph index.
func (b *Builder) Syllabus(page int, title string, level, parent, from, to int) int {
	idx := b.Para(page, title)
	b.doc.Syllabuses = append(b.doc.Syllabuses, interdoc.Syllabus{
		Index:   len(b.doc.Syllabuses),
		Title:   title,
		Level:   level,
		Parent:  parent,
		Element: idx,
		Range:   [2]int{from, to},
	})
	return idx
}

// Doc returns the raw document.
func (b *Builder) Doc() *interdoc.Interdoc { return &b.doc }

// Reader normalizes the document and returns a reader. It panics on
// invalid input since builders are only used in tests.
func (b *Builder) Reader() *interdoc.Reader {
	r, err := interdoc.NewReader(&b.doc)
	if err != nil {
		panic(err)
	}
	return r
}

func chars(text string, o interdoc.Outline) []interdoc.Char {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	w := (o[2] - o[0]) / float64(len(runes))
	out := make([]interdoc.Char, len(runes))
	for i, r := range runes {
		left := o[0] + float64(i)*w
		out[i] = interdoc.Char{Text: string(r), Box: interdoc.Outline{left, o[1], left + w, o[3]}}
	}
	return out
}

func itoa(n int) string { return strconv.Itoa(n) }
