package interdoc

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
)

// Reader indexes a normalized interdoc for lookups by element index,
// page and outline section.
type Reader struct {
	doc        *Interdoc
	byIndex    map[int]*Element
	heads      map[int]int
	ordered    []*Element
	syllabuses []Syllabus
}

// NewReader normalizes d and builds its indexes.
func NewReader(d *Interdoc) (*Reader, error) {
	if err := Normalize(d); err != nil {
		return nil, err
	}
	r := &Reader{
		doc:     d,
		byIndex: map[int]*Element{},
		heads:   map[int]int{},
	}
	for _, fam := range d.families() {
		elems := *fam.elems
		for i := range elems {
			e := &elems[i]
			r.byIndex[e.Index] = e
			r.ordered = append(r.ordered, e)
			if m := e.PageMergedParagraph; m != nil {
				for _, pi := range m.ParagraphIndices {
					if pi != e.Index {
						r.heads[pi] = e.Index
					}
				}
			}
		}
	}
	slices.SortFunc(r.ordered, func(a, b *Element) int { return cmp.Compare(a.Index, b.Index) })
	r.syllabuses = slices.Clone(d.Syllabuses)
	slices.SortFunc(r.syllabuses, func(a, b Syllabus) int { return cmp.Compare(a.Index, b.Index) })
	return r, nil
}

// Doc returns the underlying document.
func (r *Reader) Doc() *Interdoc { return r.doc }

// Element returns the element with the given index. Fragments of a
// page-merged paragraph resolve to the merged paragraph.
func (r *Reader) Element(index int) (*Element, bool) {
	if head, ok := r.heads[index]; ok {
		index = head
	}
	e, ok := r.byIndex[index]
	return e, ok
}

// IsFragment reports whether index was folded into another paragraph.
func (r *Reader) IsFragment(index int) bool {
	_, ok := r.heads[index]
	return ok
}

// Elements returns the elements of the given classes in index order. No
// classes means every class.
func (r *Reader) Elements(classes ...Class) []*Element {
	out := make([]*Element, 0, len(r.ordered))
	for _, e := range r.ordered {
		if len(classes) == 0 || slices.Contains(classes, e.Class) {
			out = append(out, e)
		}
	}
	return out
}

// Paragraphs returns the paragraphs in index order.
func (r *Reader) Paragraphs() []*Element { return r.Elements(ClassParagraph) }

// Tables returns the tables in index order.
func (r *Reader) Tables() []*Element { return r.Elements(ClassTable) }

// Syllabuses returns the outline nodes ordered by index.
func (r *Reader) Syllabuses() []Syllabus { return r.syllabuses }

// Page returns the page with the given number.
func (r *Reader) Page(n int) (Page, bool) {
	if p, ok := r.doc.Pages[strconv.Itoa(n)]; ok {
		return p, true
	}
	for _, p := range r.doc.Pages {
		if p.Page == n {
			return p, true
		}
	}
	return Page{}, false
}

// PageCount returns the number of pages.
func (r *Reader) PageCount() int { return len(r.doc.Pages) }

// ElementsBySyllabus returns the elements inside the section range. The
// default class filter is paragraphs only; fragments are skipped.
func (r *Reader) ElementsBySyllabus(s Syllabus, classes ...Class) []*Element {
	if len(classes) == 0 {
		classes = []Class{ClassParagraph}
	}
	var out []*Element
	for idx := s.Range[0]; idx < s.Range[1]; idx++ {
		if r.IsFragment(idx) {
			continue
		}
		e, ok := r.byIndex[idx]
		if !ok || !slices.Contains(classes, e.Class) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// SyllabusPath returns the sections containing index, outermost first.
func (r *Reader) SyllabusPath(index int) []Syllabus {
	var out []Syllabus
	for _, s := range r.syllabuses {
		if s.Covers(index) {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b Syllabus) int {
		return cmp.Compare(b.Range[1]-b.Range[0], a.Range[1]-a.Range[0])
	})
	return out
}

// FindSyllabuses returns the sections whose title matches any pattern, in
// document order.
func (r *Reader) FindSyllabuses(patterns []*regexp.Regexp) []Syllabus {
	var out []Syllabus
	for _, s := range r.syllabuses {
		for _, re := range patterns {
			if re.MatchString(s.Title) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// ElementsAt returns the elements on page whose outline overlaps box,
// ordered by index.
func (r *Reader) ElementsAt(page int, box Outline) []*Element {
	var out []*Element
	for _, e := range r.ordered {
		for _, o := range e.RectsOn(page) {
			if o.Overlaps(box) || box.CenterIn(o) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Near walks from index in steps of step and returns up to amount
// elements of the given classes, looking at most limit positions away.
func (r *Reader) Near(index, step, amount, limit int, classes ...Class) []*Element {
	if step == 0 {
		return nil
	}
	var out []*Element
	for cursor := index + step; len(out) < amount; cursor += step {
		if diff := cursor - index; diff > limit || -diff > limit {
			break
		}
		if r.IsFragment(cursor) {
			continue
		}
		e, ok := r.byIndex[cursor]
		if ok && (len(classes) == 0 || slices.Contains(classes, e.Class)) {
			out = append(out, e)
		}
	}
	return out
}

// RectsOn returns the outlines the element occupies on page.
func (e *Element) RectsOn(page int) []Outline {
	if e.Rects != nil {
		return e.Rects[page]
	}
	if e.Page == page {
		return []Outline{e.Outline}
	}
	return nil
}
