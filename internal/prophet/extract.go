package prophet

import (
	"slices"
	"strings"

	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/prompter"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

const (
	topAnchorPages    = 5
	bottomAnchorPages = 15
)

// runCtx is what a model sees while predicting one path config.
type runCtx struct {
	reader     *interdoc.Reader
	data       *schema.Data
	config     *PathConfig
	columns    []string
	candidates []prompter.Candidate
	model      *PathModel
	// after is the first element a dependent path may use, or -1.
	after int
}

// elements returns the candidate elements of the given classes in
// candidate order. Without candidates every element of those classes is
// returned in document order.
func (rc *runCtx) elements(classes ...interdoc.Class) []*interdoc.Element {
	if len(rc.candidates) == 0 {
		return rc.usable(rc.reader.Elements(classes...))
	}
	var out []*interdoc.Element
	seen := map[int]bool{}
	for _, c := range rc.candidates {
		e, ok := rc.reader.Element(c.Index)
		if !ok || seen[e.Index] || !slices.Contains(classes, e.Class) {
			continue
		}
		seen[e.Index] = true
		out = append(out, e)
	}
	return rc.usable(out)
}

func (rc *runCtx) usable(elems []*interdoc.Element) []*interdoc.Element {
	out := make([]*interdoc.Element, 0, len(elems))
	for _, e := range elems {
		if rc.reader.IsFragment(e.Index) || e.Index < rc.after {
			continue
		}
		out = append(out, e)
	}
	return out
}

// inSections keeps elements inside a section whose title matches regs.
func (rc *runCtx) inSections(elems []*interdoc.Element, regs Patterns) []*interdoc.Element {
	if regs.Len() == 0 {
		return elems
	}
	return slices.DeleteFunc(slices.Clone(elems), func(e *interdoc.Element) bool {
		for _, s := range rc.reader.SyllabusPath(e.Index) {
			if regs.Match(clean(s.Title)) {
				return false
			}
		}
		return true
	})
}

// anchored reports whether one of the cnt elements before e matches regs.
func (rc *runCtx) anchored(e *interdoc.Element, regs Patterns, cnt int) bool {
	for _, prev := range rc.reader.Near(e.Index, -1, cnt, cnt*2) {
		if regs.Match(clean(prev.PlainText())) {
			return true
		}
	}
	return false
}

// title returns the paragraph right above e.
func (rc *runCtx) title(e *interdoc.Element) string {
	if prev := rc.reader.Near(e.Index, -1, 1, 3, interdoc.ClassParagraph); len(prev) > 0 {
		return clean(prev[0].Text)
	}
	return ""
}

// each runs fn over elems and collects its instances. Unless all is set
// it stops at the first element that yields something.
func each(elems []*interdoc.Element, all bool, fn func(e *interdoc.Element) []Instance) []Instance {
	var out []Instance
	for _, e := range elems {
		for _, in := range fn(e) {
			if !in.empty() {
				out = append(out, in)
			}
		}
		if len(out) > 0 && !all {
			break
		}
	}
	return out
}

// single wraps a possibly empty instance.
func single(in Instance) []Instance {
	if in.empty() {
		return nil
	}
	return []Instance{in}
}

// spread turns per-column evidence into instances: one holding everything,
// or one per position when multi is set.
func spread(cols map[string][]Evidence, multi bool) []Instance {
	if !multi {
		in := Instance{}
		for col, evs := range cols {
			if len(evs) > 0 {
				in[col] = evs
			}
		}
		return single(in)
	}
	var out []Instance
	for col, evs := range cols {
		for i, ev := range evs {
			for len(out) <= i {
				out = append(out, Instance{})
			}
			out[i][col] = []Evidence{ev}
		}
	}
	return out
}

func firstOrAll(evs []Evidence, multi bool) []Evidence {
	if !multi && len(evs) > 1 {
		return evs[:1]
	}
	return evs
}

// paraSpans finds evidence in a paragraph: explicit regexes first, then
// learned boundaries, then learned answers when useAnswers is set.
func paraSpans(e *interdoc.Element, regs Patterns, f *ColumnFeatures, useAnswers, multi bool) []Evidence {
	var evs []Evidence
	if regs.Len() > 0 {
		for _, sp := range matchAllText(regs, e.Text, "dst", "content") {
			evs = append(evs, spanEvidence(e, sp[0], sp[1]))
		}
		return firstOrAll(evs, multi)
	}
	if f == nil {
		return nil
	}
	if s, end, ok := boundaryMatch(e.Text, f.Left.patterns(), f.Right.patterns()); ok {
		return []Evidence{spanEvidence(e, s, end)}
	}
	if useAnswers {
		for _, sp := range matchAllText(f.Answers.patterns(), e.Text) {
			evs = append(evs, spanEvidence(e, sp[0], sp[1]))
		}
	}
	return firstOrAll(evs, multi)
}

// boundaryMatch returns the rune span between the end of a left match and
// the start of the next right match. A missing right match runs to the end
// of the text.
func boundaryMatch(text string, left, right Patterns) (int, int, bool) {
	if left.Len() == 0 {
		return 0, 0, false
	}
	c, offs := cleanText(text)
	_, start, ok := left.Find(c)
	if !ok || start >= len(c) {
		return 0, 0, false
	}
	end := len(c)
	if s, _, ok := right.Find(c[start:]); ok && s > 0 {
		end = start + s
	}
	rs, re := runeSpan(c, start, end)
	if re <= rs {
		return 0, 0, false
	}
	return offs[rs], offs[re-1] + 1, true
}

// cellSpans finds evidence in table cells: explicit regexes first, then
// learned keys, then learned column headers.
func cellSpans(e *interdoc.Element, regs Patterns, f *ColumnFeatures, multi bool) []Evidence {
	rows := e.Rows()
	var evs []Evidence
	if regs.Len() > 0 {
		for _, row := range rows {
			for _, cell := range row {
				if cell.Dummy {
					continue
				}
				if s, end, ok := matchText(regs, cell.Text, "dst", "content"); ok {
					evs = append(evs, cellEvidence(e, cell, s, end))
				}
			}
		}
		return firstOrAll(evs, multi)
	}
	if f == nil {
		return nil
	}
	if keys := f.Keys.patterns(); keys.Len() > 0 {
		for _, row := range rows {
			for c := 1; c < len(row); c++ {
				if keys.Match(clean(row[c-1].Text)) && strings.TrimSpace(row[c].Text) != "" {
					evs = append(evs, cellEvidence(e, row[c], 0, -1))
				}
			}
		}
	}
	if len(evs) == 0 && len(rows) > 1 {
		if hc, ok := headerColumn(rows[:1], f.ColHeaders.patterns()); ok {
			evs = columnCells(e, rows[1:], hc)
		}
	}
	return firstOrAll(evs, multi)
}

// headerColumn returns the column of the first header cell matching p.
func headerColumn(rows [][]interdoc.Cell, p Patterns) (int, bool) {
	if p.Len() == 0 {
		return 0, false
	}
	for _, row := range rows {
		for c, cell := range row {
			if p.Match(clean(cell.Text)) {
				return c, true
			}
		}
	}
	return 0, false
}

func columnCells(e *interdoc.Element, rows [][]interdoc.Cell, col int) []Evidence {
	var evs []Evidence
	for _, row := range rows {
		if col < len(row) && !row[col].Dummy && strings.TrimSpace(row[col].Text) != "" {
			evs = append(evs, cellEvidence(e, row[col], 0, -1))
		}
	}
	return evs
}

func (a *Auto) predict(rc *runCtx) []Instance {
	elems := rc.inSections(rc.elements(interdoc.ClassParagraph, interdoc.ClassTable), a.SyllabusRegs)
	return each(elems, a.MultiElements, func(e *interdoc.Element) []Instance {
		if a.AnchorRegs.Len() > 0 && !rc.anchored(e, a.AnchorRegs, a.CntOfAnchorElts) {
			return nil
		}
		in := Instance{}
		for _, col := range rc.columns {
			regs := a.patterns(col, "custom_regs", a.CustomRegs.For(col))
			f := rc.model.column(col)
			if e.Class == interdoc.ClassTable {
				in[col] = cellSpans(e, regs, f, a.Multi)
			} else {
				in[col] = paraSpans(e, regs, f, a.UseAnswerPattern, a.Multi)
			}
		}
		return single(in)
	})
}

func (p *PartialText) predict(rc *runCtx) []Instance {
	elems := rc.inSections(rc.elements(interdoc.ClassParagraph), p.SyllabusRegs)
	return each(elems, p.MultiElements, func(e *interdoc.Element) []Instance {
		if p.NeglectPatterns.Match(clean(e.Text)) {
			return nil
		}
		in := Instance{}
		for _, col := range rc.columns {
			f := rc.model.column(col)
			if f == nil {
				continue
			}
			evs := paraSpans(e, Patterns{}, f, p.UseAnswerPattern, p.Multi)
			neglect := p.patterns(col, "neglect_answer_patterns", p.NeglectAnswerPatterns)
			in[col] = slices.DeleteFunc(evs, func(ev Evidence) bool { return neglect.Match(clean(ev.Text)) })
		}
		return single(in)
	})
}

func (c *CellPartialText) predict(rc *runCtx) []Instance {
	elems := rc.inSections(rc.elements(interdoc.ClassTable), c.SyllabusRegs)
	return each(elems, c.MultiElements, func(e *interdoc.Element) []Instance {
		in := Instance{}
		for _, col := range rc.columns {
			regs := c.patterns(col, "regs", c.Regs)
			f := rc.model.column(col)
			if regs.Len() > 0 || f == nil {
				in[col] = cellSpans(e, regs, nil, c.Multi)
				continue
			}
			rows := e.Rows()
			headers := rows[:min(1, len(rows))]
			if c.WidthFromAllRows {
				headers = rows
			}
			var evs []Evidence
			if hc, ok := headerColumn(headers, f.ColHeaders.patterns()); ok && len(rows) > 1 {
				evs = columnCells(e, rows[1:], hc)
			}
			if len(evs) == 0 {
				evs = rowCells(e, rows, f.RowHeaders.patterns())
			}
			in[col] = firstOrAll(evs, c.Multi)
		}
		return single(in)
	})
}

// rowCells takes the non-empty cells after a row header matching p.
func rowCells(e *interdoc.Element, rows [][]interdoc.Cell, p Patterns) []Evidence {
	if p.Len() == 0 {
		return nil
	}
	var evs []Evidence
	for _, row := range rows {
		if len(row) < 2 || !p.Match(clean(row[0].Text)) {
			continue
		}
		for _, cell := range row[1:] {
			if !cell.Dummy && strings.TrimSpace(cell.Text) != "" {
				evs = append(evs, cellEvidence(e, cell, 0, -1))
			}
		}
	}
	return evs
}

func (s *ScoreFilter) predict(rc *runCtx) []Instance {
	aims := []interdoc.Class{interdoc.ClassParagraph, interdoc.ClassTable}
	if len(s.AimTypes) > 0 {
		aims = aims[:0]
		for _, t := range s.AimTypes {
			aims = append(aims, interdoc.Class(t))
		}
	}
	var picked []prompter.Candidate
	for _, c := range rc.candidates {
		if c.Score >= s.Threshold && slices.Contains(aims, c.Class) && c.Index >= rc.after {
			picked = append(picked, c)
		}
	}
	if s.SortByIndex {
		slices.SortStableFunc(picked, func(a, b prompter.Candidate) int { return a.Index - b.Index })
	}
	if !s.Multi && len(picked) > 1 {
		picked = picked[:1]
	}
	in := Instance{}
	for _, c := range picked {
		e, ok := rc.reader.Element(c.Index)
		if !ok {
			continue
		}
		ev := elementEvidence(e)
		for _, col := range rc.columns {
			in[col] = append(in[col], ev)
		}
	}
	return single(in)
}

func (s *SyllabusElt) predict(rc *runCtx) []Instance {
	cols := map[string][]Evidence{}
	for _, col := range rc.columns {
		pats := s.patterns(col, "inject_custom_patterns", s.InjectCustomPatterns)
		if f := rc.model.column(col); f != nil {
			pats = pats.concat(f.Syllabus.patterns())
		}
		if pats.Len() == 0 {
			continue
		}
		sections := rc.reader.FindSyllabuses(pats.res)
		if s.OnlyFirst && len(sections) > 1 {
			sections = sections[:1]
		}
		for _, sec := range sections {
			var evs []Evidence
			if s.IncludeTitle {
				if e, ok := rc.reader.Element(sec.Element); ok {
					evs = append(evs, elementEvidence(e))
				}
			}
			for _, e := range rc.reader.ElementsBySyllabus(sec, interdoc.ClassParagraph, interdoc.ClassTable) {
				if e.Index != sec.Element {
					evs = append(evs, elementEvidence(e))
				}
			}
			if len(evs) > 0 {
				cols[col] = append(cols[col], joinSection(evs))
			}
		}
		cols[col] = firstOrAll(cols[col], s.Multi)
	}
	return spread(cols, s.Multi)
}

// joinSection keeps the element boxes of a section as one piece of
// evidence with newline separated text.
func joinSection(evs []Evidence) Evidence {
	out := joinEvidence(evs)
	texts := make([]string, 0, len(evs))
	for _, ev := range evs {
		texts = append(texts, ev.Text)
	}
	out.Text = strings.Join(texts, "\n")
	return out
}

type kvPair struct {
	key, value interdoc.Cell
}

func kvPairs(rows [][]interdoc.Cell, directions []string) []kvPair {
	if len(directions) == 0 {
		directions = []string{directionLeftRight}
	}
	var out []kvPair
	for _, dir := range directions {
		switch dir {
		case directionLeftRight:
			for _, row := range rows {
				for c := 0; c+1 < len(row); c += 2 {
					out = append(out, kvPair{row[c], row[c+1]})
				}
			}
		case directionUpDown:
			for r := 0; r+1 < len(rows); r += 2 {
				for c := 0; c < len(rows[r]) && c < len(rows[r+1]); c++ {
					out = append(out, kvPair{rows[r][c], rows[r+1][c]})
				}
			}
		}
	}
	return out
}

func (t *TableKV) predict(rc *runCtx) []Instance {
	return each(rc.elements(interdoc.ClassTable), t.MultiElements, func(e *interdoc.Element) []Instance {
		keys := map[string]Patterns{}
		for _, col := range rc.columns {
			p := t.patterns(col, "regs", t.Regs)
			if p.Len() == 0 {
				if f := rc.model.column(col); f != nil {
					p = f.Keys.patterns()
				}
				p = p.concat(QuotedPatterns(col))
			}
			keys[col] = p
		}
		used := map[interdoc.Outline]bool{}
		out := []Instance{{}}
		for _, pair := range kvPairs(e.Rows(), t.KVDirections) {
			key := clean(pair.key.Text)
			if key == "" || t.NeglectRegs.Match(key) {
				continue
			}
			if pair.value.Dummy && !t.KeepDummy {
				continue
			}
			if strings.TrimSpace(pair.value.Text) == "" || (t.DeduplicateByCell && used[pair.value.Box]) {
				continue
			}
			for _, col := range rc.columns {
				if !keys[col].Match(key) {
					continue
				}
				cur := out[len(out)-1]
				if len(cur[col]) > 0 && slices.Contains(t.SubPrimaryKey, col) {
					cur = Instance{}
					out = append(out, cur)
				}
				if len(cur[col]) > 0 && !t.Multi {
					continue
				}
				cur[col] = append(cur[col], cellEvidence(e, pair.value, 0, -1))
				used[pair.value.Box] = true
				break
			}
		}
		return out
	})
}

func (t *TableRow) predict(rc *runCtx) []Instance {
	return each(rc.elements(interdoc.ClassTable), t.MultiElements, func(e *interdoc.Element) []Instance {
		if t.NeglectTitlePatterns.Len() > 0 && t.NeglectTitlePatterns.Match(rc.title(e)) {
			return nil
		}
		rows := e.Rows()
		if len(rows) < 2 {
			return nil
		}
		colIdx := map[string]int{}
		for _, col := range rc.columns {
			p := t.patterns(col, "regs", Patterns{})
			if p.Len() == 0 {
				if f := rc.model.column(col); f != nil {
					p = f.ColHeaders.patterns(t.FeatureBlackList...)
				}
				p = p.concat(QuotedPatterns(col))
			}
			for c, h := range rows[0] {
				text := clean(h.Text)
				if t.NeglectColHeaderRegs.Match(text) {
					continue
				}
				if p.Match(text) {
					colIdx[col] = c
					break
				}
			}
		}
		if len(colIdx) == 0 {
			return nil
		}
		var out []Instance
		for _, row := range rows[1:] {
			if len(row) > 0 && t.NeglectRowHeaderRegs.Match(clean(row[0].Text)) {
				continue
			}
			texts := make([]string, 0, len(row))
			for _, cell := range row {
				texts = append(texts, cell.Text)
			}
			if t.NeglectPatterns.Match(clean(strings.Join(texts, ""))) {
				continue
			}
			in := Instance{}
			for col, c := range colIdx {
				if c < len(row) && !row[c].Dummy && strings.TrimSpace(row[c].Text) != "" {
					in[col] = []Evidence{cellEvidence(e, row[c], 0, -1)}
				}
			}
			if !in.empty() {
				out = append(out, in)
			}
			if !t.Multi && len(out) > 0 {
				break
			}
		}
		return out
	})
}

func (t *TableTuple) predict(rc *runCtx) []Instance {
	return each(rc.elements(interdoc.ClassTable), t.MultiElements, func(e *interdoc.Element) []Instance {
		title := rc.title(e)
		if t.TitlePatterns.Len() > 0 && !t.TitlePatterns.Match(title) {
			return nil
		}
		if t.NeglectTitlePatterns.Len() > 0 && t.NeglectTitlePatterns.Match(title) {
			return nil
		}
		rows := e.Rows()
		if len(rows) < 2 {
			return nil
		}
		in := Instance{}
		for _, col := range rc.columns {
			f := rc.model.column(col)
			if f == nil {
				continue
			}
			tuples := f.Tuples.Top(0)
			for _, row := range rows[1:] {
				for c := 1; c < len(row) && c < len(rows[0]); c++ {
					if !slices.Contains(tuples, tupleKey(row[0].Text, rows[0][c].Text)) || row[c].Dummy {
						continue
					}
					in[col] = append(in[col], cellEvidence(e, row[c], 0, -1))
				}
			}
			in[col] = firstOrAll(in[col], t.Multi)
		}
		return single(in)
	})
}

// pick resolves 1-based positions against list. Zero is the first entry
// and negative positions count from the end.
func pick[T any](list []T, positions []int) []T {
	var out []T
	for _, p := range positions {
		i := p
		switch {
		case p > 0:
			i = p - 1
		case p < 0:
			i = len(list) + p
		}
		if i >= 0 && i < len(list) {
			out = append(out, list[i])
		}
	}
	return out
}

func (f *FixedPosition) predict(rc *runCtx) []Instance {
	elems := rc.usable(rc.reader.Elements(interdoc.ClassParagraph, interdoc.ClassTable))
	if len(f.pages) > 0 {
		var pages []int
		for _, e := range elems {
			if !slices.Contains(pages, e.Page) {
				pages = append(pages, e.Page)
			}
		}
		slices.Sort(pages)
		chosen := pick(pages, f.pages)
		elems = slices.DeleteFunc(elems, func(e *interdoc.Element) bool { return !slices.Contains(chosen, e.Page) })
	}
	if len(f.positions) > 0 {
		elems = pick(elems, f.positions)
	}
	cols := map[string][]Evidence{}
	for _, col := range rc.columns {
		regs := f.patterns(col, "regs", f.Regs)
		for _, e := range elems {
			switch {
			case regs.Len() == 0:
				cols[col] = append(cols[col], elementEvidence(e))
			case e.Class == interdoc.ClassTable:
				cols[col] = append(cols[col], cellSpans(e, regs, nil, true)...)
			default:
				if s, end, ok := matchText(regs, e.Text, "dst"); ok {
					cols[col] = append(cols[col], spanEvidence(e, s, end))
				}
			}
		}
		cols[col] = firstOrAll(cols[col], f.Multi)
	}
	return spread(cols, f.Multi && len(rc.columns) > 1)
}

func (m *MiddleParas) predict(rc *runCtx) []Instance {
	elems := rc.usable(rc.reader.Elements(interdoc.ClassParagraph, interdoc.ClassTable))
	if len(elems) == 0 {
		return nil
	}
	topRegs, bottomRegs := m.TopAnchorRegs, m.BottomAnchorRegs
	if topRegs.Len() == 0 && rc.model != nil {
		topRegs = rc.model.TopAnchors.patterns()
	}
	if bottomRegs.Len() == 0 && rc.model != nil {
		bottomRegs = rc.model.BottomAnchors.patterns()
	}

	top, topFound := -1, false
	for i, e := range elems {
		if e.Class != interdoc.ClassParagraph || !topRegs.Match(clean(e.Text)) {
			continue
		}
		if len(rc.candidates) > 0 && absInt(e.Page-rc.candidates[0].Page) > topAnchorPages {
			continue
		}
		top, topFound = i, true
		if m.TopGreed {
			break
		}
	}
	start := top + 1
	if topFound && m.IncludeTopAnchor {
		start = top
	}
	switch {
	case topFound:
	case m.UseTopCrudeNeighbor && len(rc.candidates) > 0:
		start = slices.IndexFunc(elems, func(e *interdoc.Element) bool { return e.Index == rc.candidates[0].Index })
	case m.UseSyllabusModel:
		if ev := m.fromSyllabus(rc); len(ev) > 0 {
			return spread(map[string][]Evidence{rc.columns[0]: {joinSection(ev)}}, false)
		}
		start = -1
	case m.TopDefault:
		start = 0
	default:
		start = -1
	}
	if start < 0 || start >= len(elems) {
		return nil
	}

	end := -1
	for j := max(start, top+1); j < len(elems); j++ {
		e := elems[j]
		if e.Page-elems[start].Page > bottomAnchorPages {
			break
		}
		if e.Class == interdoc.ClassParagraph && bottomRegs.Match(clean(e.Text)) {
			end = j
			if m.IncludeBottomAnchor {
				end = j + 1
			}
			break
		}
	}
	if end < 0 {
		if !m.BottomDefault {
			return nil
		}
		end = len(elems)
	}
	if end <= start {
		return nil
	}

	var evs []Evidence
	for i, e := range elems[start:end] {
		ev := elementEvidence(e)
		switch {
		case i == 0 && topFound && m.IncludeTopAnchor && m.TopAnchorContentRegs.Len() > 0:
			if s, en, ok := matchText(m.TopAnchorContentRegs, e.Text, "content"); ok {
				ev = spanEvidence(e, s, en)
			}
		case start+i == end-1 && m.IncludeBottomAnchor && m.BottomAnchorContentRegs.Len() > 0:
			if s, en, ok := matchText(m.BottomAnchorContentRegs, e.Text, "content"); ok {
				ev = spanEvidence(e, s, en)
			}
		}
		evs = append(evs, ev)
	}
	cols := map[string][]Evidence{}
	for _, col := range rc.columns {
		cols[col] = []Evidence{joinSection(evs)}
	}
	return spread(cols, false)
}

// fromSyllabus takes the section whose title was learned for the path.
// With KeepParent the title paragraph is kept too.
func (m *MiddleParas) fromSyllabus(rc *runCtx) []Evidence {
	if len(rc.columns) == 0 {
		return nil
	}
	f := rc.model.column(rc.columns[0])
	if f == nil {
		return nil
	}
	pats := f.Syllabus.patterns()
	if pats.Len() == 0 {
		return nil
	}
	sections := rc.reader.FindSyllabuses(pats.res)
	if len(sections) == 0 {
		return nil
	}
	sec := sections[0]
	var evs []Evidence
	for _, e := range rc.reader.ElementsBySyllabus(sec, interdoc.ClassParagraph, interdoc.ClassTable) {
		if e.Index == sec.Element && !m.KeepParent {
			continue
		}
		evs = append(evs, elementEvidence(e))
	}
	return evs
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (p *ParaMatch) predict(rc *runCtx) []Instance {
	var elems []*interdoc.Element
	if p.UseCrudeAnswer && len(rc.candidates) > 0 {
		elems = rc.elements(interdoc.ClassParagraph)
	} else {
		elems = rc.usable(rc.reader.Paragraphs())
	}
	lo, hi := min(p.IndexRange[0], len(elems)), min(p.IndexRange[1], len(elems))
	elems = elems[lo:hi]

	cols := map[string][]Evidence{}
	for _, col := range rc.columns {
		paraPat := p.patterns(col, "paragraph_pattern", p.ParagraphPattern)
		contentPat := p.patterns(col, "content_pattern", p.ContentPattern)
		anchorPat := p.patterns(col, "anchor_regs", p.AnchorRegs)
		var evs []Evidence
		for _, e := range elems {
			text := clean(e.Text)
			if paraPat.Len() > 0 && !paraPat.Match(text) {
				continue
			}
			var anchor *interdoc.Element
			if anchorPat.Len() > 0 {
				prev := rc.reader.Near(e.Index, -1, 1, 3, interdoc.ClassParagraph)
				if len(prev) == 0 || !anchorPat.Match(clean(prev[0].Text)) {
					continue
				}
				anchor = prev[0]
			}
			ev := spanEvidence(e, 0, len([]rune(e.Text)))
			if contentPat.Len() > 0 {
				s, end, ok := matchText(contentPat, e.Text, "content")
				if !ok {
					continue
				}
				ev = spanEvidence(e, s, end)
			}
			if anchor != nil && p.IncludeAnchor {
				evs = append(evs, elementEvidence(anchor))
			}
			evs = append(evs, ev)
			if !p.Multi && !p.CombineParagraphs && !p.MultiElements {
				break
			}
		}
		if p.CombineParagraphs && len(evs) > 1 {
			evs = []Evidence{joinEvidence(evs)}
		}
		if p.SplitPattern.Len() > 0 {
			var parts []Evidence
			for _, ev := range evs {
				parts = append(parts, splitEvidence(ev, p.SplitPattern)...)
			}
			evs = parts
		}
		cols[col] = evs
	}
	return spread(cols, p.Multi)
}

func (l *LLM) predict(*runCtx) []Instance { return nil }

func (c *ConfigInCode) predict(*runCtx) []Instance { return nil }
