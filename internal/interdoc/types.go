package interdoc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Class is the element family of an indexed element.
type Class string

const (
	ClassParagraph   Class = "PARAGRAPH"
	ClassTable       Class = "TABLE"
	ClassSyllabus    Class = "SYLLABUS"
	ClassPageHeader  Class = "PAGE_HEADER"
	ClassPageFooter  Class = "PAGE_FOOTER"
	ClassShape       Class = "SHAPE"
	ClassImage       Class = "IMAGE"
	ClassFootnote    Class = "FOOTNOTE"
	ClassInfographic Class = "INFOGRAPHIC"
	ClassStamp       Class = "STAMP"
	ClassCaption     Class = "CAPTION"
)

// Outline is a rectangle as [left, top, right, bottom] in page space.
type Outline [4]float64

// CenterIn reports whether the center of o lies inside other.
func (o Outline) CenterIn(other Outline) bool {
	h := (o[0] + o[2]) / 2
	v := (o[1] + o[3]) / 2
	return other[0] <= h && h <= other[2] && other[1] <= v && v <= other[3]
}

// Overlaps reports whether o and other share any area.
func (o Outline) Overlaps(other Outline) bool {
	return o[0] < other[2] && other[0] < o[2] && o[1] < other[3] && other[1] < o[3]
}

// Char is one glyph with its box.
type Char struct {
	Text string  `json:"text"`
	Box  Outline `json:"box"`
}

// Page holds the geometry of one page.
type Page struct {
	Page   int            `json:"page"`
	Width  float64        `json:"width"`
	Height float64        `json:"height"`
	Rotate float64        `json:"rotate"`
	Texts  []Char         `json:"texts,omitempty"`
	Statis map[string]any `json:"statis,omitempty"`
}

// OCR reports whether the page was recognised by OCR.
func (p Page) OCR() bool {
	v, _ := p.Statis["ocr"].(bool)
	return v
}

// Cell is one table cell.
type Cell struct {
	Text  string  `json:"text"`
	Box   Outline `json:"box"`
	Chars []Char  `json:"chars,omitempty"`
	Dummy bool    `json:"dummy,omitempty"`
}

// CellKey formats the "row_col" key used by table cell maps.
func CellKey(row, col int) string {
	return strconv.Itoa(row) + "_" + strconv.Itoa(col)
}

// ParseCellKey splits a "row_col" key.
func ParseCellKey(key string) (row, col int, err error) {
	r, c, ok := strings.Cut(key, "_")
	if !ok {
		return 0, 0, fmt.Errorf("%w: cell key %q", ErrInvalidInterdoc, key)
	}
	if row, err = strconv.Atoi(r); err != nil {
		return 0, 0, fmt.Errorf("%w: cell key %q", ErrInvalidInterdoc, key)
	}
	if col, err = strconv.Atoi(c); err != nil {
		return 0, 0, fmt.Errorf("%w: cell key %q", ErrInvalidInterdoc, key)
	}
	return row, col, nil
}

// PageMergedParagraph links the fragments of a paragraph broken by a page
// boundary.
type PageMergedParagraph struct {
	ParagraphIndices []int  `json:"paragraph_indices"`
	Text             string `json:"text,omitempty"`
}

// Element is a paragraph, table or any other indexed block.
type Element struct {
	Index   int     `json:"index"`
	Page    int     `json:"page"`
	Outline Outline `json:"outline"`
	Class   Class   `json:"class,omitempty"`
	Text    string  `json:"text,omitempty"`
	Chars   []Char  `json:"chars,omitempty"`

	Cells         map[string]Cell `json:"cells,omitempty"`
	Merged        [][][2]int      `json:"merged,omitempty"`
	Grid          json.RawMessage `json:"grid,omitempty"`
	ComboTableIdx *int            `json:"combo_table_idx,omitempty"`

	PageMergedParagraph *PageMergedParagraph `json:"page_merged_paragraph,omitempty"`

	// Pages and Rects are filled by Normalize. A merged element spans
	// every page of its fragments.
	Pages []int             `json:"pages,omitempty"`
	Rects map[int][]Outline `json:"rects,omitempty"`

	OriginCells  map[string]Cell `json:"origin_cells,omitempty"`
	OriginMerged [][][2]int      `json:"origin_merged,omitempty"`
}

// PlainText returns the paragraph text, or the cell texts of a table
// joined row by row.
func (e *Element) PlainText() string {
	if e.Class != ClassTable || len(e.Cells) == 0 {
		return e.Text
	}
	rows := e.Rows()
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		texts := make([]string, 0, len(row))
		for _, c := range row {
			texts = append(texts, c.Text)
		}
		lines = append(lines, strings.Join(texts, "\t"))
	}
	return strings.Join(lines, "\n")
}

// Rows groups the cells of a table by row in row-column order. Malformed
// keys are skipped.
func (e *Element) Rows() [][]Cell {
	maxRow, maxCol := -1, -1
	type pos struct{ r, c int }
	cells := make(map[pos]Cell, len(e.Cells))
	for k, c := range e.Cells {
		r, col, err := ParseCellKey(k)
		if err != nil {
			continue
		}
		cells[pos{r, col}] = c
		maxRow = max(maxRow, r)
		maxCol = max(maxCol, col)
	}
	out := make([][]Cell, 0, maxRow+1)
	for r := 0; r <= maxRow; r++ {
		var row []Cell
		for c := 0; c <= maxCol; c++ {
			if cell, ok := cells[pos{r, c}]; ok {
				row = append(row, cell)
			}
		}
		out = append(out, row)
	}
	return out
}

// Syllabus is one node of the document outline. Range is the half-open
// element index interval covered by the section.
type Syllabus struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Level    int    `json:"level"`
	Parent   int    `json:"parent"`
	Children []int  `json:"children,omitempty"`
	Element  int    `json:"element"`
	Range    [2]int `json:"range"`
}

// Covers reports whether the section contains element index.
func (s Syllabus) Covers(index int) bool {
	return s.Range[0] <= index && index < s.Range[1]
}

// CellRef points at a cell of a source table.
type CellRef struct {
	Table int
	Key   string
}

func (r *CellRef) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("%w: cell ref %s", ErrInvalidInterdoc, b)
	}
	if err := json.Unmarshal(raw[0], &r.Table); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &r.Key)
}

func (r CellRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Table, r.Key})
}

// ComboTable describes one logical table split over several source tables.
// Cells maps a logical cell key to its source cells in reading order.
type ComboTable struct {
	TableIndices []int                `json:"table_indices"`
	Cells        map[string][]CellRef `json:"cells"`
	MergedGrid   json.RawMessage      `json:"merged_grid,omitempty"`
	Merged       [][][2]int           `json:"merged,omitempty"`
}

// Interdoc is the parsed document.
type Interdoc struct {
	ID           any             `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	ModelVersion string          `json:"model_version,omitempty"`
	Pages        map[string]Page `json:"pages"`

	Paragraphs   []Element    `json:"paragraphs"`
	Tables       []Element    `json:"tables"`
	Captions     []Element    `json:"captions,omitempty"`
	PageHeaders  []Element    `json:"page_headers,omitempty"`
	PageFooters  []Element    `json:"page_footers,omitempty"`
	Shapes       []Element    `json:"shapes,omitempty"`
	Images       []Element    `json:"images,omitempty"`
	Footnotes    []Element    `json:"footnotes,omitempty"`
	Infographics []Element    `json:"infographics,omitempty"`
	Stamps       []Element    `json:"stamps,omitempty"`
	Syllabuses   []Syllabus   `json:"syllabuses"`
	ComboTables  []ComboTable `json:"combo_tables,omitempty"`
}

// families lists every element slice with the class it carries.
func (d *Interdoc) families() []struct {
	class Class
	elems *[]Element
} {
	return []struct {
		class Class
		elems *[]Element
	}{
		{ClassParagraph, &d.Paragraphs},
		{ClassTable, &d.Tables},
		{ClassCaption, &d.Captions},
		{ClassPageHeader, &d.PageHeaders},
		{ClassPageFooter, &d.PageFooters},
		{ClassShape, &d.Shapes},
		{ClassImage, &d.Images},
		{ClassFootnote, &d.Footnotes},
		{ClassInfographic, &d.Infographics},
		{ClassStamp, &d.Stamps},
	}
}
