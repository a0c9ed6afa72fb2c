package prophet

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

const (
	leftContext  = 6
	rightContext = 4
	topFeatures  = 5
	modelFile    = "model.json"
)

// Sample is one labeled document.
type Sample struct {
	Reader *interdoc.Reader
	Answer *answer.Answer
}

// Counter counts feature strings.
type Counter map[string]int

func (c Counter) add(s string) {
	if s = clean(s); s != "" {
		c[s]++
	}
}

// Top returns up to n entries by count, ties by text, skipping black.
func (c Counter) Top(n int, black ...string) []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		if !slices.Contains(black, k) {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b string) int {
		if d := cmp.Compare(c[b], c[a]); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func (c Counter) patterns(black ...string) Patterns {
	return QuotedPatterns(c.Top(topFeatures, black...)...)
}

// ColumnFeatures is what training learns about one column.
type ColumnFeatures struct {
	Left       Counter `json:"left,omitempty"`
	Right      Counter `json:"right,omitempty"`
	Answers    Counter `json:"answers,omitempty"`
	Syllabus   Counter `json:"syllabus,omitempty"`
	RowHeaders Counter `json:"row_headers,omitempty"`
	ColHeaders Counter `json:"col_headers,omitempty"`
	Keys       Counter `json:"keys,omitempty"`
	Tuples     Counter `json:"tuples,omitempty"`
}

func newColumnFeatures() *ColumnFeatures {
	return &ColumnFeatures{
		Left: Counter{}, Right: Counter{}, Answers: Counter{}, Syllabus: Counter{},
		RowHeaders: Counter{}, ColHeaders: Counter{}, Keys: Counter{}, Tuples: Counter{},
	}
}

// PathModel is the trained state of one path config.
type PathModel struct {
	Columns       map[string]*ColumnFeatures `json:"columns"`
	TopAnchors    Counter                    `json:"top_anchors,omitempty"`
	BottomAnchors Counter                    `json:"bottom_anchors,omitempty"`
}

func (m *PathModel) column(name string) *ColumnFeatures {
	if m == nil {
		return nil
	}
	return m.Columns[name]
}

// ModelData holds the trained state of every path config, keyed by
// PathConfig.Key.
type ModelData struct {
	Samples int                   `json:"samples"`
	Paths   map[string]*PathModel `json:"paths"`
}

// Path returns the model of pc, or nil.
func (md *ModelData) Path(pc *PathConfig) *PathModel {
	if md == nil {
		return nil
	}
	return md.Paths[pc.Key()]
}

// Train learns features for every path config with a trained kind.
// Output depends only on the inputs: samples are visited in order and
// features are ranked by count then text.
func Train(cfg *Config, d *schema.Data, samples []Sample) (*ModelData, error) {
	md := &ModelData{Samples: len(samples), Paths: map[string]*PathModel{}}
	for i := range cfg.Paths {
		pc := &cfg.Paths[i]
		if pc.JustShow || !slices.ContainsFunc(pc.Models, func(s Spec) bool { return s.Kind().Trained() }) {
			continue
		}
		m := &PathModel{Columns: map[string]*ColumnFeatures{}, TopAnchors: Counter{}, BottomAnchors: Counter{}}
		for _, col := range columnsOf(d, pc) {
			m.Columns[col] = newColumnFeatures()
		}
		labeled := 0
		for _, s := range samples {
			if s.Reader == nil || s.Answer == nil {
				continue
			}
			if learnSample(m, pc, s) {
				labeled++
			}
		}
		if labeled == 0 {
			return nil, fmt.Errorf("%w: no labeled sample for %s", ErrTrainingFailed, pc.Key())
		}
		md.Paths[pc.Key()] = m
	}
	return md, nil
}

// columnsOf lists the columns of pc: the member leaves of a group, or the
// leaf itself.
func columnsOf(d *schema.Data, pc *PathConfig) []string {
	root := d.Root()
	if root == nil {
		return nil
	}
	f, ok := schema.FieldAt(d, fieldPath(root.Name, pc.Path))
	if !ok {
		return nil
	}
	item, ok := d.Item(f.Type)
	if !ok {
		return []string{pc.Path[len(pc.Path)-1]}
	}
	var out []string
	for _, name := range item.Orders {
		if mf, ok := item.Field(name); ok && !d.IsComposite(mf.Type) {
			out = append(out, name)
		}
	}
	return out
}

// columnOf maps an item to a column of pc, or "".
func columnOf(pc *PathConfig, it *answer.Item) string {
	p, err := it.Path()
	if err != nil || len(p) < 2 {
		return ""
	}
	names := p.Names()[1:]
	switch {
	case slices.Equal(names, pc.Path):
		return pc.Path[len(pc.Path)-1]
	case len(names) == len(pc.Path)+1 && slices.Equal(names[:len(pc.Path)], pc.Path):
		return names[len(names)-1]
	}
	return ""
}

func learnSample(m *PathModel, pc *PathConfig, s Sample) bool {
	learned := false
	for i := range s.Answer.UserAnswer.Items {
		it := &s.Answer.UserAnswer.Items[i]
		col := columnOf(pc, it)
		f := m.Columns[col]
		if f == nil {
			continue
		}
		var first, last *interdoc.Element
		for _, datum := range it.Data {
			for _, b := range datum.Boxes {
				e := elementAt(s.Reader, b)
				if e == nil {
					continue
				}
				learnBox(s.Reader, f, e, b)
				if first == nil || e.Index < first.Index {
					first = e
				}
				if last == nil || e.Index > last.Index {
					last = e
				}
				learned = true
			}
		}
		if first != nil {
			if prev := s.Reader.Near(first.Index, -1, 1, 10, interdoc.ClassParagraph); len(prev) > 0 {
				m.TopAnchors.add(prev[0].Text)
			}
			if next := s.Reader.Near(last.Index, 1, 1, 10, interdoc.ClassParagraph); len(next) > 0 {
				m.BottomAnchors.add(next[0].Text)
			}
		}
	}
	return learned
}

func elementAt(r *interdoc.Reader, b answer.BoxRef) *interdoc.Element {
	box := interdoc.Outline{b.Box.Left, b.Box.Top, b.Box.Right, b.Box.Bottom}
	for _, e := range r.ElementsAt(b.Page, box) {
		if e.Class == interdoc.ClassParagraph || e.Class == interdoc.ClassTable {
			return e
		}
	}
	return nil
}

func learnBox(r *interdoc.Reader, f *ColumnFeatures, e *interdoc.Element, b answer.BoxRef) {
	if path := r.SyllabusPath(e.Index); len(path) > 0 {
		f.Syllabus.add(path[len(path)-1].Title)
	}
	if e.Class == interdoc.ClassTable {
		learnCell(f, e, b)
		return
	}
	text := clean(b.Text)
	if text == "" {
		return
	}
	f.Answers.add(text)
	body := clean(e.Text)
	at := strings.Index(body, text)
	if at < 0 {
		return
	}
	before := []rune(body[:at])
	f.Left.add(string(before[max(0, len(before)-leftContext):]))
	after := []rune(body[at+len(text):])
	f.Right.add(string(after[:min(len(after), rightContext)]))
}

func learnCell(f *ColumnFeatures, e *interdoc.Element, b answer.BoxRef) {
	box := interdoc.Outline{b.Box.Left, b.Box.Top, b.Box.Right, b.Box.Bottom}
	rows := e.Rows()
	for r, row := range rows {
		for c, cell := range row {
			if !cell.Box.CenterIn(box) && !box.CenterIn(cell.Box) {
				continue
			}
			f.Answers.add(cell.Text)
			if c > 0 {
				f.RowHeaders.add(row[0].Text)
				f.Keys.add(row[c-1].Text)
			}
			if r > 0 && c < len(rows[0]) {
				f.ColHeaders.add(rows[0][c].Text)
				if c > 0 {
					f.Tuples.add(tupleKey(row[0].Text, rows[0][c].Text))
				}
			}
			if r > 0 && c < len(rows[r-1]) && utf8.RuneCountInString(rows[r-1][c].Text) > 0 {
				f.Keys.add(rows[r-1][c].Text)
			}
			return
		}
	}
}

func tupleKey(row, col string) string { return clean(row) + "|" + clean(col) }

// ModelDir is where the trained state of a version lives.
func ModelDir(cacheDir string, moldID, vid int64) string {
	return filepath.Join(cacheDir, fmt.Sprint(moldID), fmt.Sprint(vid), "predictors")
}

// Save writes md under dir.
func (md *ModelData) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	b, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	tmp := filepath.Join(dir, modelFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return os.Rename(tmp, filepath.Join(dir, modelFile))
}

// LoadModel reads the model under dir. A missing file is ErrModelMissing
// when cfg has trained kinds and an empty model otherwise.
func LoadModel(dir string, cfg *Config) (*ModelData, error) {
	b, err := os.ReadFile(filepath.Join(dir, modelFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if cfg.Trained() {
			return nil, fmt.Errorf("%w: %s", ErrModelMissing, dir)
		}
		return &ModelData{Paths: map[string]*PathModel{}}, nil
	case err != nil:
		return nil, fmt.Errorf("read model: %w", err)
	}
	md := &ModelData{}
	if err := json.Unmarshal(b, md); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if md.Paths == nil {
		md.Paths = map[string]*PathModel{}
	}
	return md, nil
}
