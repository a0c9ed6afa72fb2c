package prophet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind names an entry of the model catalog.
type Kind string

const (
	KindAuto            Kind = "auto"
	KindPartialText     Kind = "partial_text"
	KindCellPartialText Kind = "cell_partial_text"
	KindScoreFilter     Kind = "score_filter"
	KindSyllabusElt     Kind = "syllabus_elt_v2"
	KindTableKV         Kind = "custom_table_kv"
	KindTableRow        Kind = "table_row"
	KindTableTuple      Kind = "table_tuple"
	KindFixedPosition   Kind = "fixed_position"
	KindMiddleParas     Kind = "middle_paras"
	KindParaMatch       Kind = "para_match"
	KindLLM             Kind = "llm"
	KindConfigInCode    Kind = "config_in_code"
)

// Trained reports whether the kind learns from labeled answers.
func (k Kind) Trained() bool {
	switch k {
	case KindAuto, KindPartialText, KindCellPartialText, KindSyllabusElt,
		KindTableKV, KindTableRow, KindTableTuple, KindMiddleParas:
		return true
	}
	return false
}

// Local reports whether the kind runs inside the prophet. LLM fields are
// extracted by the studio service and config_in_code is replaced by the
// registry entry before prediction.
func (k Kind) Local() bool {
	return k != KindLLM && k != KindConfigInCode
}

// Spec is one model of a path config. The concrete types below form a
// closed set; DecodeSpec is the only way to build one from JSON.
type Spec interface {
	Kind() Kind
	common() *Common
	validate() error
	predict(rc *runCtx) []Instance
}

// Common holds the keys every kind accepts.
type Common struct {
	Name          Kind                `json:"name"`
	Multi         bool                `json:"multi"`
	MultiElements bool                `json:"multi_elements"`
	Depends       []string            `json:"depends,omitempty"`
	Columns       map[string]Override `json:"columns,omitempty"`
}

func (c *Common) Kind() Kind      { return c.Name }
func (c *Common) common() *Common { return c }
func (c *Common) validate() error { return nil }

// patterns returns the column override of key, or fallback.
func (c *Common) patterns(column, key string, fallback Patterns) Patterns {
	if o, ok := c.Columns[column]; ok {
		if p, ok := o[key]; ok && p.Len() > 0 {
			return p
		}
	}
	return fallback
}

// Override holds per-column regular expressions folded in from member
// configs. Keys are option names ending in "regs" or "patterns".
type Override map[string]Patterns

func (o *Override) UnmarshalJSON(b []byte) error {
	var m map[string]Patterns
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k := range m {
		if !isPatternKey(k) {
			return fmt.Errorf("%w: column override key %q", ErrInvalidConfig, k)
		}
	}
	*o = m
	return nil
}

func isPatternKey(k string) bool {
	return strings.HasSuffix(k, "regs") || strings.HasSuffix(k, "patterns")
}

// CustomRegs is a pattern list, or a mapping from member name to pattern
// list once member configs are folded into their group.
type CustomRegs struct {
	Patterns
	ByColumn map[string]Patterns
}

func (c *CustomRegs) UnmarshalJSON(b []byte) error {
	if t := bytes.TrimSpace(b); len(t) > 0 && t[0] == '{' {
		return json.Unmarshal(t, &c.ByColumn)
	}
	return c.Patterns.UnmarshalJSON(b)
}

func (c CustomRegs) MarshalJSON() ([]byte, error) {
	if c.ByColumn != nil {
		return json.Marshal(c.ByColumn)
	}
	return c.Patterns.MarshalJSON()
}

// For returns the patterns of column.
func (c CustomRegs) For(column string) Patterns {
	if p, ok := c.ByColumn[column]; ok {
		return p
	}
	return c.Patterns
}

func (c CustomRegs) empty() bool {
	return c.Len() == 0 && len(c.ByColumn) == 0
}

// Position is a page or element position as typed in the config UI: an
// integer or a comma separated list of integers. Positive values count
// from 1, negative ones from the end.
type Position string

func (p *Position) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = Position(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%w: position %s", ErrInvalidConfig, b)
	}
	*p = Position(n.String())
	return nil
}

// ints parses the position list.
func (p Position) ints() ([]int, error) {
	if strings.Contains(string(p), "，") {
		return nil, fmt.Errorf("%w: full-width comma in %q", ErrInvalidConfig, string(p))
	}
	var out []int
	for _, part := range strings.Split(string(p), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: position %q", ErrInvalidConfig, part)
		}
		out = append(out, n)
	}
	return out, nil
}

func positions(list []Position) ([]int, error) {
	var out []int
	for _, p := range list {
		ns, err := p.ints()
		if err != nil {
			return nil, err
		}
		out = append(out, ns...)
	}
	return out, nil
}

// catalog builds each kind with its defaults filled in. Decoding only
// overwrites the keys present in the JSON.
var catalog = map[Kind]func() Spec{
	KindAuto: func() Spec {
		return &Auto{Common: Common{Name: KindAuto}, IgnoreCase: true}
	},
	KindPartialText: func() Spec {
		return &PartialText{Common: Common{Name: KindPartialText}}
	},
	KindCellPartialText: func() Spec {
		return &CellPartialText{Common: Common{Name: KindCellPartialText}, WidthFromAllRows: true}
	},
	KindScoreFilter: func() Spec {
		return &ScoreFilter{Common: Common{Name: KindScoreFilter}}
	},
	KindSyllabusElt: func() Spec {
		return &SyllabusElt{Common: Common{Name: KindSyllabusElt}}
	},
	KindTableKV: func() Spec {
		return &TableKV{Common: Common{Name: KindTableKV}, KeepDummy: true}
	},
	KindTableRow: func() Spec {
		return &TableRow{Common: Common{Name: KindTableRow, Multi: true, MultiElements: true}}
	},
	KindTableTuple: func() Spec {
		return &TableTuple{Common: Common{Name: KindTableTuple, Multi: true}}
	},
	KindFixedPosition: func() Spec {
		return &FixedPosition{Common: Common{Name: KindFixedPosition}}
	},
	KindMiddleParas: func() Spec {
		return &MiddleParas{
			Common:              Common{Name: KindMiddleParas},
			KeepParent:          true,
			UseTopCrudeNeighbor: true,
			UseSyllabusModel:    true,
			IncludeTopAnchor:    true,
			TopGreed:            true,
		}
	},
	KindParaMatch: func() Spec {
		return &ParaMatch{Common: Common{Name: KindParaMatch}, UseCrudeAnswer: true, IndexRange: [2]int{0, 20}}
	},
	KindLLM: func() Spec {
		return &LLM{Common: Common{Name: KindLLM}}
	},
	KindConfigInCode: func() Spec {
		return &ConfigInCode{Common: Common{Name: KindConfigInCode}}
	},
}

// Kinds lists the catalog.
func Kinds() []Kind {
	return []Kind{
		KindAuto, KindPartialText, KindCellPartialText, KindScoreFilter, KindSyllabusElt,
		KindTableKV, KindTableRow, KindTableTuple, KindFixedPosition, KindMiddleParas,
		KindParaMatch, KindLLM, KindConfigInCode,
	}
}

// NewSpec returns kind with its defaults.
func NewSpec(kind Kind) (Spec, error) {
	mk, ok := catalog[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidConfig, kind)
	}
	return mk(), nil
}

// DecodeSpec decodes one model config. Unknown kinds, unknown keys and
// patterns that do not compile are rejected.
func DecodeSpec(raw json.RawMessage) (Spec, error) {
	var head struct {
		Name Kind `json:"name"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	s, err := NewSpec(head.Name)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, head.Name, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", head.Name, err)
	}
	return s, nil
}

// Auto picks a strategy from the element type: custom regexes first, then
// learned text boundaries for paragraphs and learned headers for tables.
type Auto struct {
	Common
	SyllabusRegs     Patterns   `json:"syllabus_regs"`
	UseAnswerPattern bool       `json:"use_answer_pattern"`
	IgnoreCase       bool       `json:"ignore_case"`
	CustomRegs       CustomRegs `json:"custom_regs"`
	AnchorRegs       Patterns   `json:"anchor_regs"`
	CntOfAnchorElts  int        `json:"cnt_of_anchor_elts"`
}

func (a *Auto) validate() error {
	switch {
	case a.AnchorRegs.Len() > 0 && a.CntOfAnchorElts < 1:
		return fmt.Errorf("%w: cnt_of_anchor_elts must be positive when anchor_regs is set", ErrInvalidConfig)
	case a.AnchorRegs.Len() == 0 && a.CntOfAnchorElts != 0:
		return fmt.Errorf("%w: cnt_of_anchor_elts requires anchor_regs", ErrInvalidConfig)
	}
	if !a.IgnoreCase {
		return nil
	}
	for _, p := range []*Patterns{&a.SyllabusRegs, &a.CustomRegs.Patterns, &a.AnchorRegs} {
		if err := p.fold(); err != nil {
			return err
		}
	}
	for col, p := range a.CustomRegs.ByColumn {
		if err := p.fold(); err != nil {
			return err
		}
		a.CustomRegs.ByColumn[col] = p
	}
	return nil
}

// PartialText cuts a substring of a paragraph between learned boundaries.
type PartialText struct {
	Common
	SyllabusRegs          Patterns `json:"syllabus_regs"`
	UseAnswerPattern      bool     `json:"use_answer_pattern"`
	NeglectPatterns       Patterns `json:"neglect_patterns"`
	NeglectAnswerPatterns Patterns `json:"neglect_answer_patterns"`
}

// CellPartialText extracts from table cells found by regex or by learned
// headers.
type CellPartialText struct {
	Common
	SyllabusRegs     Patterns `json:"syllabus_regs"`
	Regs             Patterns `json:"regs"`
	WidthFromAllRows bool     `json:"width_from_all_rows"`
}

// ScoreFilter keeps coarse candidates above a threshold.
type ScoreFilter struct {
	Common
	SortByIndex bool     `json:"sort_by_index"`
	Threshold   float64  `json:"threshold"`
	AimTypes    []string `json:"aim_types"`
}

func (s *ScoreFilter) validate() error {
	if s.Threshold < 0 || s.Threshold >= 1 {
		return fmt.Errorf("%w: threshold must be in [0,1), got %v", ErrInvalidConfig, s.Threshold)
	}
	for _, t := range s.AimTypes {
		if t != "PARAGRAPH" && t != "TABLE" {
			return fmt.Errorf("%w: aim type %q", ErrInvalidConfig, t)
		}
	}
	return nil
}

// SyllabusElt returns the content of a section.
type SyllabusElt struct {
	Common
	OnlyFirst            bool     `json:"only_first"`
	IncludeTitle         bool     `json:"include_title"`
	InjectCustomPatterns Patterns `json:"inject_custom_patterns"`
}

// TableKV reads key/value pairs from two-column tables.
type TableKV struct {
	Common
	Regs              Patterns `json:"regs"`
	SubPrimaryKey     []string `json:"sub_primary_key"`
	KeepDummy         bool     `json:"keep_dummy"`
	DeduplicateByCell bool     `json:"deduplicate_by_cell"`
	KVDirections      []string `json:"kv_directions"`
	NeglectRegs       Patterns `json:"neglect_regs"`
}

func (t *TableKV) validate() error {
	for _, d := range t.KVDirections {
		if d != directionLeftRight && d != directionUpDown {
			return fmt.Errorf("%w: kv direction %q", ErrInvalidConfig, d)
		}
	}
	return nil
}

const (
	directionLeftRight = "left_and_right"
	directionUpDown    = "up_and_down"
)

// TableRow reads one group instance per table row.
type TableRow struct {
	Common
	FeatureBlackList     []string `json:"feature_black_list"`
	NeglectPatterns      Patterns `json:"neglect_patterns"`
	NeglectRowHeaderRegs Patterns `json:"neglect_row_header_regs"`
	NeglectColHeaderRegs Patterns `json:"neglect_col_header_regs"`
	NeglectTitlePatterns Patterns `json:"neglect_title_patterns"`
}

// TableTuple reads cells addressed by a row header and a column header.
type TableTuple struct {
	Common
	NeglectTitlePatterns Patterns `json:"neglect_title_patterns"`
	TitlePatterns        Patterns `json:"title_patterns"`
}

// FixedPosition matches regexes on fixed pages or element positions.
type FixedPosition struct {
	Common
	Pages     []Position `json:"pages"`
	Positions []Position `json:"positions"`
	Regs      Patterns   `json:"regs"`

	pages, positions []int
}

func (f *FixedPosition) validate() error {
	var err error
	if f.pages, err = positions(f.Pages); err != nil {
		return err
	}
	f.positions, err = positions(f.Positions)
	return err
}

// MiddleParas takes the elements between a top and a bottom anchor.
type MiddleParas struct {
	Common
	KeepParent              bool     `json:"keep_parent"`
	UseTopCrudeNeighbor     bool     `json:"use_top_crude_neighbor"`
	UseSyllabusModel        bool     `json:"use_syllabus_model"`
	TopAnchorRegs           Patterns `json:"top_anchor_regs"`
	BottomAnchorRegs        Patterns `json:"bottom_anchor_regs"`
	IncludeTopAnchor        bool     `json:"include_top_anchor"`
	IncludeBottomAnchor     bool     `json:"include_bottom_anchor"`
	TopDefault              bool     `json:"top_default"`
	TopGreed                bool     `json:"top_greed"`
	BottomDefault           bool     `json:"bottom_default"`
	TopAnchorContentRegs    Patterns `json:"top_anchor_content_regs"`
	BottomAnchorContentRegs Patterns `json:"bottom_anchor_content_regs"`
}

// ParaMatch matches whole paragraphs, optionally cutting, splitting or
// combining them.
type ParaMatch struct {
	Common
	UseCrudeAnswer       bool     `json:"use_crude_answer"`
	IndexRange           [2]int   `json:"index_range"`
	CombineParagraphs    bool     `json:"combine_paragraphs"`
	SplitPattern         Patterns `json:"split_pattern"`
	EnumFromMultiElement bool     `json:"enum_from_multi_element"`
	ParagraphPattern     Patterns `json:"paragraph_pattern"`
	ContentPattern       Patterns `json:"content_pattern"`
	AnchorRegs           Patterns `json:"anchor_regs"`
	IncludeAnchor        bool     `json:"include_anchor"`
}

func (p *ParaMatch) validate() error {
	if p.IndexRange[0] < 0 || p.IndexRange[1] < p.IndexRange[0] {
		return fmt.Errorf("%w: index_range %v", ErrInvalidConfig, p.IndexRange)
	}
	return nil
}

// LLM marks a field extracted by the external LLM service.
type LLM struct {
	Common
}

// ConfigInCode marks a field whose config comes from the deployment
// registry.
type ConfigInCode struct {
	Common
}
