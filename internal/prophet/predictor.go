package prophet

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/prompter"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

const defaultCandidates = 10

// Predictor runs one resolved config over documents.
type Predictor struct {
	data      *schema.Data
	checksum  string
	config    *Config
	model     *ModelData
	topN      int
	threshold float64
	order     []*PathConfig
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor)

// WithCandidates sets how many coarse candidates a path looks at and the
// lowest score kept.
func WithCandidates(n int, threshold float64) PredictorOption {
	return func(p *Predictor) {
		if n > 0 {
			p.topN = n
		}
		p.threshold = threshold
	}
}

// NewPredictor orders the runnable paths of cfg. md may be nil when no
// path uses a trained kind.
func NewPredictor(d *schema.Data, checksum string, cfg *Config, md *ModelData, opts ...PredictorOption) (*Predictor, error) {
	if d.Root() == nil {
		return nil, fmt.Errorf("%w: mold has no root", ErrInvalidConfig)
	}
	p := &Predictor{data: d, checksum: checksum, config: cfg, model: md, topN: defaultCandidates}
	for _, opt := range opts {
		opt(p)
	}
	order, err := dependencyOrder(cfg)
	if err != nil {
		return nil, err
	}
	p.order = order
	return p, nil
}

// dependencyOrder sorts runnable paths by depth and repeatedly takes the
// first path whose dependencies are done. Ties keep config order.
func dependencyOrder(cfg *Config) ([]*PathConfig, error) {
	var paths []*PathConfig
	for i := range cfg.Paths {
		pc := &cfg.Paths[i]
		if pc.JustShow || !slices.ContainsFunc(pc.Models, func(s Spec) bool { return s.Kind().Local() }) {
			continue
		}
		paths = append(paths, pc)
	}
	slices.SortStableFunc(paths, func(a, b *PathConfig) int { return cmp.Compare(len(a.Path), len(b.Path)) })

	done := map[string]bool{}
	out := make([]*PathConfig, 0, len(paths))
	for len(out) < len(paths) {
		i := slices.IndexFunc(paths, func(pc *PathConfig) bool {
			return !done[pc.Key()] && depsDone(cfg, pc, done)
		})
		if i < 0 {
			return nil, fmt.Errorf("%w: cyclic depends", ErrInvalidConfig)
		}
		done[paths[i].Key()] = true
		out = append(out, paths[i])
	}
	return out, nil
}

func depsDone(cfg *Config, pc *PathConfig, done map[string]bool) bool {
	for _, dep := range pc.depends() {
		sibling := append(slices.Clone(pc.Path[:len(pc.Path)-1]), dep)
		if dc, ok := cfg.Find(sibling...); ok && !dc.JustShow && !done[dc.Key()] {
			return false
		}
	}
	return true
}

// run is the output of one path config.
type run struct {
	kind      Kind
	instances []Instance
}

// Predict builds the preset answer of one document. A nil reader yields an
// empty answer.
func (p *Predictor) Predict(r *interdoc.Reader, crude prompter.CrudeAnswer) (*answer.Answer, error) {
	a := answer.New(p.data, p.checksum)
	if r == nil {
		return a, nil
	}
	root := p.data.Root().Name
	evidence := map[string][]Evidence{}
	present := map[string]bool{}
	for _, pc := range p.order {
		rc := &runCtx{
			reader:     r,
			data:       p.data,
			config:     pc,
			columns:    columnsOf(p.data, pc),
			candidates: p.candidates(crude, pc),
			model:      p.model.Path(pc),
			after:      p.after(pc, evidence),
		}
		if len(rc.columns) == 0 {
			continue
		}
		res := runModels(pc, rc)
		for _, in := range res.instances {
			for col, evs := range in {
				name := pc.Key()
				if isGroup(p.data, root, pc) {
					name += "/" + col
				}
				evidence[name] = append(evidence[name], evs...)
			}
		}
		items, err := p.items(root, pc, rc, res)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if present[it.Key] {
				continue
			}
			present[it.Key] = true
			a.UserAnswer.Items = append(a.UserAnswer.Items, it)
		}
	}
	if err := p.placeholders(a, present); err != nil {
		return nil, err
	}
	return a, nil
}

func runModels(pc *PathConfig, rc *runCtx) run {
	var out run
	for _, m := range pc.Models {
		if !m.Kind().Local() {
			continue
		}
		res := m.predict(rc)
		if len(res) == 0 {
			continue
		}
		if out.kind == "" {
			out.kind = m.Kind()
		}
		out.instances = append(out.instances, res...)
		if !m.common().MultiElements {
			break
		}
	}
	return out
}

// candidates merges the coarse candidates of the path and, for a group,
// of every member. The best score per element wins.
func (p *Predictor) candidates(crude prompter.CrudeAnswer, pc *PathConfig) []prompter.Candidate {
	keys := []string{pc.Key()}
	for _, col := range columnsOf(p.data, pc) {
		if k := pc.Key() + "/" + col; !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	best := map[int]prompter.Candidate{}
	for _, k := range keys {
		for _, c := range crude.Top(k, p.topN, p.threshold) {
			if prev, ok := best[c.Index]; !ok || c.Score > prev.Score {
				best[c.Index] = c
			}
		}
	}
	out := make([]prompter.Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b prompter.Candidate) int {
		if d := cmp.Compare(b.Score, a.Score); d != 0 {
			return d
		}
		return cmp.Compare(a.Index, b.Index)
	})
	if len(out) > p.topN {
		out = out[:p.topN]
	}
	return out
}

// after returns the first element a path with depends may use.
func (p *Predictor) after(pc *PathConfig, evidence map[string][]Evidence) int {
	after := -1
	for _, dep := range pc.depends() {
		name := strings.Join(append(slices.Clone(pc.Path[:len(pc.Path)-1]), dep), "/")
		for _, ev := range evidence[name] {
			if after < 0 || ev.Element < after {
				after = ev.Element
			}
		}
	}
	return after
}

func isGroup(d *schema.Data, root string, pc *PathConfig) bool {
	group, _ := groupField(d, root, pc)
	return group
}

// groupField reports whether pc addresses a composite field and whether
// that field takes several instances.
func groupField(d *schema.Data, root string, pc *PathConfig) (group, multi bool) {
	f, ok := schema.FieldAt(d, fieldPath(root, pc.Path))
	if !ok || !d.IsComposite(f.Type) {
		return false, false
	}
	return true, f.Multi
}

// items turns instances into answer items. A group config gives each
// instance its own index at the group segment, keeping only the first
// instance when the group is not multi; a leaf config merges every
// instance into the item at index 0.
func (p *Predictor) items(root string, pc *PathConfig, rc *runCtx, res run) ([]answer.Item, error) {
	if len(res.instances) == 0 {
		return nil, nil
	}
	base := fieldPath(root, pc.Path)
	scores := map[int]float64{}
	for _, c := range rc.candidates {
		scores[c.Index] = c.Score
	}
	var out []answer.Item
	group, multi := groupField(p.data, root, pc)
	if !group {
		var evs []Evidence
		for _, in := range res.instances {
			evs = append(evs, in[rc.columns[0]]...)
		}
		it, err := p.item(base, pc, evs, res.kind, scores)
		if err != nil {
			return nil, err
		}
		return append(out, it), nil
	}
	instances := res.instances
	if !multi {
		instances = instances[:1]
	}
	for i, in := range instances {
		at := base.WithIndex(len(base)-1, i)
		for _, col := range rc.columns {
			evs := in[col]
			if len(evs) == 0 {
				continue
			}
			member := pc
			if mc, ok := p.config.Find(append(slices.Clone(pc.Path), col)...); ok {
				member = mc
			}
			it, err := p.item(at.Append(schema.Segment{Name: col}), member, evs, res.kind, scores)
			if err != nil {
				return nil, err
			}
			out = append(out, it)
		}
	}
	return out, nil
}

func (p *Predictor) item(path schema.Path, pc *PathConfig, evs []Evidence, kind Kind, scores map[int]float64) (answer.Item, error) {
	it, err := answer.EmptyItem(p.data, path)
	if err != nil {
		return answer.Item{}, err
	}
	score := 0.0
	texts := make([]string, 0, len(evs))
	for _, ev := range evs {
		it.Data = append(it.Data, answer.Datum{Boxes: ev.Boxes})
		texts = append(texts, ev.Text)
		s, ok := scores[ev.Element]
		if !ok {
			s = 1
		}
		score = max(score, s)
	}
	it.Score = score
	it.Meta["predictor"] = string(kind)

	f, _ := schema.FieldAt(p.data, path)
	if enum, ok := p.data.Enum(f.Type); ok {
		text := strings.Join(texts, "")
		if len(texts) > 0 && !fromMultiElement(pc) {
			text = texts[0]
		}
		it.Value = enumValue(pc, enum, text)
	}
	return it, nil
}

func fromMultiElement(pc *PathConfig) bool {
	for _, m := range pc.Models {
		if pm, ok := m.(*ParaMatch); ok && pm.EnumFromMultiElement {
			return true
		}
	}
	return false
}

// enumValue picks enum values whose config patterns, or whose names, occur
// in text. A single-select enum stops at the first hit; no hit falls back
// to the defaults.
func enumValue(pc *PathConfig, enum *schema.SchemaType, text string) answer.Value {
	text = clean(text)
	var out answer.Value
	for _, v := range enum.Values {
		pats, ok := pc.EnumConfig[v.Name]
		if !ok || pats.Len() == 0 {
			pats = QuotedPatterns(clean(v.Name))
		}
		if !pats.Match(text) {
			continue
		}
		out = append(out, v.Name)
		if !enum.IsMultiSelect {
			break
		}
	}
	if len(out) == 0 {
		out = enum.Defaults()
	}
	return out
}

// placeholders adds an empty item for every required field left without
// one. Fields filled by the LLM extractor are skipped.
func (p *Predictor) placeholders(a *answer.Answer, present map[string]bool) error {
	names := map[string]bool{}
	for key := range present {
		if path, err := schema.ParseKey(key); err == nil {
			names[path.NamePath()] = true
		}
	}
	for path, f := range schema.Walk(p.data) {
		if !f.Required || p.data.IsComposite(f.Type) || names[path.NamePath()] || llmField(p.data, path) {
			continue
		}
		it, err := answer.Placeholder(p.data, path)
		if err != nil {
			return err
		}
		a.UserAnswer.Items = append(a.UserAnswer.Items, it)
		names[path.NamePath()] = true
	}
	return nil
}

func llmField(d *schema.Data, p schema.Path) bool {
	for depth := 2; depth <= len(p); depth++ {
		if f, ok := schema.FieldAt(d, p[:depth]); ok && f.IsLLM() {
			return true
		}
	}
	return false
}
