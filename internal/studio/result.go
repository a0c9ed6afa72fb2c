package studio

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// ExtractResult is the extraction state of one upload.
type ExtractResult struct {
	Status int         `json:"status"`
	Data   *Extraction `json:"data"`
}

// Succeeded reports whether extraction finished.
func (r *ExtractResult) Succeeded() bool {
	return r != nil && r.Status == StatusSucceeded
}

// Extraction holds the extracted values keyed like the app schema, and for
// enum fields the source text the choice was made from.
type Extraction struct {
	Data    map[string]any `json:"data"`
	Sources map[string]any `json:"sources,omitempty"`
}

type pathStep struct {
	name  string
	array bool
	index int
}

type extracted struct {
	steps []pathStep
	value any
}

// flatten lists every extracted leaf with the path that reaches it. Lists
// of strings are multi-valued primitives, lists of objects are composite
// groups and nested objects recurse.
func flatten(data map[string]any, prefix []pathStep) []extracted {
	var out []extracted
	for _, key := range sortedKeys(data) {
		switch v := data[key].(type) {
		case []any:
			for idx, elem := range v {
				step := pathStep{name: key, array: true, index: idx}
				switch e := elem.(type) {
				case string:
					out = append(out, extracted{steps: appendStep(prefix, step), value: e})
				case map[string]any:
					for _, sub := range sortedKeys(e) {
						out = append(out, extracted{
							steps: appendStep(prefix, step, pathStep{name: sub}),
							value: e[sub],
						})
					}
				}
			}
		case map[string]any:
			out = append(out, flatten(v, appendStep(prefix, pathStep{name: key}))...)
		default:
			out = append(out, extracted{steps: appendStep(prefix, pathStep{name: key}), value: v})
		}
	}
	return out
}

func appendStep(prefix []pathStep, steps ...pathStep) []pathStep {
	return append(slices.Clone(prefix), steps...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// itemPath keys an extracted value. Array indices are kept on group steps;
// the leaf always gets index 0 so every value of a multi-valued primitive
// lands on the same item.
func itemPath(root string, steps []pathStep) schema.Path {
	p := schema.Path{{Name: root}}
	for i, s := range steps {
		seg := schema.Segment{Name: s.name}
		if s.array && i < len(steps)-1 {
			seg.Index = s.index
		}
		p = append(p, seg)
	}
	return p
}

// lookup follows steps through a trace or source tree. An array step
// indexes into a list; against anything else it is a plain key.
func lookup(tree map[string]any, steps []pathStep) any {
	var cur any = tree
	for _, s := range steps {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[s.name]
		if !ok {
			return nil
		}
		if s.array {
			if list, ok := cur.([]any); ok {
				if s.index >= len(list) {
					return nil
				}
				cur = list[s.index]
			}
		}
	}
	return cur
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// Items converts an extraction into answer items of d. Fields the schema
// does not know are skipped. Values of the same key are merged into one
// item. trace may be nil.
func Items(ext *Extraction, trace map[string]any, d *schema.Data) ([]answer.Item, error) {
	if ext == nil || d.Root() == nil {
		return nil, nil
	}
	var items []answer.Item
	byKey := map[string]int{}
	regexes := map[string]*regexp.Regexp{}

	for _, e := range flatten(ext.Data, nil) {
		p := itemPath(d.RootName(), e.steps)
		f, ok := schema.FieldAt(d, p)
		if !ok {
			continue
		}
		value := stringify(e.value)
		text := value
		enum, isEnum := d.Enum(f.Type)

		var traced any
		if text != "" {
			if isEnum && ext.Sources != nil {
				if src, ok := lookup(ext.Sources, e.steps).(string); ok && src != "" {
					text = src
				}
			}
			traced = lookup(trace, e.steps)
		}
		if f.Regex != "" {
			re, ok := regexes[f.Regex]
			if !ok {
				var err error
				if re, err = regexp.Compile(f.Regex); err != nil {
					return nil, fmt.Errorf("studio: field %s: %w", p.NamePath(), err)
				}
				regexes[f.Regex] = re
			}
			text = re.FindString(text)
		}

		data := traceData(traced, text)
		if i, ok := byKey[p.Key()]; ok {
			items[i].Data = append(items[i].Data, data...)
			continue
		}
		it, err := answer.EmptyItem(d, p)
		if err != nil {
			return nil, err
		}
		it.Data = data
		if isEnum && slices.Contains(enumNames(enum), value) {
			it.Value = answer.Value{value}
		}
		byKey[it.Key] = len(items)
		items = append(items, it)
	}
	return items, nil
}

// traceData turns a trace node into answer evidence. A traced node holds
// a list of hits, each a list of {page: outline} boxes; text goes on the
// first box of each hit. Anything else yields a single text-only box.
func traceData(node any, text string) []answer.Datum {
	textOnly := []answer.Datum{{Boxes: []answer.BoxRef{{Text: text}}, Text: text}}
	m, ok := node.(map[string]any)
	if !ok {
		return textOnly
	}
	if m["data"] == nil && m["box"] != nil {
		m = map[string]any{"status": "traced", "data": []any{m}}
	}
	if m["status"] != "traced" {
		return textOnly
	}
	hits, _ := m["data"].([]any)
	if len(hits) == 0 {
		return textOnly
	}
	var out []answer.Datum
	for _, h := range hits {
		hit, _ := h.(map[string]any)
		boxes, _ := hit["box"].([]any)
		var refs []answer.BoxRef
		for j, b := range boxes {
			pages, _ := b.(map[string]any)
			for _, page := range sortedKeys(pages) {
				n, err := strconv.Atoi(page)
				if err != nil {
					continue
				}
				outline, ok := toOutline(pages[page])
				if !ok {
					continue
				}
				ref := answer.BoxRef{Page: n, Box: outline}
				if j == 0 {
					ref.Text = text
				}
				refs = append(refs, ref)
			}
		}
		if len(refs) == 0 {
			refs = []answer.BoxRef{{Text: text}}
		}
		out = append(out, answer.Datum{Boxes: refs, Text: text})
	}
	return out
}

func toOutline(v any) (answer.Box, bool) {
	list, ok := v.([]any)
	if !ok || len(list) != 4 {
		return answer.Box{}, false
	}
	var f [4]float64
	for i, x := range list {
		switch n := x.(type) {
		case float64:
			f[i] = n
		case json.Number:
			v, err := n.Float64()
			if err != nil {
				return answer.Box{}, false
			}
			f[i] = v
		default:
			return answer.Box{}, false
		}
	}
	return answer.Box{Left: f[0], Top: f[1], Right: f[2], Bottom: f[3]}, true
}
