package answer

import (
	"cmp"
	"slices"

	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// FlatEntry is one row of the flat JSON export.
type FlatEntry struct {
	Key   string   `json:"key"`
	Field string   `json:"field"`
	Text  string   `json:"text"`
	Value []string `json:"value,omitempty"`
}

// Flat lists every non-placeholder item with its plain text.
func Flat(a *Answer) []FlatEntry {
	if a == nil {
		return []FlatEntry{}
	}
	out := make([]FlatEntry, 0, len(a.UserAnswer.Items))
	for i := range a.UserAnswer.Items {
		it := &a.UserAnswer.Items[i]
		if it.IsPlaceholder() {
			continue
		}
		p, err := it.Path()
		if err != nil {
			continue
		}
		out = append(out, FlatEntry{Key: it.Key, Field: p.NamePath(), Text: it.PlainText(), Value: it.Value})
	}
	return out
}

// Tree builds the hierarchical export. Non-multi fields map to a value;
// multi fields map to a list ordered by instance index. Leaf values are
// the plain text, or the chosen enum values for enum fields.
func Tree(a *Answer, d *schema.Data) map[string]any {
	root := d.Root()
	if root == nil {
		return map[string]any{}
	}
	n := &node{children: map[string]map[int]*node{}}
	if a != nil {
		for i := range a.UserAnswer.Items {
			it := &a.UserAnswer.Items[i]
			p, err := it.Path()
			if err != nil || len(p) < 2 || it.IsPlaceholder() {
				continue
			}
			n.insert(p[1:], it)
		}
	}
	return map[string]any{root.Name: n.render(d, root)}
}

type node struct {
	item     *Item
	children map[string]map[int]*node
}

func (n *node) insert(p schema.Path, it *Item) {
	seg := p[0]
	byIdx, ok := n.children[seg.Name]
	if !ok {
		byIdx = map[int]*node{}
		n.children[seg.Name] = byIdx
	}
	child, ok := byIdx[seg.Index]
	if !ok {
		child = &node{children: map[string]map[int]*node{}}
		byIdx[seg.Index] = child
	}
	if len(p) == 1 {
		child.item = it
		return
	}
	child.insert(p[1:], it)
}

func (n *node) render(d *schema.Data, item *schema.SchemaItem) map[string]any {
	out := make(map[string]any, len(item.Orders))
	for _, name := range item.Orders {
		f, _ := item.Field(name)
		instances := n.children[name]
		idxs := make([]int, 0, len(instances))
		for i := range instances {
			idxs = append(idxs, i)
		}
		slices.SortFunc(idxs, cmp.Compare[int])

		values := make([]any, 0, len(idxs))
		for _, i := range idxs {
			values = append(values, instances[i].value(d, f))
		}
		switch {
		case f.Multi:
			out[name] = values
		case len(values) > 0:
			out[name] = values[0]
		default:
			out[name] = nil
		}
	}
	return out
}

func (n *node) value(d *schema.Data, f schema.FieldDef) any {
	if sub, ok := d.Item(f.Type); ok && d.IsComposite(f.Type) {
		return n.render(d, sub)
	}
	if n.item == nil {
		return nil
	}
	if _, ok := d.Enum(f.Type); ok {
		return []string(slices.Clone(n.item.Value))
	}
	return n.item.PlainText()
}
