package answer

import (
	"fmt"

	"github.com/fyrsmithlabs/extractd/internal/schema"
)

const metaPlaceholder = "placeholder"

// Admin is the marker used for generated items.
var Admin = Marker{ID: 1, Name: "admin", Others: []string{}}

// New returns an answer with no items for mold data d.
func New(d *schema.Data, checksum string) *Answer {
	a := &Answer{
		Schema:     SchemaSnapshot{Version: checksum},
		UserAnswer: ItemSet{Version: Version, Items: []Item{}},
	}
	if c := schema.Normalize(d); c != nil {
		a.Schema.Data = *c
	}
	return a
}

// SchemaFor snapshots the field addressed by p.
func SchemaFor(d *schema.Data, p schema.Path) (ItemSchema, error) {
	f, ok := schema.FieldAt(d, p)
	if !ok {
		return ItemSchema{}, fmt.Errorf("%w: %s does not resolve", schema.ErrInvalidKey, p.Key())
	}
	return ItemSchema{Data: ItemSchemaData{
		Label:       p.Leaf().Name,
		Type:        f.Type,
		Required:    f.Required,
		Multi:       f.Multi,
		Words:       f.Words,
		Description: f.Description,
	}}, nil
}

// EmptyItem builds an item with no evidence for the field at p.
func EmptyItem(d *schema.Data, p schema.Path) (Item, error) {
	s, err := SchemaFor(d, p)
	if err != nil {
		return Item{}, err
	}
	m := Admin
	m.Others = []string{}
	return Item{
		Key:    p.Key(),
		Data:   []Datum{},
		Schema: s,
		Marker: &m,
		Meta:   map[string]any{},
	}, nil
}

// Placeholder is EmptyItem marked as generated.
func Placeholder(d *schema.Data, p schema.Path) (Item, error) {
	it, err := EmptyItem(d, p)
	if err != nil {
		return Item{}, err
	}
	it.Meta[metaPlaceholder] = true
	return it, nil
}

// BuildEmpty returns an answer with one placeholder per leaf field. LLM
// fields are skipped unless withLLM is set.
func BuildEmpty(d *schema.Data, checksum string, withLLM bool) (*Answer, error) {
	a := New(d, checksum)
	for p, f := range schema.Walk(d) {
		if d.IsComposite(f.Type) || (!withLLM && topLevelLLM(d, p)) {
			continue
		}
		it, err := Placeholder(d, p)
		if err != nil {
			return nil, err
		}
		a.UserAnswer.Items = append(a.UserAnswer.Items, it)
	}
	return a, nil
}

// FillGroupWithFixedLength ensures the group at first-level field group has
// at least n instances, adding placeholders for every missing member.
func FillGroupWithFixedLength(a *Answer, d *schema.Data, group string, n int) error {
	root := d.Root()
	if root == nil {
		return fmt.Errorf("%w: empty mold", schema.ErrInvalidSchema)
	}
	f, ok := root.Field(group)
	if !ok {
		return fmt.Errorf("%w: unknown field %q", schema.ErrInvalidKey, group)
	}

	present := map[string]bool{}
	for _, it := range a.UserAnswer.Items {
		present[it.Key] = true
	}

	var members []schema.Path
	for p, fd := range schema.Walk(d) {
		if first, ok := p.FirstLevel(); ok && first.Name == group && !d.IsComposite(fd.Type) {
			members = append(members, p)
		}
	}
	if !d.IsComposite(f.Type) {
		members = []schema.Path{{{Name: root.Name}, {Name: group}}}
	}

	for idx := 0; idx < n; idx++ {
		for _, m := range members {
			p := m.WithIndex(1, idx)
			if present[p.Key()] {
				continue
			}
			it, err := Placeholder(d, p)
			if err != nil {
				return err
			}
			a.UserAnswer.Items = append(a.UserAnswer.Items, it)
			present[p.Key()] = true
		}
	}
	return nil
}

func topLevelLLM(d *schema.Data, p schema.Path) bool {
	first, ok := p.FirstLevel()
	if !ok {
		return false
	}
	f, ok := d.Root().Field(first.Name)
	return ok && f.IsLLM()
}
