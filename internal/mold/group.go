package mold

import (
	"slices"
	"strings"

	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// MasterWithMergedSchemas folds a mold group into one mold whose root
// carries the root fields of every member. When names clash the newer
// mold (later in the slice) wins, and composite types are kept once. The
// master is the first mold; its name becomes the members' names joined
// by "、". Inputs are not modified.
func MasterWithMergedSchemas(molds []*Mold) *Mold {
	if len(molds) == 0 {
		return nil
	}
	if len(molds) == 1 {
		return molds[0].Clone()
	}

	trimmed := make([]*Mold, len(molds))
	seenFields := map[string]bool{}
	seenTypes := map[string]bool{}
	for i := len(molds) - 1; i >= 0; i-- {
		m := molds[i].Clone()
		trimmed[i] = m
		if len(m.Data.Schemas) == 0 || len(m.Data.Schemas[0].Orders) == 0 {
			continue
		}
		root := m.Data.Schemas[0]
		root.Orders = slices.DeleteFunc(root.Orders, func(f string) bool { return seenFields[f] })
		kept := make(map[string]schema.FieldDef, len(root.Orders))
		used := map[string]bool{}
		for _, f := range root.Orders {
			kept[f] = root.Schema[f]
			used[root.Schema[f].Type] = true
			seenFields[f] = true
		}
		root.Schema = kept
		for _, item := range m.Data.Schemas[1:] {
			for _, f := range item.Schema {
				if !slices.Contains(schema.PrimitiveTypes, f.Type) {
					used[f.Type] = true
				}
			}
		}
		others := []schema.SchemaItem{root}
		for _, item := range m.Data.Schemas[1:] {
			if used[item.Name] && !seenTypes[item.Name] {
				others = append(others, item)
				seenTypes[item.Name] = true
			}
		}
		m.Data.Schemas = others
	}

	master := trimmed[0].Clone()
	names := make([]string, len(molds))
	for i, m := range molds {
		names[i] = m.Name
	}
	master.Name = strings.Join(names, "、")
	root := &master.Data.Schemas[0]
	if root.Schema == nil {
		root.Schema = map[string]schema.FieldDef{}
	}
	for _, m := range trimmed[1:] {
		if len(m.Data.Schemas) == 0 {
			continue
		}
		r := m.Data.Schemas[0]
		root.Orders = append(root.Orders, r.Orders...)
		for k, v := range r.Schema {
			root.Schema[k] = v
		}
		master.Data.Schemas = append(master.Data.Schemas, m.Data.Schemas[1:]...)
	}
	for _, t := range trimmed[1:] {
		for _, st := range t.Data.SchemaTypes {
			if _, ok := master.Data.Enum(st.Label); !ok {
				master.Data.SchemaTypes = append(master.Data.SchemaTypes, st)
			}
		}
	}
	return master
}
