package studio

import (
	"slices"

	"github.com/fyrsmithlabs/extractd/internal/schema"
)

var primitiveJSONTypes = map[string]string{
	schema.TypeText:   "string",
	schema.TypeNumber: "number",
	schema.TypeDate:   "string",
}

// Property describes one extracted field to the service.
type Property struct {
	Type          string         `json:"type,omitempty"`
	Description   string         `json:"description,omitempty"`
	Enum          []string       `json:"enum,omitempty"`
	PropertyOrder int            `json:"propertyOrder"`
	Items         map[string]any `json:"items,omitempty"`
}

// ObjectSchema is a JSON-schema object.
type ObjectSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
}

// AppSchema is the extraction schema of an app.
type AppSchema struct {
	Schemas ObjectSchema `json:"schemas"`
}

// BuildAppSchema describes the LLM fields of the root item. Enum fields
// list their choices, composite fields become arrays of objects and
// multi-valued primitives become arrays.
func BuildAppSchema(d *schema.Data) *AppSchema {
	out := &AppSchema{Schemas: ObjectSchema{Type: "object", Properties: map[string]Property{}}}
	root := d.Root()
	if root == nil {
		return out
	}
	for idx, name := range fieldOrder(root) {
		f := root.Schema[name]
		if !f.IsLLM() {
			continue
		}
		if enum, ok := d.Enum(f.Type); ok {
			out.Schemas.Properties[name] = Property{
				Description:   f.Description,
				Enum:          enumNames(enum),
				PropertyOrder: idx,
			}
			continue
		}
		if sub, ok := d.Item(f.Type); ok && d.IsComposite(f.Type) {
			props := map[string]any{}
			for subIdx, subName := range fieldOrder(sub) {
				sf := sub.Schema[subName]
				p := Property{Description: sf.Description, PropertyOrder: subIdx}
				if enum, ok := d.Enum(sf.Type); ok {
					p.Enum = enumNames(enum)
				} else {
					p.Type = jsonType(sf.Type)
				}
				props[subName] = p
			}
			out.Schemas.Properties[name] = Property{
				Type:          "array",
				Description:   f.Description,
				PropertyOrder: idx,
				Items:         map[string]any{"type": "object", "properties": props},
			}
			continue
		}
		p := Property{Type: jsonType(f.Type), Description: f.Description, PropertyOrder: idx}
		if f.Multi {
			p.Items = map[string]any{"type": p.Type}
			p.Type = "array"
		}
		out.Schemas.Properties[name] = p
	}
	return out
}

// fieldOrder returns field names in display order; fields missing from
// Orders follow in name order.
func fieldOrder(item *schema.SchemaItem) []string {
	names := slices.Clone(item.Orders)
	var rest []string
	for name := range item.Schema {
		if !slices.Contains(names, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	names = append(names, rest...)
	return slices.DeleteFunc(names, func(n string) bool {
		_, ok := item.Schema[n]
		return !ok
	})
}

func enumNames(t *schema.SchemaType) []string {
	out := make([]string, len(t.Values))
	for i, v := range t.Values {
		out[i] = v.Name
	}
	return out
}

func jsonType(typ string) string {
	if t, ok := primitiveJSONTypes[typ]; ok {
		return t
	}
	return "string"
}
