package schema

import (
	"slices"
	"strings"
)

// Primitive field types.
const (
	TypeText   = "文本"
	TypeNumber = "数字"
	TypeDate   = "日期"
)

// PrimitiveTypes lists the built-in leaf types.
var PrimitiveTypes = []string{TypeText, TypeNumber, TypeDate}

// ExtractType selects which extractor fills a field.
type ExtractType string

const (
	ExtractExclusive ExtractType = "EXCLUSIVE"
	ExtractLLM       ExtractType = "LLM"
)

// FieldDef describes one field of a SchemaItem.
type FieldDef struct {
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Multi       bool        `json:"multi"`
	Description string      `json:"description,omitempty"`
	Regex       string      `json:"regex,omitempty"`
	ExtractType ExtractType `json:"extract_type,omitempty"`
	Words       string      `json:"words,omitempty"`
}

// IsLLM reports whether the field is filled by the LLM extractor.
func (f FieldDef) IsLLM() bool {
	return f.ExtractType == ExtractLLM
}

// SchemaItem is a named record type. Schemas[0] of Data is the root.
type SchemaItem struct {
	Name   string              `json:"name"`
	Orders []string            `json:"orders"`
	Schema map[string]FieldDef `json:"schema"`
}

// Field returns the named field.
func (s *SchemaItem) Field(name string) (FieldDef, bool) {
	f, ok := s.Schema[name]
	return f, ok
}

// EnumValue is one choice of an enum schema type.
type EnumValue struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// SchemaType is an enum type referenced by label from FieldDef.Type.
type SchemaType struct {
	Label         string      `json:"label"`
	Values        []EnumValue `json:"values"`
	Type          string      `json:"type"`
	IsMultiSelect bool        `json:"is_multi_select"`
}

// Defaults returns the names of default values.
func (t SchemaType) Defaults() []string {
	var out []string
	for _, v := range t.Values {
		if v.IsDefault {
			out = append(out, v.Name)
		}
	}
	return out
}

// Data is the schema payload of a mold.
type Data struct {
	Schemas     []SchemaItem `json:"schemas"`
	SchemaTypes []SchemaType `json:"schema_types"`
}

// Root returns the root SchemaItem, or nil for empty data.
func (d *Data) Root() *SchemaItem {
	if d == nil || len(d.Schemas) == 0 {
		return nil
	}
	return &d.Schemas[0]
}

// RootName returns the root SchemaItem name.
func (d *Data) RootName() string {
	if r := d.Root(); r != nil {
		return r.Name
	}
	return ""
}

// Item returns the SchemaItem with the given name.
func (d *Data) Item(name string) (*SchemaItem, bool) {
	for i := range d.Schemas {
		if d.Schemas[i].Name == name {
			return &d.Schemas[i], true
		}
	}
	return nil, false
}

// Enum returns the enum schema type with the given label.
func (d *Data) Enum(label string) (*SchemaType, bool) {
	for i := range d.SchemaTypes {
		if d.SchemaTypes[i].Label == label {
			return &d.SchemaTypes[i], true
		}
	}
	return nil, false
}

// IsComposite reports whether typ names a non-root SchemaItem.
func (d *Data) IsComposite(typ string) bool {
	for i := 1; i < len(d.Schemas); i++ {
		if d.Schemas[i].Name == typ {
			return true
		}
	}
	return false
}

// IsLeafType reports whether typ is a primitive or an enum label.
func (d *Data) IsLeafType(typ string) bool {
	if slices.Contains(PrimitiveTypes, typ) {
		return true
	}
	_, ok := d.Enum(typ)
	return ok
}

// HasLLMFields reports whether any field is extracted by the LLM.
func (d *Data) HasLLMFields() bool {
	for _, item := range d.Schemas {
		for _, f := range item.Schema {
			if f.IsLLM() {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy.
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	out := &Data{
		Schemas:     make([]SchemaItem, len(d.Schemas)),
		SchemaTypes: make([]SchemaType, len(d.SchemaTypes)),
	}
	for i, item := range d.Schemas {
		fields := make(map[string]FieldDef, len(item.Schema))
		for k, v := range item.Schema {
			fields[k] = v
		}
		out.Schemas[i] = SchemaItem{Name: item.Name, Orders: slices.Clone(item.Orders), Schema: fields}
	}
	for i, st := range d.SchemaTypes {
		out.SchemaTypes[i] = SchemaType{
			Label:         st.Label,
			Values:        slices.Clone(st.Values),
			Type:          st.Type,
			IsMultiSelect: st.IsMultiSelect,
		}
	}
	return out
}

// validName reports whether a field or item name can be path encoded.
func validName(name string) bool {
	return strings.TrimSpace(name) != "" && !strings.ContainsAny(name, `:"`)
}
