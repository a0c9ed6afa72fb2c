// Package schematest provides mold data fixtures shared by tests.
package schematest

import "github.com/fyrsmithlabs/extractd/internal/schema"

// Simple returns a root "Doc" with one text field "name".
func Simple() *schema.Data {
	return &schema.Data{
		Schemas: []schema.SchemaItem{{
			Name:   "Doc",
			Orders: []string{"name"},
			Schema: map[string]schema.FieldDef{
				"name": {Type: schema.TypeText, ExtractType: schema.ExtractExclusive},
			},
		}},
		SchemaTypes: []schema.SchemaType{},
	}
}

// People returns a root "Doc" with a multi group "people" of type Person
// (name, age) plus an enum field "kind" and an LLM field "summary".
func People() *schema.Data {
	return &schema.Data{
		Schemas: []schema.SchemaItem{
			{
				Name:   "Doc",
				Orders: []string{"people", "kind", "summary"},
				Schema: map[string]schema.FieldDef{
					"people":  {Type: "Person", Multi: true},
					"kind":    {Type: "合同类型"},
					"summary": {Type: schema.TypeText, ExtractType: schema.ExtractLLM},
				},
			},
			{
				Name:   "Person",
				Orders: []string{"name", "age"},
				Schema: map[string]schema.FieldDef{
					"name": {Type: schema.TypeText, Required: true},
					"age":  {Type: schema.TypeNumber},
				},
			},
		},
		SchemaTypes: []schema.SchemaType{{
			Label: "合同类型",
			Type:  "enum",
			Values: []schema.EnumValue{
				{Name: "买卖", IsDefault: true},
				{Name: "租赁"},
			},
		}},
	}
}

// Amount returns a root "Doc" with a single number field named field.
func Amount(field string) *schema.Data {
	return &schema.Data{
		Schemas: []schema.SchemaItem{{
			Name:   "Doc",
			Orders: []string{field},
			Schema: map[string]schema.FieldDef{field: {Type: schema.TypeNumber}},
		}},
		SchemaTypes: []schema.SchemaType{},
	}
}

// LLM returns a root "Doc" whose fields are mostly LLM extracted: a
// composite group "parties", an enum "kind", a multi text "tags" and a
// number "amount" with a digit regex. "note" stays exclusive.
func LLM() *schema.Data {
	return &schema.Data{
		Schemas: []schema.SchemaItem{
			{
				Name:   "Doc",
				Orders: []string{"parties", "kind", "tags", "amount", "note"},
				Schema: map[string]schema.FieldDef{
					"parties": {Type: "Party", Multi: true, ExtractType: schema.ExtractLLM, Description: "签约方"},
					"kind":    {Type: "合同类型", ExtractType: schema.ExtractLLM},
					"tags":    {Type: schema.TypeText, Multi: true, ExtractType: schema.ExtractLLM},
					"amount":  {Type: schema.TypeNumber, Regex: `\d+`, ExtractType: schema.ExtractLLM},
					"note":    {Type: schema.TypeText, ExtractType: schema.ExtractExclusive},
				},
			},
			{
				Name:   "Party",
				Orders: []string{"name", "role"},
				Schema: map[string]schema.FieldDef{
					"name": {Type: schema.TypeText},
					"role": {Type: "角色"},
				},
			},
		},
		SchemaTypes: []schema.SchemaType{
			{Label: "合同类型", Type: "enum", Values: []schema.EnumValue{{Name: "买卖"}, {Name: "租赁"}}},
			{Label: "角色", Type: "enum", Values: []schema.EnumValue{{Name: "甲方"}, {Name: "乙方"}}},
		},
	}
}
