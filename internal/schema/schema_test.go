package schema_test

import (
	"testing"

	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/schema/schematest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *schema.Data)
		wantErr string
	}{
		{name: "valid", mutate: func(*schema.Data) {}},
		{
			name:    "orders mismatch",
			mutate:  func(d *schema.Data) { d.Schemas[0].Orders = []string{"people", "kind"} },
			wantErr: "missing from orders",
		},
		{
			name:    "orders names undefined field",
			mutate:  func(d *schema.Data) { d.Schemas[1].Orders = append(d.Schemas[1].Orders, "ghost") },
			wantErr: "undefined field",
		},
		{
			name: "dangling composite",
			mutate: func(d *schema.Data) {
				d.Schemas[0].Schema["people"] = schema.FieldDef{Type: "Human"}
			},
			wantErr: "does not resolve",
		},
		{
			name:    "dangling enum",
			mutate:  func(d *schema.Data) { d.SchemaTypes = nil },
			wantErr: "does not resolve",
		},
		{
			name: "colon in field name",
			mutate: func(d *schema.Data) {
				d.Schemas[1].Schema["a:b"] = schema.FieldDef{Type: schema.TypeText}
				d.Schemas[1].Orders = append(d.Schemas[1].Orders, "a:b")
			},
			wantErr: "not a valid name",
		},
		{
			name: "whitespace field name",
			mutate: func(d *schema.Data) {
				d.Schemas[1].Schema["  "] = schema.FieldDef{Type: schema.TypeText}
				d.Schemas[1].Orders = append(d.Schemas[1].Orders, "  ")
			},
			wantErr: "not a valid name",
		},
		{
			name: "two defaults on single select",
			mutate: func(d *schema.Data) {
				d.SchemaTypes[0].Values[1].IsDefault = true
			},
			wantErr: "defaults",
		},
		{
			name: "composite cycle",
			mutate: func(d *schema.Data) {
				d.Schemas[1].Schema["friend"] = schema.FieldDef{Type: "Person"}
				d.Schemas[1].Orders = append(d.Schemas[1].Orders, "friend")
			},
			wantErr: "cycle",
		},
		{
			name:    "unknown extract type",
			mutate:  func(d *schema.Data) { d.Schemas[1].Schema["age"] = schema.FieldDef{Type: schema.TypeNumber, ExtractType: "OCR"} },
			wantErr: "extract_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := schematest.People()
			tt.mutate(d)
			err := schema.Validate(d)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, schema.ErrInvalidSchema)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_Empty(t *testing.T) {
	assert.ErrorIs(t, schema.Validate(&schema.Data{}), schema.ErrInvalidSchema)
	assert.ErrorIs(t, schema.Validate(nil), schema.ErrInvalidSchema)
}

func TestChecksum(t *testing.T) {
	a, err := schema.Checksum(schematest.People())
	require.NoError(t, err)
	b, err := schema.Checksum(schematest.People())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	t.Run("nil and empty lists hash the same", func(t *testing.T) {
		d := schematest.Simple()
		d.SchemaTypes = nil
		c1, err := schema.Checksum(d)
		require.NoError(t, err)
		d.SchemaTypes = []schema.SchemaType{}
		c2, err := schema.Checksum(d)
		require.NoError(t, err)
		assert.Equal(t, c1, c2)
	})

	t.Run("changes with data", func(t *testing.T) {
		d := schematest.People()
		d.Schemas[1].Schema["age"] = schema.FieldDef{Type: schema.TypeNumber, Required: true}
		c, err := schema.Checksum(d)
		require.NoError(t, err)
		assert.NotEqual(t, a, c)
	})

	t.Run("changes with order", func(t *testing.T) {
		d := schematest.People()
		d.Schemas[1].Orders = []string{"age", "name"}
		c, err := schema.Checksum(d)
		require.NoError(t, err)
		assert.NotEqual(t, a, c)
	})
}

func TestPathKey(t *testing.T) {
	p, err := schema.ParseKey(`["Doc:0", "people:1", "name:0"]`)
	require.NoError(t, err)
	assert.Equal(t, `["Doc:0","people:1","name:0"]`, p.Key())
	assert.Equal(t, "people/name", p.NamePath())
	first, ok := p.FirstLevel()
	require.True(t, ok)
	assert.Equal(t, schema.Segment{Name: "people", Index: 1}, first)

	cn := schema.MustParseKey(`["资产管理合同:0","集合计划的募集:2","募集机构:0"]`)
	assert.Equal(t, `["资产管理合同:0","集合计划的募集:2","募集机构:0"]`, cn.Key())

	for _, bad := range []string{`[]`, `not json`, `["Doc"]`, `["Doc:x"]`, `["Doc:-1"]`} {
		_, err := schema.ParseKey(bad)
		assert.ErrorIs(t, err, schema.ErrInvalidKey, bad)
	}
}

func TestWalk(t *testing.T) {
	d := schematest.People()
	var keys []string
	for p := range schema.Walk(d) {
		keys = append(keys, p.Key())
	}
	assert.Equal(t, []string{
		`["Doc:0","people:0"]`,
		`["Doc:0","people:0","name:0"]`,
		`["Doc:0","people:0","age:0"]`,
		`["Doc:0","kind:0"]`,
		`["Doc:0","summary:0"]`,
	}, keys)

	leaves := schema.Leaves(d)
	assert.Len(t, leaves, 4)
}

func TestContainsPath(t *testing.T) {
	d := schematest.People()

	tests := []struct {
		name     string
		key      string
		skipRoot bool
		renames  schema.Renames
		want     bool
		wantKey  string
	}{
		{name: "leaf in group", key: `["Doc:0","people:1","age:0"]`, want: true, wantKey: `["Doc:0","people:1","age:0"]`},
		{name: "enum leaf", key: `["Doc:0","kind:0"]`, want: true, wantKey: `["Doc:0","kind:0"]`},
		{name: "group is not a leaf", key: `["Doc:0","people:0"]`},
		{name: "missing leaf", key: `["Doc:0","people:0","email:0"]`},
		{name: "non-composite parent", key: `["Doc:0","kind:0","name:0"]`},
		{name: "root renamed", key: `["Contract:0","kind:0"]`},
		{name: "root renamed skip root", key: `["Contract:0","kind:0"]`, skipRoot: true, want: true, wantKey: `["Doc:0","kind:0"]`},
		{
			name:    "renamed group carries members",
			key:     `["Doc:0","persons:2","name:0"]`,
			renames: schema.Renames{"persons": "people"},
			want:    true,
			wantKey: `["Doc:0","people:2","name:0"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, canon := schema.ContainsPath(d, schema.MustParseKey(tt.key), tt.skipRoot, tt.renames)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, tt.wantKey, canon.Key())
			}
		})
	}
}
