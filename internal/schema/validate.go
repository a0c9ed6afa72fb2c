package schema

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidSchema is returned for any structural violation.
var ErrInvalidSchema = errors.New("invalid schema")

// Validate checks the structural invariants of d. All violations are
// reported, joined under ErrInvalidSchema.
func Validate(d *Data) error {
	if d == nil || len(d.Schemas) == 0 {
		return fmt.Errorf("%w: at least one schema item is required", ErrInvalidSchema)
	}

	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	enums := make(map[string]bool, len(d.SchemaTypes))
	for _, st := range d.SchemaTypes {
		switch {
		case !validName(st.Label):
			fail("schema type label %q is not a valid name", st.Label)
		case enums[st.Label]:
			fail("schema type %q is declared twice", st.Label)
		case slices.Contains(PrimitiveTypes, st.Label):
			fail("schema type %q shadows a primitive type", st.Label)
		}
		enums[st.Label] = true
		if st.Type != "" && st.Type != "enum" {
			fail("schema type %q has unsupported type %q", st.Label, st.Type)
		}
		if !st.IsMultiSelect && len(st.Defaults()) > 1 {
			fail("single-select schema type %q has %d defaults", st.Label, len(st.Defaults()))
		}
		seen := map[string]bool{}
		for _, v := range st.Values {
			if seen[v.Name] {
				fail("schema type %q repeats value %q", st.Label, v.Name)
			}
			seen[v.Name] = true
		}
	}

	items := make(map[string]bool, len(d.Schemas))
	for _, item := range d.Schemas {
		if !validName(item.Name) {
			fail("schema item name %q is not a valid name", item.Name)
		}
		if items[item.Name] {
			fail("schema item %q is declared twice", item.Name)
		}
		if enums[item.Name] {
			fail("schema item %q collides with a schema type label", item.Name)
		}
		items[item.Name] = true
	}

	for _, item := range d.Schemas {
		ordered := make(map[string]bool, len(item.Orders))
		for _, name := range item.Orders {
			if ordered[name] {
				fail("%s: field %q appears twice in orders", item.Name, name)
			}
			ordered[name] = true
			if _, ok := item.Schema[name]; !ok {
				fail("%s: orders names undefined field %q", item.Name, name)
			}
		}
		for name, f := range item.Schema {
			if !validName(name) {
				fail("%s: field name %q is not a valid name", item.Name, name)
			}
			if !ordered[name] {
				fail("%s: field %q is missing from orders", item.Name, name)
			}
			switch {
			case slices.Contains(PrimitiveTypes, f.Type), enums[f.Type]:
			case items[f.Type] && f.Type != d.RootName():
			default:
				fail("%s.%s: type %q does not resolve", item.Name, name, f.Type)
			}
			if f.ExtractType != "" && f.ExtractType != ExtractExclusive && f.ExtractType != ExtractLLM {
				fail("%s.%s: unknown extract_type %q", item.Name, name, f.ExtractType)
			}
		}
	}

	if cycle := findCycle(d); cycle != "" {
		fail("composite types form a cycle through %q", cycle)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, errors.Join(errs...))
	}
	return nil
}

// findCycle returns the name of a SchemaItem on a composite cycle, or "".
func findCycle(d *Data) string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}

	var visit func(name string) string
	visit = func(name string) string {
		switch state[name] {
		case visiting:
			return name
		case done:
			return ""
		}
		state[name] = visiting
		if item, ok := d.Item(name); ok {
			for _, f := range item.Schema {
				if d.IsComposite(f.Type) {
					if c := visit(f.Type); c != "" {
						return c
					}
				}
			}
		}
		state[name] = done
		return ""
	}

	for _, item := range d.Schemas {
		if c := visit(item.Name); c != "" {
			return c
		}
	}
	return ""
}
