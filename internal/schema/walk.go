package schema

import (
	"iter"
	"strings"
)

// Walk yields every field of d depth-first in orders sequence, starting
// below the root. Composite fields are yielded before their members. All
// indices in yielded paths are 0.
func Walk(d *Data) iter.Seq2[Path, FieldDef] {
	return func(yield func(Path, FieldDef) bool) {
		root := d.Root()
		if root == nil {
			return
		}
		walkItem(d, root, Path{{Name: root.Name}}, map[string]bool{root.Name: true}, yield)
	}
}

func walkItem(d *Data, item *SchemaItem, prefix Path, active map[string]bool, yield func(Path, FieldDef) bool) bool {
	for _, name := range item.Orders {
		f, ok := item.Schema[name]
		if !ok {
			continue
		}
		p := prefix.Append(Segment{Name: name})
		if !yield(p, f) {
			return false
		}
		if sub, ok := d.Item(f.Type); ok && d.IsComposite(f.Type) && !active[f.Type] {
			active[f.Type] = true
			cont := walkItem(d, sub, p, active, yield)
			delete(active, f.Type)
			if !cont {
				return false
			}
		}
	}
	return true
}

// Leaves returns the paths of all non-composite fields.
func Leaves(d *Data) []Path {
	var out []Path
	for p, f := range Walk(d) {
		if !d.IsComposite(f.Type) {
			out = append(out, p)
		}
	}
	return out
}

// FieldAt resolves the field addressed by p, ignoring indices.
func FieldAt(d *Data, p Path) (FieldDef, bool) {
	if len(p) < 2 || d.Root() == nil {
		return FieldDef{}, false
	}
	item := d.Root()
	var f FieldDef
	for depth := 1; depth < len(p); depth++ {
		var ok bool
		f, ok = item.Field(p[depth].Name)
		if !ok {
			return FieldDef{}, false
		}
		if depth < len(p)-1 {
			if !d.IsComposite(f.Type) {
				return FieldDef{}, false
			}
			item, _ = d.Item(f.Type)
		}
	}
	return f, true
}

// Renames maps an old name path (see Path.NamePath) to its new name path.
// A mapping applies to every path under it, so renaming a group carries
// its members along.
type Renames map[string]string

// apply rewrites the names of p by the longest matching prefix.
func (r Renames) apply(p Path) Path {
	if len(r) == 0 || len(p) < 2 {
		return p
	}
	names := p.Names()[1:]
	for n := len(names); n > 0; n-- {
		to, ok := r[strings.Join(names[:n], "/")]
		if !ok {
			continue
		}
		newNames := strings.Split(to, "/")
		if len(newNames) != n {
			return p
		}
		out := p.Clone()
		for i, name := range newNames {
			out[i+1].Name = name
		}
		return out
	}
	return p
}

// ContainsPath reports whether p still resolves in d: every non-leaf
// segment names a composite field and the leaf exists with a leaf type.
// The returned canonical path carries the original indices, the current
// root name when skipRoot is set, and any renamed segments.
func ContainsPath(d *Data, p Path, skipRoot bool, renames Renames) (bool, Path) {
	root := d.Root()
	if root == nil || len(p) < 2 {
		return false, nil
	}
	if !skipRoot && p[0].Name != root.Name {
		return false, nil
	}

	canon := renames.apply(p).Clone()
	if skipRoot {
		canon[0].Name = root.Name
	}
	canon[0].Index = 0

	f, ok := FieldAt(d, canon)
	if !ok || !d.IsLeafType(f.Type) {
		return false, nil
	}
	return true, canon
}
