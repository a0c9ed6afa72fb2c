// Package schema models mold data: the ordered tree of SchemaItems and enum
// schema types that governs an extraction task. It validates structural
// invariants, computes the stable checksum, walks field paths and encodes
// the path keys carried by answer items.
package schema
