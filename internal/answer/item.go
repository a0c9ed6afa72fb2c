package answer

import (
	"crypto/md5"
	"encoding/hex"
	"maps"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// Path decodes the item key.
func (it *Item) Path() (schema.Path, error) {
	return schema.ParseKey(it.Key)
}

// NormalizeKey rewrites Key into its compact form. Keys that do not
// decode are left unchanged and reported.
func (it *Item) NormalizeKey() error {
	p, err := it.Path()
	if err != nil {
		return err
	}
	it.Key = p.Key()
	return nil
}

// PlainText returns Text when set, otherwise the box texts of each datum
// in encounter order. Data entries are separated by newlines.
func (it *Item) PlainText() string {
	if it.Text != "" {
		return it.Text
	}
	parts := make([]string, 0, len(it.Data))
	for _, d := range it.Data {
		if d.Text != "" {
			parts = append(parts, d.Text)
			continue
		}
		var sb strings.Builder
		for _, b := range d.Boxes {
			sb.WriteString(b.Text)
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n")
}

// IsEmpty reports whether the item carries neither evidence nor a value.
func (it *Item) IsEmpty() bool {
	return len(it.Data) == 0 && len(it.Value) == 0
}

// HasContent reports whether some box has text or a value is chosen.
func (it *Item) HasContent() bool {
	if len(it.Value) > 0 || strings.TrimSpace(it.Text) != "" {
		return true
	}
	for _, d := range it.Data {
		for _, b := range d.Boxes {
			if strings.TrimSpace(b.Text) != "" {
				return true
			}
		}
	}
	return false
}

// KeyMD5 identifies a custom field item: its md5 when present, otherwise
// the md5 of its key.
func (it *Item) KeyMD5() string {
	if it.MD5 != "" {
		return it.MD5
	}
	sum := md5.Sum([]byte(it.Key))
	return hex.EncodeToString(sum[:])
}

// IsPlaceholder reports whether the item was generated to stand in for a
// field that produced nothing.
func (it *Item) IsPlaceholder() bool {
	v, _ := it.Meta[metaPlaceholder].(bool)
	return v
}

// Clone returns a deep copy.
func (it Item) Clone() Item {
	out := it
	if it.Data != nil {
		out.Data = make([]Datum, len(it.Data))
		for i, d := range it.Data {
			out.Data[i] = Datum{Boxes: slices.Clone(d.Boxes), HandleType: d.HandleType, Text: d.Text}
		}
	}
	out.Value = slices.Clone(it.Value)
	out.Schema.Meta = maps.Clone(it.Schema.Meta)
	out.Meta = maps.Clone(it.Meta)
	if it.Marker != nil {
		m := *it.Marker
		m.Others = slices.Clone(it.Marker.Others)
		out.Marker = &m
	}
	return out
}

// BoxKey identifies a box by page and outline, ignoring text.
type BoxKey struct {
	Page int
	Box  Box
}

// BoxKeys returns the distinct boxes of an item.
func (it *Item) BoxKeys() map[BoxKey]struct{} {
	out := map[BoxKey]struct{}{}
	for _, d := range it.Data {
		for _, b := range d.Boxes {
			out[BoxKey{Page: b.Page, Box: b.Box}] = struct{}{}
		}
	}
	return out
}
