package answer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// ErrNoMapping is returned when a conversion has an empty mapping table.
var ErrNoMapping = errors.New("answer conversion requires an explicit field mapping")

// Convert re-keys src onto the target mold. fields maps source name paths
// (see schema.Path.NamePath) to target name paths; a mapping on a group
// carries its members along. Items whose path has no mapped prefix or
// that do not resolve in target are dropped.
func Convert(src *Answer, fields map[string]string, target *schema.Data, checksum string) (*Answer, error) {
	if len(fields) == 0 {
		return nil, ErrNoMapping
	}
	out := New(target, checksum)
	if src == nil {
		return out, nil
	}
	renames := schema.Renames(fields)
	for _, it := range src.UserAnswer.Items {
		p, err := it.Path()
		if err != nil || !mapped(fields, p.NamePath()) {
			continue
		}
		ok, canon := schema.ContainsPath(target, p, true, renames)
		if !ok {
			continue
		}
		s, err := SchemaFor(target, canon)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", it.Key, err)
		}
		c := it.Clone()
		c.Key = canon.Key()
		c.Schema = s
		out.UserAnswer.Items = append(out.UserAnswer.Items, c)
	}
	return out, nil
}

func mapped(fields map[string]string, namePath string) bool {
	for from := range fields {
		if namePath == from || strings.HasPrefix(namePath, from+"/") {
			return true
		}
	}
	return false
}
