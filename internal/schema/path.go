package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidKey is returned when an item key cannot be decoded.
var ErrInvalidKey = errors.New("invalid item key")

// Segment is one "<name>:<index>" element of a path.
type Segment struct {
	Name  string
	Index int
}

func (s Segment) String() string {
	return s.Name + ":" + strconv.Itoa(s.Index)
}

// Path addresses a field instance, starting with the root SchemaItem.
type Path []Segment

// ParseKey decodes a JSON-encoded list of "<name>:<index>" segments.
func ParseKey(key string) (Path, error) {
	var raw []string
	if err := json.Unmarshal([]byte(key), &raw); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidKey, key, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	p := make(Path, len(raw))
	for i, seg := range raw {
		idx := strings.LastIndex(seg, ":")
		if idx <= 0 {
			return nil, fmt.Errorf("%w: segment %q lacks an index", ErrInvalidKey, seg)
		}
		n, err := strconv.Atoi(seg[idx+1:])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: segment %q has a bad index", ErrInvalidKey, seg)
		}
		p[i] = Segment{Name: seg[:idx], Index: n}
	}
	return p, nil
}

// MustParseKey is ParseKey for literals known to be valid.
func MustParseKey(key string) Path {
	p, err := ParseKey(key)
	if err != nil {
		panic(err)
	}
	return p
}

// Key encodes p in the compact form stored on answer items.
func (p Path) Key() string {
	raw := make([]string, len(p))
	for i, s := range p {
		raw[i] = s.String()
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(raw)
	return strings.TrimRight(buf.String(), "\n")
}

// Names returns the segment names.
func (p Path) Names() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = s.Name
	}
	return out
}

// NamePath joins the names below the root with "/". It identifies a field
// regardless of instance indices.
func (p Path) NamePath() string {
	if len(p) <= 1 {
		return ""
	}
	return strings.Join(p.Names()[1:], "/")
}

// FirstLevel returns the first field segment below the root.
func (p Path) FirstLevel() (Segment, bool) {
	if len(p) < 2 {
		return Segment{}, false
	}
	return p[1], true
}

// Leaf returns the last segment.
func (p Path) Leaf() Segment {
	return p[len(p)-1]
}

// Clone returns a copy of p.
func (p Path) Clone() Path {
	return append(Path(nil), p...)
}

// WithIndex returns a copy with the index at depth replaced.
func (p Path) WithIndex(depth, index int) Path {
	c := p.Clone()
	c[depth].Index = index
	return c
}

// Append returns a copy with s appended.
func (p Path) Append(s Segment) Path {
	return append(p.Clone(), s)
}

// Equal reports whether p and o address the same field instance.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// CanonicalKey re-encodes key in compact form. Invalid keys are returned
// unchanged.
func CanonicalKey(key string) string {
	p, err := ParseKey(key)
	if err != nil {
		return key
	}
	return p.Key()
}
