package answer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// Version is the userAnswer format version written by this package.
const Version = "2.2"

// Box is an outline in page coordinates.
type Box struct {
	Left   float64 `json:"box_left"`
	Top    float64 `json:"box_top"`
	Right  float64 `json:"box_right"`
	Bottom float64 `json:"box_bottom"`
}

// BoxRef places text on an interdoc page.
type BoxRef struct {
	Box    Box    `json:"box"`
	Page   int    `json:"page"`
	Text   string `json:"text"`
	Manual bool   `json:"manual,omitempty"`
}

// Datum is one contiguous piece of evidence for an item.
type Datum struct {
	Boxes      []BoxRef `json:"boxes"`
	HandleType string   `json:"handleType,omitempty"`
	Text       string   `json:"text,omitempty"`
}

// Value holds enum choices. It decodes from a JSON string, a list or null.
type Value []string

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*v = nil
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*v = nil
		} else {
			*v = Value{s}
		}
		return nil
	case len(b) > 0 && b[0] == '[':
		var list []string
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*v = list
		return nil
	}
	return fmt.Errorf("answer value: unsupported json %s", b)
}

// ItemSchemaData snapshots the field definition an item was labeled with.
type ItemSchemaData struct {
	Label       string `json:"label"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Multi       bool   `json:"multi"`
	Words       string `json:"words"`
	Description string `json:"description,omitempty"`
}

// ItemSchema wraps the snapshot the way the annotation UI stores it.
type ItemSchema struct {
	Data ItemSchemaData `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Marker records who labeled an item.
type Marker struct {
	ID     int64    `json:"id"`
	Name   string   `json:"name"`
	Others []string `json:"others"`
}

// Item is a single field instance.
type Item struct {
	Key    string         `json:"key"`
	Data   []Datum        `json:"data"`
	Value  Value          `json:"value,omitempty"`
	Text   string         `json:"text,omitempty"`
	Score  float64        `json:"score"`
	Manual bool           `json:"manual,omitempty"`
	Custom bool           `json:"custom,omitempty"`
	MD5    string         `json:"md5,omitempty"`
	Schema ItemSchema     `json:"schema"`
	Marker *Marker        `json:"marker,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// ItemSet is a versioned list of items.
type ItemSet struct {
	Version string `json:"version"`
	Items   []Item `json:"items"`
}

// SchemaSnapshot is the mold data an answer was created against. Version
// is the mold checksum at that time.
type SchemaSnapshot struct {
	schema.Data
	Version string `json:"version"`
}

// Answer is the data column of answers and questions.
type Answer struct {
	Schema      SchemaSnapshot `json:"schema"`
	UserAnswer  ItemSet        `json:"userAnswer"`
	CustomField *ItemSet       `json:"custom_field,omitempty"`
}

// Parse decodes a stored answer. Empty input yields nil.
func Parse(raw []byte) (*Answer, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var a Answer
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	return &a, nil
}

// Version returns the checksum the answer was built against.
func (a *Answer) Version() string {
	if a == nil {
		return ""
	}
	return a.Schema.Version
}

// CustomItems returns the custom field items, if any.
func (a *Answer) CustomItems() []Item {
	if a == nil || a.CustomField == nil {
		return nil
	}
	return a.CustomField.Items
}

// Clone returns a deep copy.
func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	out := &Answer{
		Schema: SchemaSnapshot{Version: a.Schema.Version},
		UserAnswer: ItemSet{
			Version: a.UserAnswer.Version,
			Items:   cloneItems(a.UserAnswer.Items),
		},
	}
	if d := a.Schema.Data.Clone(); d != nil {
		out.Schema.Data = *d
	}
	if a.CustomField != nil {
		out.CustomField = &ItemSet{Version: a.CustomField.Version, Items: cloneItems(a.CustomField.Items)}
	}
	return out
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}
