package schema

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON encodes v with sorted object keys and no HTML escaping.
// List order is kept as given.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MD5JSON returns the hex md5 of the canonical JSON of v.
func MD5JSON(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// Checksum returns the stable checksum of mold data. Nil and empty lists
// hash the same.
func Checksum(d *Data) (string, error) {
	return MD5JSON(Normalize(d))
}

// Normalize returns a copy of d with nil lists and maps made empty.
func Normalize(d *Data) *Data {
	if d == nil {
		return &Data{Schemas: []SchemaItem{}, SchemaTypes: []SchemaType{}}
	}
	n := d.Clone()
	for i := range n.Schemas {
		if n.Schemas[i].Orders == nil {
			n.Schemas[i].Orders = []string{}
		}
	}
	for i := range n.SchemaTypes {
		if n.SchemaTypes[i].Values == nil {
			n.SchemaTypes[i].Values = []EnumValue{}
		}
	}
	return n
}
