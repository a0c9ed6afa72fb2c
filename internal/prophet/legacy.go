package prophet

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// v1Kinds maps the model names of the first framework version onto the
// catalog. Names mapped to "" carry no extraction and are skipped.
var v1Kinds = map[string]Kind{
	"partial_text":        KindPartialText,
	"partial_text_v2":     KindPartialText,
	"partial_text_v3":     KindPartialText,
	"regex_pattern":       KindAuto,
	"table_kv":            KindTableKV,
	"table_row":           KindTableRow,
	"table_row_3d":        KindTableRow,
	"table_tuple":         KindTableTuple,
	"score_filter":        KindScoreFilter,
	"title_content_group": KindSyllabusElt,
	"empty":               "",
}

// ImportV1 converts a first version config into path configs. The import
// is lossy: options the target kind does not accept are dropped and
// returned as "path:key" entries.
func ImportV1(raw json.RawMessage) (*Config, []string, error) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil, fmt.Errorf("%w: v1 config: %v", ErrInvalidConfig, err)
	}
	cfg := &Config{}
	var dropped []string
	for _, entry := range entries {
		var path []string
		var model string
		if err := json.Unmarshal(entry["path"], &path); err != nil || len(path) == 0 {
			return nil, nil, fmt.Errorf("%w: v1 entry without path", ErrInvalidConfig)
		}
		if err := json.Unmarshal(entry["model"], &model); err != nil {
			return nil, nil, fmt.Errorf("%w: v1 entry %s without model", ErrInvalidConfig, strings.Join(path, "/"))
		}
		kind, ok := v1Kinds[model]
		if !ok {
			return nil, nil, fmt.Errorf("%w: unknown v1 model %q", ErrInvalidConfig, model)
		}
		if kind == "" {
			continue
		}
		accepted, err := acceptedKeys(kind)
		if err != nil {
			return nil, nil, err
		}
		target := map[string]json.RawMessage{"name": json.RawMessage(fmt.Sprintf("%q", kind))}
		for _, key := range slices.Sorted(maps.Keys(entry)) {
			if key == "path" || key == "model" {
				continue
			}
			dst := key
			if model == "regex_pattern" && (key == "patterns" || key == "regs") {
				dst = "custom_regs"
			}
			if !slices.Contains(accepted, dst) {
				dropped = append(dropped, strings.Join(path, "/")+":"+key)
				continue
			}
			target[dst] = entry[key]
		}
		b, err := json.Marshal(target)
		if err != nil {
			return nil, nil, err
		}
		s, err := DecodeSpec(b)
		if err != nil {
			return nil, nil, fmt.Errorf("v1 entry %s: %w", strings.Join(path, "/"), err)
		}
		if pc, ok := cfg.Find(path...); ok {
			pc.Models = append(pc.Models, s)
			continue
		}
		cfg.Paths = append(cfg.Paths, PathConfig{Path: path, Models: []Spec{s}})
	}
	return cfg, dropped, nil
}

// acceptedKeys lists the JSON keys kind decodes.
func acceptedKeys(kind Kind) ([]string, error) {
	s, err := NewSpec(kind)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	keys := append(slices.Collect(maps.Keys(fields)), "depends", "columns")
	return keys, nil
}
