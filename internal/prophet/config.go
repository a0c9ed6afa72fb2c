package prophet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// PathConfig configures one field. Path excludes the root name. A path of
// length one naming a composite field configures the whole group.
type PathConfig struct {
	Path                 []string
	Models               []Spec
	EnumConfig           map[string]Patterns
	AllowDifferentModels bool
	// JustShow marks a member config folded into its group. It is kept
	// for display and ignored by prediction.
	JustShow bool
}

type pathConfigJSON struct {
	Path                 []string            `json:"path"`
	Models               []json.RawMessage   `json:"models"`
	EnumConfig           map[string]Patterns `json:"enum_config,omitempty"`
	AllowDifferentModels bool                `json:"allow_different_models,omitempty"`
	JustShow             bool                `json:"just_show,omitempty"`
}

func (pc *PathConfig) UnmarshalJSON(b []byte) error {
	var raw pathConfigJSON
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(raw.Path) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidConfig)
	}
	models := make([]Spec, 0, len(raw.Models))
	for _, m := range raw.Models {
		s, err := DecodeSpec(m)
		if err != nil {
			return fmt.Errorf("%s: %w", strings.Join(raw.Path, "/"), err)
		}
		models = append(models, s)
	}
	*pc = PathConfig{
		Path:                 raw.Path,
		Models:               models,
		EnumConfig:           raw.EnumConfig,
		AllowDifferentModels: raw.AllowDifferentModels,
		JustShow:             raw.JustShow,
	}
	return nil
}

func (pc PathConfig) MarshalJSON() ([]byte, error) {
	raw := pathConfigJSON{
		Path:                 pc.Path,
		Models:               make([]json.RawMessage, 0, len(pc.Models)),
		EnumConfig:           pc.EnumConfig,
		AllowDifferentModels: pc.AllowDifferentModels,
		JustShow:             pc.JustShow,
	}
	for _, m := range pc.Models {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		raw.Models = append(raw.Models, b)
	}
	return json.Marshal(raw)
}

// Key identifies the config by its name path.
func (pc *PathConfig) Key() string { return strings.Join(pc.Path, "/") }

// firstKind returns the kind of the first model, or "".
func (pc *PathConfig) firstKind() Kind {
	if len(pc.Models) == 0 {
		return ""
	}
	return pc.Models[0].Kind()
}

// depends returns the field names the config waits for.
func (pc *PathConfig) depends() []string {
	var out []string
	for _, m := range pc.Models {
		for _, d := range m.common().Depends {
			if !slices.Contains(out, d) {
				out = append(out, d)
			}
		}
	}
	return out
}

// Config is the predictor configuration of a mold or model version.
type Config struct {
	Paths []PathConfig
}

// Parse decodes a JSON list of path configs. Empty input yields an empty
// config.
func Parse(raw json.RawMessage) (*Config, error) {
	cfg := &Config{}
	if t := bytes.TrimSpace(raw); len(t) == 0 || string(t) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg.Paths); err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Marshal encodes the config as a list of path configs.
func (c *Config) Marshal() (json.RawMessage, error) {
	if c == nil || c.Paths == nil {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(c.Paths)
}

// Find returns the config of the name path.
func (c *Config) Find(path ...string) (*PathConfig, bool) {
	for i := range c.Paths {
		if slices.Equal(c.Paths[i].Path, path) {
			return &c.Paths[i], true
		}
	}
	return nil, false
}

// Trained reports whether any runnable model needs training.
func (c *Config) Trained() bool {
	for _, pc := range c.Paths {
		if pc.JustShow {
			continue
		}
		for _, m := range pc.Models {
			if m.Kind().Trained() {
				return true
			}
		}
	}
	return false
}

// Validate checks c against mold data d: every path resolves, column
// overrides and enum configs name real members and values, depends name
// sibling fields, and group configs agree with member configs on the
// model kind unless allowDifferent is set.
func Validate(c *Config, d *schema.Data, allowDifferent bool) error {
	root := d.Root()
	if root == nil {
		return fmt.Errorf("%w: mold has no root", ErrInvalidConfig)
	}
	for i := range c.Paths {
		pc := &c.Paths[i]
		p := fieldPath(root.Name, pc.Path)
		f, ok := schema.FieldAt(d, p)
		if !ok {
			return fmt.Errorf("%w: path %s does not resolve", ErrInvalidConfig, pc.Key())
		}
		if err := checkColumns(pc, d, f); err != nil {
			return err
		}
		if err := checkEnum(pc, d, f); err != nil {
			return err
		}
		if err := checkDepends(pc, d, p); err != nil {
			return err
		}
		if len(pc.Path) < 2 || allowDifferent || pc.AllowDifferentModels {
			continue
		}
		group, ok := c.Find(pc.Path[0])
		if !ok || len(group.Models) == 0 || len(pc.Models) == 0 {
			continue
		}
		if group.AllowDifferentModels {
			continue
		}
		if group.firstKind() != pc.firstKind() {
			return fmt.Errorf("%w: %s uses %s, %s uses %s",
				ErrIncompatibleModels, group.Key(), group.firstKind(), pc.Key(), pc.firstKind())
		}
	}
	return nil
}

func fieldPath(root string, names []string) schema.Path {
	p := schema.Path{{Name: root}}
	for _, n := range names {
		p = append(p, schema.Segment{Name: n})
	}
	return p
}

func checkColumns(pc *PathConfig, d *schema.Data, f schema.FieldDef) error {
	var members []string
	if item, ok := d.Item(f.Type); ok {
		members = item.Orders
	}
	for _, m := range pc.Models {
		cols := m.common().Columns
		if auto, ok := m.(*Auto); ok {
			for col := range auto.CustomRegs.ByColumn {
				if !slices.Contains(members, col) {
					return fmt.Errorf("%w: %s: custom_regs for unknown member %q", ErrInvalidConfig, pc.Key(), col)
				}
			}
		}
		for col := range cols {
			if !slices.Contains(members, col) {
				return fmt.Errorf("%w: %s: override for unknown member %q", ErrInvalidConfig, pc.Key(), col)
			}
		}
	}
	return nil
}

func checkEnum(pc *PathConfig, d *schema.Data, f schema.FieldDef) error {
	if len(pc.EnumConfig) == 0 {
		return nil
	}
	enum, ok := d.Enum(f.Type)
	if !ok {
		return fmt.Errorf("%w: %s: enum_config on a non-enum field", ErrInvalidConfig, pc.Key())
	}
	for value := range pc.EnumConfig {
		if !slices.ContainsFunc(enum.Values, func(v schema.EnumValue) bool { return v.Name == value }) {
			return fmt.Errorf("%w: %s: unknown enum value %q", ErrInvalidConfig, pc.Key(), value)
		}
	}
	return nil
}

func checkDepends(pc *PathConfig, d *schema.Data, p schema.Path) error {
	for _, dep := range pc.depends() {
		sibling := append(p[:len(p)-1].Clone(), schema.Segment{Name: dep})
		if _, ok := schema.FieldAt(d, sibling); !ok || dep == p.Leaf().Name {
			return fmt.Errorf("%w: %s depends on unknown field %q", ErrInvalidConfig, pc.Key(), dep)
		}
	}
	return nil
}

// Validator returns a check suitable for mold creation and update.
func Validator(allowDifferent bool) func(d *schema.Data, raw json.RawMessage) error {
	return func(d *schema.Data, raw json.RawMessage) error {
		cfg, err := Parse(raw)
		if err != nil {
			return err
		}
		return Validate(cfg, d, allowDifferent)
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() (*Config, error) {
	raw, err := c.Marshal()
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}
