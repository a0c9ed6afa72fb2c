package prophet

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
)

// Registry holds the predictor configs shipped with a deployment, keyed by
// mold name. Paths marked config_in_code in a mold resolve against it.
type Registry struct {
	configs map[string]*Config
}

// NewRegistry wraps already parsed configs.
func NewRegistry(configs map[string]*Config) *Registry {
	return &Registry{configs: maps.Clone(configs)}
}

// LoadRegistry reads one JSON config file per mold name.
func LoadRegistry(files map[string]string) (*Registry, error) {
	r := &Registry{configs: make(map[string]*Config, len(files))}
	for _, name := range slices.Sorted(maps.Keys(files)) {
		raw, err := os.ReadFile(files[name])
		if err != nil {
			return nil, fmt.Errorf("read predictor config of %q: %w", name, err)
		}
		cfg, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("predictor config of %q: %w", name, err)
		}
		r.configs[strings.TrimSpace(name)] = cfg
	}
	return r, nil
}

// Lookup returns the config registered for the mold name.
func (r *Registry) Lookup(mold string) (*Config, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.configs[strings.TrimSpace(mold)]
	return c, ok
}

// Names lists the registered mold names.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.configs))
}

// Resolve combines a mold's own config with the registered one. A custom
// path with a model other than config_in_code claims its first-level
// field; registered paths of unclaimed fields are appended. Custom paths
// whose models are all config_in_code are dropped.
func Resolve(custom, code *Config) *Config {
	out := &Config{}
	claimed := map[string]bool{}
	for _, pc := range custom.Paths {
		own := slices.ContainsFunc(pc.Models, func(s Spec) bool { return s.Kind() != KindConfigInCode })
		if len(pc.Models) > 0 && !own {
			continue
		}
		if own {
			claimed[pc.Path[0]] = true
		}
		out.Paths = append(out.Paths, pc)
	}
	if code == nil {
		return out
	}
	for _, pc := range code.Paths {
		if !claimed[pc.Path[0]] {
			out.Paths = append(out.Paths, pc)
		}
	}
	return out
}
