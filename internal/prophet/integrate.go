package prophet

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Integrate folds member configs into their group config. The pattern
// options of a member's first model become a column override on the
// group's first model and the member is marked JustShow. A member whose
// group config has no models is marked JustShow as well.
func Integrate(c *Config) error {
	for i := range c.Paths {
		member := &c.Paths[i]
		if len(member.Path) != 2 || member.JustShow {
			continue
		}
		group, ok := c.Find(member.Path[0])
		if !ok {
			continue
		}
		if len(group.Models) == 0 {
			member.JustShow = true
			continue
		}
		if len(member.Models) == 0 {
			continue
		}
		if group.firstKind() != member.firstKind() && !group.AllowDifferentModels && !member.AllowDifferentModels {
			return fmt.Errorf("%w: %s uses %s, %s uses %s",
				ErrIncompatibleModels, group.Key(), group.firstKind(), member.Key(), member.firstKind())
		}
		if group.firstKind() != member.firstKind() {
			continue
		}
		o, err := patternOptions(member.Models[0])
		if err != nil {
			return err
		}
		target := group.Models[0]
		if a, ok := target.(*Auto); ok && a.IgnoreCase {
			for k, p := range o {
				if err := p.fold(); err != nil {
					return err
				}
				o[k] = p
			}
		}
		if len(o) > 0 {
			tc := target.common()
			if tc.Columns == nil {
				tc.Columns = map[string]Override{}
			}
			tc.Columns[member.Path[1]] = o
		}
		member.JustShow = true
	}
	return nil
}

// patternOptions collects the non-empty options of s whose keys end in
// "regs" or "patterns".
func patternOptions(s Spec) (Override, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	o := Override{}
	for k, raw := range fields {
		if !isPatternKey(k) {
			continue
		}
		var p Patterns
		if err := p.UnmarshalJSON(raw); err != nil {
			// custom_regs keyed by column is not a plain list
			continue
		}
		if p.Len() > 0 {
			o[k] = p
		}
	}
	return o, nil
}

// ReviseAuto copies the custom_regs of member auto models into the auto
// model of their group, keyed by member name.
func ReviseAuto(c *Config) {
	for i := range c.Paths {
		master := &c.Paths[i]
		if len(master.Path) != 1 || len(master.Models) == 0 {
			continue
		}
		auto, ok := master.Models[0].(*Auto)
		if !ok {
			continue
		}
		byColumn := map[string]Patterns{}
		for j := range c.Paths {
			member := &c.Paths[j]
			if len(member.Path) != 2 || member.Path[0] != master.Path[0] {
				continue
			}
			idx := slices.IndexFunc(member.Models, func(s Spec) bool { return s.Kind() == KindAuto })
			if idx < 0 {
				continue
			}
			if regs := member.Models[idx].(*Auto).CustomRegs; regs.Len() > 0 {
				byColumn[member.Path[1]] = regs.Patterns
			}
		}
		if len(byColumn) > 0 {
			auto.CustomRegs.ByColumn = byColumn
		}
	}
}
