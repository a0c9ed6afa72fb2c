package merge

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/migrate"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// Policy selects how conflicting contributions are resolved.
type Policy string

const (
	// Merged unions boxes per key and takes the majority enum value.
	Merged Policy = "merged"
	// Manual keeps only the last contributor's items.
	Manual Policy = "manual"
	// Latest keeps only the earliest contributor's items.
	Latest Policy = "latest"
)

// ParsePolicy reads a configured policy name. Empty means Merged.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Merged, nil
	case Merged, Manual, Latest:
		return p, nil
	}
	return "", fmt.Errorf("unknown conflict treatment %q", s)
}

// Contribution is one user's answer.
type Contribution struct {
	UID        int64
	Name       string
	Data       *answer.Answer
	UpdatedUTC int64
}

// Options controls a merge.
type Options struct {
	Policy Policy
	// KeepEmpty keeps items without evidence or value.
	KeepEmpty bool
	// Renames re-binds renamed fields when migrating stale answers.
	Renames schema.Renames
}

// Merge builds the canonical answer for mold data d. base, usually the
// preset answer, supplies items for keys no contributor labeled. The
// result is nil when there is neither a base nor a contribution.
func Merge(base *answer.Answer, contribs []Contribution, d *schema.Data, checksum string, opts Options) *answer.Answer {
	if opts.Policy == "" {
		opts.Policy = Merged
	}
	contribs = prepare(contribs, d, checksum, opts)
	if base != nil {
		base = migrate.Answer(base, d, checksum, opts.Renames).Answer
	}
	if base == nil && len(contribs) == 0 {
		return nil
	}

	if len(contribs) > 0 {
		switch opts.Policy {
		case Manual:
			contribs = contribs[len(contribs)-1:]
		case Latest:
			contribs = contribs[:1]
		}
	}

	out := answer.New(d, checksum)
	pos := map[string]int{}
	if base != nil {
		for _, it := range base.UserAnswer.Items {
			if !opts.KeepEmpty && it.IsEmpty() && !it.IsPlaceholder() {
				continue
			}
			pos[it.Key] = len(out.UserAnswer.Items)
			out.UserAnswer.Items = append(out.UserAnswer.Items, it.Clone())
		}
	}

	var order []string
	byKey := map[string][]labeled{}
	for _, c := range contribs {
		for _, it := range c.Data.UserAnswer.Items {
			if _, seen := byKey[it.Key]; !seen {
				order = append(order, it.Key)
			}
			byKey[it.Key] = append(byKey[it.Key], labeled{item: it, by: c})
		}
	}
	for _, key := range order {
		merged := mergeItem(byKey[key])
		if i, ok := pos[key]; ok {
			out.UserAnswer.Items[i] = merged
			continue
		}
		pos[key] = len(out.UserAnswer.Items)
		out.UserAnswer.Items = append(out.UserAnswer.Items, merged)
	}

	var custom []answer.Item
	if base != nil {
		custom = base.CustomItems()
	}
	for _, c := range contribs {
		custom = answer.MergeCustomField(custom, c.Data.CustomItems())
	}
	if len(custom) > 0 {
		out.CustomField = &answer.ItemSet{Version: answer.Version, Items: custom}
	}
	return out
}

// prepare migrates contributions, drops empty items and orders the list
// oldest first.
func prepare(contribs []Contribution, d *schema.Data, checksum string, opts Options) []Contribution {
	out := make([]Contribution, 0, len(contribs))
	for _, c := range contribs {
		if c.Data == nil {
			continue
		}
		c.Data = migrate.Answer(c.Data, d, checksum, opts.Renames).Answer
		if !opts.KeepEmpty {
			c.Data = dropEmpty(c.Data)
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b Contribution) int {
		switch {
		case a.UpdatedUTC < b.UpdatedUTC:
			return -1
		case a.UpdatedUTC > b.UpdatedUTC:
			return 1
		}
		return 0
	})
	return out
}

func dropEmpty(a *answer.Answer) *answer.Answer {
	if !slices.ContainsFunc(a.UserAnswer.Items, func(it answer.Item) bool { return it.IsEmpty() }) {
		return a
	}
	out := a.Clone()
	out.UserAnswer.Items = slices.DeleteFunc(out.UserAnswer.Items, func(it answer.Item) bool { return it.IsEmpty() })
	return out
}

type labeled struct {
	item answer.Item
	by   Contribution
}

// mergeItem combines the versions of one key, oldest first. The newest
// version is the template: its text wins, boxes from older versions are
// appended when not already present, and the value is the majority
// choice with ties going to the newest.
func mergeItem(versions []labeled) answer.Item {
	last := versions[len(versions)-1]
	out := last.item.Clone()
	if len(versions) == 1 {
		if out.Marker == nil {
			out.Marker = &answer.Marker{ID: last.by.UID, Name: last.by.Name, Others: []string{}}
		}
		return out
	}

	seen := out.BoxKeys()
	manual := boxManual(out)
	for i := len(versions) - 2; i >= 0; i-- {
		v := versions[i].item
		out.Manual = out.Manual || v.Manual
		for _, d := range v.Data {
			var fresh []answer.BoxRef
			for _, b := range d.Boxes {
				k := answer.BoxKey{Page: b.Page, Box: b.Box}
				if _, ok := seen[k]; ok {
					if b.Manual {
						manual[k] = true
					}
					continue
				}
				seen[k] = struct{}{}
				fresh = append(fresh, b)
			}
			if len(fresh) > 0 {
				out.Data = append(out.Data, answer.Datum{Boxes: fresh, HandleType: d.HandleType})
			}
		}
	}
	for i := range out.Data {
		for j := range out.Data[i].Boxes {
			b := &out.Data[i].Boxes[j]
			if manual[answer.BoxKey{Page: b.Page, Box: b.Box}] {
				b.Manual = true
			}
		}
	}

	out.Value = majority(versions)
	out.Marker = markers(versions)
	return out
}

func boxManual(it answer.Item) map[answer.BoxKey]bool {
	out := map[answer.BoxKey]bool{}
	for _, d := range it.Data {
		for _, b := range d.Boxes {
			if b.Manual {
				out[answer.BoxKey{Page: b.Page, Box: b.Box}] = true
			}
		}
	}
	return out
}

// majority returns the most frequent value among versions that chose
// one. Ties go to the newest contributor.
func majority(versions []labeled) answer.Value {
	counts := map[string]int{}
	latest := map[string]int{}
	values := map[string]answer.Value{}
	for i, v := range versions {
		if len(v.item.Value) == 0 {
			continue
		}
		k := strings.Join(v.item.Value, "\x00")
		counts[k]++
		latest[k] = i
		values[k] = v.item.Value
	}
	best, bestCount, bestAt := "", 0, -1
	for k, c := range counts {
		if c > bestCount || (c == bestCount && latest[k] > bestAt) {
			best, bestCount, bestAt = k, c, latest[k]
		}
	}
	if bestCount == 0 {
		return nil
	}
	return slices.Clone(values[best])
}

// markers names the newest contributor and lists the others, most recent
// first, without repeats.
func markers(versions []labeled) *answer.Marker {
	last := versions[len(versions)-1].by
	m := &answer.Marker{ID: last.UID, Name: last.Name, Others: []string{}}
	for i := len(versions) - 2; i >= 0; i-- {
		name := versions[i].by.Name
		if name != last.Name && !slices.Contains(m.Others, name) {
			m.Others = append(m.Others, name)
		}
	}
	return m
}
