package migrate

import (
	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// Result reports what happened to one answer.
type Result struct {
	Answer  *answer.Answer
	Kept    int
	Dropped int
	Changed bool
}

// Answer migrates a onto mold data d with the given checksum. renames
// re-binds renamed fields; nil keeps only paths that resolve unchanged.
// A nil answer migrates to nil.
func Answer(a *answer.Answer, d *schema.Data, checksum string, renames schema.Renames) Result {
	if a == nil {
		return Result{}
	}
	if a.Version() == checksum && len(renames) == 0 {
		return Result{Answer: a, Kept: len(a.UserAnswer.Items)}
	}

	out := answer.New(d, checksum)
	out.UserAnswer.Version = a.UserAnswer.Version
	if out.UserAnswer.Version == "" {
		out.UserAnswer.Version = answer.Version
	}
	if a.CustomField != nil {
		out.CustomField = &answer.ItemSet{Version: a.CustomField.Version, Items: cloneAll(a.CustomField.Items)}
	}

	res := Result{Answer: out, Changed: a.Version() != checksum}
	for _, it := range a.UserAnswer.Items {
		m, ok := Item(it, d, renames)
		if !ok {
			res.Dropped++
			res.Changed = true
			continue
		}
		if m.Key != it.Key || m.Schema.Data != it.Schema.Data {
			res.Changed = true
		}
		out.UserAnswer.Items = append(out.UserAnswer.Items, m)
		res.Kept++
	}
	return res
}

// Item migrates one item. It reports false when the key no longer
// resolves to a leaf of d.
func Item(it answer.Item, d *schema.Data, renames schema.Renames) (answer.Item, bool) {
	p, err := it.Path()
	if err != nil {
		return answer.Item{}, false
	}
	ok, canon := schema.ContainsPath(d, p, true, renames)
	if !ok {
		return answer.Item{}, false
	}
	s, err := answer.SchemaFor(d, canon)
	if err != nil {
		return answer.Item{}, false
	}
	out := it.Clone()
	out.Key = canon.Key()
	out.Schema.Data = s.Data
	return out, true
}

func cloneAll(items []answer.Item) []answer.Item {
	out := make([]answer.Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}
