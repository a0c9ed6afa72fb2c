package answer

import (
	"fmt"

	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// Progress counts finished first-level fields against the total of
// non-LLM root fields plus custom field entries.
type Progress struct {
	Finished int
	Total    int
}

// String renders the persisted "finished/total" form.
func (p Progress) String() string {
	return fmt.Sprintf("%d/%d", p.Finished, p.Total)
}

// ComputeProgress measures a against mold data d. A nil answer has no
// finished fields.
func ComputeProgress(a *Answer, d *schema.Data) Progress {
	var p Progress
	counted := map[string]bool{}
	if root := d.Root(); root != nil {
		for _, name := range root.Orders {
			if f, ok := root.Field(name); ok && !f.IsLLM() {
				counted[name] = true
				p.Total++
			}
		}
	}
	if a == nil {
		return p
	}

	done := map[string]bool{}
	for i := range a.UserAnswer.Items {
		it := &a.UserAnswer.Items[i]
		if !it.HasContent() {
			continue
		}
		path, err := it.Path()
		if err != nil {
			continue
		}
		if first, ok := path.FirstLevel(); ok && counted[first.Name] {
			done[first.Name] = true
		}
	}
	p.Finished = len(done)

	custom := a.CustomItems()
	p.Total += len(custom)
	for i := range custom {
		if custom[i].HasContent() {
			p.Finished++
		}
	}
	return p
}
