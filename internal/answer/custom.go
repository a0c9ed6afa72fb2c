package answer

// MergeCustomField folds incoming custom field items into existing ones
// keyed by KeyMD5. Incoming items win; new keys keep arrival order after
// the existing ones.
func MergeCustomField(existing, incoming []Item) []Item {
	index := make(map[string]int, len(existing)+len(incoming))
	out := make([]Item, 0, len(existing)+len(incoming))
	for _, items := range [][]Item{existing, incoming} {
		for _, it := range items {
			k := it.KeyMD5()
			if i, ok := index[k]; ok {
				out[i] = it.Clone()
				continue
			}
			index[k] = len(out)
			out = append(out, it.Clone())
		}
	}
	return out
}

// WithCustomField returns a copy of a whose custom field holds the merge
// of prev's and a's custom items.
func WithCustomField(a, prev *Answer) *Answer {
	if a == nil {
		return nil
	}
	out := a.Clone()
	merged := MergeCustomField(prev.CustomItems(), a.CustomItems())
	out.CustomField = &ItemSet{Version: Version, Items: merged}
	return out
}
