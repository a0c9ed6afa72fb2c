package interdoc

import (
	"fmt"
	"maps"
	"slices"
)

// Normalize applies the page-spanning merge rules in place. Every table
// and paragraph ends up with Pages and Rects set; combo tables and
// page-merged paragraphs are replaced by their first fragment carrying
// the joined content. Normalize is idempotent.
func Normalize(d *Interdoc) error {
	if err := mergeComboTables(d); err != nil {
		return err
	}
	mergePageParagraphs(d)
	for _, fam := range d.families() {
		for i := range *fam.elems {
			if (*fam.elems)[i].Class == "" {
				(*fam.elems)[i].Class = fam.class
			}
		}
	}
	return nil
}

func singlePage(e *Element) {
	e.Pages = []int{e.Page}
	e.Rects = map[int][]Outline{e.Page: {e.Outline}}
}

func spanPages(elems []Element) ([]int, map[int][]Outline) {
	rects := map[int][]Outline{}
	for _, e := range elems {
		rects[e.Page] = append(rects[e.Page], e.Outline)
	}
	return slices.Sorted(maps.Keys(rects)), rects
}

func mergeComboTables(d *Interdoc) error {
	byIndex := make(map[int]Element, len(d.Tables))
	for _, t := range d.Tables {
		byIndex[t.Index] = t
	}

	visited := map[int]bool{}
	out := make([]Element, 0, len(d.Tables))
	for _, item := range d.Tables {
		if visited[item.Index] {
			continue
		}
		if len(item.Pages) > 0 {
			out = append(out, item)
			continue
		}
		if item.ComboTableIdx == nil || *item.ComboTableIdx < 0 {
			singlePage(&item)
			out = append(out, item)
			continue
		}

		idx := *item.ComboTableIdx
		if idx >= len(d.ComboTables) {
			return fmt.Errorf("%w: table %d references combo table %d of %d", ErrInvalidInterdoc, item.Index, idx, len(d.ComboTables))
		}
		combo := d.ComboTables[idx]
		sources := make([]Element, 0, len(combo.TableIndices))
		for _, ti := range combo.TableIndices {
			visited[ti] = true
			src, ok := byIndex[ti]
			if !ok {
				return fmt.Errorf("%w: combo table %d references missing table %d", ErrInvalidInterdoc, idx, ti)
			}
			sources = append(sources, src)
		}

		cells := make(map[string]Cell, len(combo.Cells))
		for key, refs := range combo.Cells {
			var parts []Cell
			for _, ref := range refs {
				src, ok := byIndex[ref.Table]
				if !ok {
					continue
				}
				if c, ok := src.Cells[ref.Key]; ok {
					parts = append(parts, c)
				}
			}
			if len(parts) == 0 {
				continue
			}
			joined := parts[0]
			joined.Chars = slices.Clone(joined.Chars)
			for _, p := range parts[1:] {
				joined.Text += p.Text
				joined.Chars = append(joined.Chars, p.Chars...)
			}
			cells[key] = joined
		}

		item.OriginCells = item.Cells
		item.OriginMerged = item.Merged
		item.Cells = cells
		item.Merged = combo.Merged
		if len(combo.MergedGrid) > 0 {
			item.Grid = combo.MergedGrid
		}
		item.Pages, item.Rects = spanPages(sources)
		out = append(out, item)
	}
	d.Tables = out
	return nil
}

func mergePageParagraphs(d *Interdoc) {
	byIndex := make(map[int]Element, len(d.Paragraphs))
	for _, p := range d.Paragraphs {
		byIndex[p.Index] = p
	}

	visited := map[int]bool{}
	out := make([]Element, 0, len(d.Paragraphs))
	for _, item := range d.Paragraphs {
		if visited[item.Index] {
			continue
		}
		if len(item.Pages) > 0 {
			out = append(out, item)
			continue
		}
		merged := item.PageMergedParagraph
		if merged == nil || len(merged.ParagraphIndices) == 0 {
			singlePage(&item)
			out = append(out, item)
			continue
		}

		var parts []Element
		for _, pi := range merged.ParagraphIndices {
			visited[pi] = true
			if p, ok := byIndex[pi]; ok {
				parts = append(parts, p)
			}
		}
		item.Text = ""
		item.Chars = nil
		for _, p := range parts {
			item.Text += p.Text
			item.Chars = append(item.Chars, p.Chars...)
		}
		item.Pages, item.Rects = spanPages(parts)
		out = append(out, item)
	}
	d.Paragraphs = out
}
