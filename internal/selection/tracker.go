package selection

import (
	"github.com/ilnaes/hyperpad/internal/hyper"
	"github.com/ilnaes/hyperpad/internal/ot"
	"github.com/ilnaes/hyperpad/internal/patch"
)

// Tracker keeps a selection valid while a patch is applied to the tree that
// holds it. Boundaries are kept as paths: the container route followed by
// the offset. A boundary the patch makes meaningless is dropped and the
// whole selection is reported invalid.
type Tracker struct {
	ranges []tracked
}

type tracked struct {
	start, end []int
	collapsed  bool
	reversed   bool
}

func Track(ranges []Range) *Tracker {
	t := &Tracker{}
	for _, r := range ranges {
		tr := tracked{
			start:     path(r.Start),
			collapsed: r.Collapsed(),
			reversed:  r.Reversed,
		}
		if tr.collapsed {
			tr.end = tr.start
		} else {
			tr.end = path(r.End)
		}
		t.ranges = append(t.ranges, tr)
	}
	return t
}

func path(b Boundary) []int {
	return append(append([]int(nil), b.Container...), b.Offset)
}

// Update adjusts the tracked boundaries for c. It is meant to run right
// before c is applied.
func (t *Tracker) Update(c patch.Change) {
	for i := range t.ranges {
		r := &t.ranges[i]
		r.start = updateBoundary(r.start, c)
		if r.collapsed {
			r.end = r.start
		} else {
			r.end = updateBoundary(r.end, c)
		}
	}
}

// Ranges returns the tracked selection. ok is false when any boundary was
// invalidated, in which case the caller should fall back to the text based
// selection.
func (t *Tracker) Ranges() (ranges []Range, ok bool) {
	for i, r := range t.ranges {
		if r.start == nil || r.end == nil {
			return nil, false
		}
		ranges = append(ranges, Range{
			Start:    toBoundary(r.start, i, Start),
			End:      toBoundary(r.end, i, End),
			Reversed: r.reversed,
		})
	}
	return ranges, true
}

func toBoundary(p []int, index int, typ BoundaryType) Boundary {
	return Boundary{
		RangeIndex: index,
		Type:       typ,
		Container:  append(hyper.Route{}, p[:len(p)-1]...),
		Offset:     p[len(p)-1],
	}
}

// containerHasPrefix is true when the container of boundary b lies at or
// below route.
func containerHasPrefix(b []int, route hyper.Route) bool {
	return hyper.Route(b[:len(b)-1]).HasPrefix(route)
}

func updateBoundary(b []int, c patch.Change) []int {
	if b == nil {
		return nil
	}
	b = append([]int(nil), b...)

	switch c.Action {
	case patch.AddElement, patch.AddTextElement:
		parent := c.Route.Parent()
		if containerHasPrefix(b, parent) && c.Route.Last() <= b[len(parent)] {
			b[len(parent)]++
		}

	case patch.RemoveElement, patch.RemoveTextElement:
		parent := c.Route.Parent()
		if containerHasPrefix(b, parent) {
			// a boundary directly in parent sits between children and
			// survives the removal of the child after it
			inside := len(b) > len(parent)+1
			switch idx := b[len(parent)]; {
			case c.Route.Last() < idx:
				b[len(parent)]--
			case c.Route.Last() == idx && inside:
				return nil
			}
		}

	case patch.ModifyTextElement:
		if containerHasPrefix(b, c.Route) {
			// a change before the boundary may be a split of the text node
			ops := ot.Diff(c.OldValue, c.NewValue)
			if len(ops) > 0 && b[len(b)-1] > ops[0].Offset {
				return nil
			}
		}

	case patch.ReplaceElement:
		if containerHasPrefix(b, c.Route) {
			return nil
		}

	case patch.RelocateGroup:
		if containerHasPrefix(b, c.Route) {
			d := len(c.Route)
			idx := b[d]
			if c.From <= idx && idx < c.From+c.GroupLength {
				b[d] = idx + c.To - c.From
				break
			}
			// position among the children left after the group is taken out
			if idx >= c.From+c.GroupLength {
				idx -= c.GroupLength
			}
			if idx >= c.To {
				idx += c.GroupLength
			}
			b[d] = idx
		}
	}
	return b
}
