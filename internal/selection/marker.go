package selection

import (
	"encoding/json"
	"sort"

	"github.com/ilnaes/hyperpad/internal/hyper"
)

const (
	MarkerTag  = "SPAN"
	MarkerAttr = "data-rt-selection"
)

type payload struct {
	RangeIndex int          `json:"rangeIndex"`
	Type       BoundaryType `json:"type"`
	TextOffset *int         `json:"textOffset,omitempty"`
	Reversed   bool         `json:"reversed,omitempty"`
}

// Marker is a marker element found in a tree. Only the range index and type
// of its Boundary are known before the marker is resolved.
type Marker struct {
	Route    hyper.Route
	Boundary Boundary
}

type insertion struct {
	parent hyper.Route
	index  int
	data   payload
}

// IsMarker reports whether n is a selection marker element.
func IsMarker(n hyper.Node) bool {
	e, ok := n.(*hyper.Element)
	if !ok || e.Tag != MarkerTag {
		return false
	}
	_, ok = e.Attrs[MarkerAttr]
	return ok
}

// Mark inserts a zero-width marker element for every boundary of ranges so
// that the selection travels with the serialized content. A boundary inside
// a text node is marked right before that node and remembers its text
// offset, which keeps the text node itself intact.
func Mark(root *hyper.Element, ranges []Range) []Marker {
	ins := []insertion{}
	for i, r := range ranges {
		ends := []struct {
			b Boundary
			t BoundaryType
		}{{r.Start, Start}, {r.End, End}}
		for _, end := range ends {
			b := Clamp(root, end.b)
			b.RangeIndex, b.Type = i, end.t
			p := payload{RangeIndex: i, Type: end.t, Reversed: end.t == Start && r.Reversed}

			n, _ := hyper.Lookup(root, b.Container)
			if _, ok := n.(hyper.Text); ok && len(b.Container) > 0 {
				off := b.Offset
				p.TextOffset = &off
				ins = append(ins, insertion{b.Container.Parent(), b.Container.Last(), p})
			} else {
				ins = append(ins, insertion{b.Container, b.Offset, p})
			}
		}
	}

	// insert back to front so earlier routes stay valid
	sort.SliceStable(ins, func(i, j int) bool {
		a := Boundary{Container: ins[i].parent, Offset: ins[i].index}
		b := Boundary{Container: ins[j].parent, Offset: ins[j].index}
		return Compare(a, b) < 0
	})

	for k := len(ins) - 1; k >= 0; k-- {
		in := ins[k]
		parent, err := hyper.LookupElement(root, in.parent)
		if err != nil {
			continue
		}
		data, _ := json.Marshal(in.data)
		parent.InsertChild(in.index, hyper.NewElement(MarkerTag, map[string]string{MarkerAttr: string(data)}))
	}
	return Markers(root)
}

// Markers lists the markers present in root in document order.
func Markers(root *hyper.Element) []Marker {
	out := []Marker{}
	var walk func(e *hyper.Element, route hyper.Route)
	walk = func(e *hyper.Element, route hyper.Route) {
		for i, c := range e.Children {
			if IsMarker(c) {
				var p payload
				if json.Unmarshal([]byte(c.(*hyper.Element).Attrs[MarkerAttr]), &p) == nil {
					out = append(out, Marker{
						Route:    route.Child(i),
						Boundary: Boundary{RangeIndex: p.RangeIndex, Type: p.Type},
					})
				}
				continue
			}
			if child, ok := c.(*hyper.Element); ok {
				walk(child, route.Child(i))
			}
		}
	}
	walk(root, hyper.Route{})
	return out
}

type found struct {
	parent hyper.Route
	index  int
	data   payload
}

// Resolve removes every marker from root and returns the ranges they
// encode, ordered by range index. A marker followed by a text node resolves
// into that node, at offset 0 when it carries no text offset. A range missing
// one boundary collapses on the other one; boundaries whose text node
// disappeared are clamped.
func Resolve(root *hyper.Element) []Range {
	markers := []found{}
	strip(root, hyper.Route{}, &markers)

	type pair struct {
		start, end *Boundary
		reversed   bool
	}
	pairs := map[int]*pair{}
	indices := []int{}

	for _, m := range markers {
		b := Boundary{RangeIndex: m.data.RangeIndex, Type: m.data.Type, Container: m.parent, Offset: m.index}
		parent, _ := hyper.LookupElement(root, m.parent)
		if parent != nil && m.index < len(parent.Children) {
			// a marker right before a text node points into it
			if _, ok := parent.Children[m.index].(hyper.Text); ok {
				b.Container = m.parent.Child(m.index)
				b.Offset = 0
				if m.data.TextOffset != nil {
					b.Offset = *m.data.TextOffset
				}
			}
		}
		b = Clamp(root, b)

		p, ok := pairs[b.RangeIndex]
		if !ok {
			p = &pair{}
			pairs[b.RangeIndex] = p
			indices = append(indices, b.RangeIndex)
		}
		bb := b
		if b.Type == End {
			p.end = &bb
		} else {
			p.start = &bb
			p.reversed = m.data.Reversed
		}
	}

	sort.Ints(indices)
	ranges := make([]Range, 0, len(indices))
	for _, i := range indices {
		p := pairs[i]
		if p.start == nil {
			s := *p.end
			p.start = &s
		}
		if p.end == nil {
			e := *p.start
			p.end = &e
		}
		r := Range{Start: *p.start, End: *p.end, Reversed: p.reversed}
		r.Start.Type, r.End.Type = Start, End
		ranges = append(ranges, Normalize(r))
	}
	return ranges
}

func strip(e *hyper.Element, route hyper.Route, out *[]found) {
	kept := make([]hyper.Node, 0, len(e.Children))
	for _, c := range e.Children {
		if IsMarker(c) {
			var p payload
			if err := json.Unmarshal([]byte(c.(*hyper.Element).Attrs[MarkerAttr]), &p); err == nil {
				*out = append(*out, found{route, len(kept), p})
			}
			continue
		}
		kept = append(kept, c)
	}
	e.Children = kept

	for i, c := range e.Children {
		if child, ok := c.(*hyper.Element); ok {
			strip(child, route.Child(i), out)
		}
	}
}
