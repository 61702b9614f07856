package selection

import (
	"github.com/ilnaes/hyperpad/internal/hyper"
)

type BoundaryType string

const (
	Start BoundaryType = "start"
	End   BoundaryType = "end"
)

// Boundary is one end of a selection range. Container addresses a text node
// (Offset counts bytes) or an element (Offset counts children).
type Boundary struct {
	RangeIndex int          `json:"rangeIndex"`
	Type       BoundaryType `json:"type"`
	Container  hyper.Route  `json:"container"`
	Offset     int          `json:"offset"`
}

type Range struct {
	Start    Boundary `json:"start"`
	End      Boundary `json:"end"`
	Reversed bool     `json:"reversed,omitempty"`
}

func (r Range) Collapsed() bool {
	return r.Start.Container.Equal(r.End.Container) && r.Start.Offset == r.End.Offset
}

// Compare returns -1, 0 or 1 as a is before, at or after b in document
// order. A text boundary sorts below its text node, an element boundary
// between two children.
func Compare(a, b Boundary) int {
	ka := append(append([]int(nil), a.Container...), a.Offset)
	kb := append(append([]int(nil), b.Container...), b.Offset)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		switch {
		case ka[i] < kb[i]:
			return -1
		case ka[i] > kb[i]:
			return 1
		}
	}
	switch {
	case len(ka) < len(kb):
		return -1
	case len(ka) > len(kb):
		return 1
	}
	return 0
}

// Normalize orders the boundaries of r in document order, flipping Reversed
// when they had to be swapped.
func Normalize(r Range) Range {
	if Compare(r.Start, r.End) > 0 {
		r.Start, r.End = r.End, r.Start
		r.Start.Type, r.End.Type = Start, End
		r.Reversed = !r.Reversed
	}
	return r
}

// Clamp moves b to the nearest valid position. A boundary whose container is
// gone lands where that container used to be in the closest surviving
// ancestor; offsets past the end of a container are pulled back to its end.
func Clamp(root *hyper.Element, b Boundary) Boundary {
	route, offset := b.Container, b.Offset
	for {
		n, err := hyper.Lookup(root, route)
		if err == nil {
			limit := 0
			switch n := n.(type) {
			case hyper.Text:
				limit = len(n)
			case *hyper.Element:
				limit = len(n.Children)
			}
			if offset > limit {
				offset = limit
			}
			if offset < 0 {
				offset = 0
			}
			b.Container, b.Offset = append(hyper.Route{}, route...), offset
			return b
		}
		offset = route.Last()
		route = route.Parent()
	}
}
