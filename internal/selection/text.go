package selection

import (
	"github.com/ilnaes/hyperpad/internal/hyper"
	"github.com/ilnaes/hyperpad/internal/ot"
)

// TextSelection is a selection saved against the plain text of a tree. It
// survives structural changes that invalidate path based boundaries.
type TextSelection struct {
	Text     string
	Start    int
	End      int
	Reversed bool
}

// SaveText records r as offsets into the text content of root.
func SaveText(root *hyper.Element, r Range) TextSelection {
	r = Normalize(r)
	return TextSelection{
		Text:     hyper.TextContent(root),
		Start:    textOffset(root, r.Start),
		End:      textOffset(root, r.End),
		Reversed: r.Reversed,
	}
}

// Transform moves the saved offsets onto text, the new text content.
func (s TextSelection) Transform(text string) TextSelection {
	if text == s.Text {
		return s
	}
	ops := ot.Diff(s.Text, text)
	move := func(off int) int {
		res := ot.Rebase([]ot.Operation{{Offset: off}}, ops, s.Text, true)
		if len(res) == 0 {
			return len(text)
		}
		return res[0].Offset
	}
	return TextSelection{Text: text, Start: move(s.Start), End: move(s.End), Reversed: s.Reversed}
}

// Restore transforms s onto the content of root and converts it back to a
// range.
func (s TextSelection) Restore(root *hyper.Element) Range {
	s = s.Transform(hyper.TextContent(root))
	return Range{
		Start:    fromTextOffset(root, s.Start, Start),
		End:      fromTextOffset(root, s.End, End),
		Reversed: s.Reversed,
	}
}

// textOffset counts the text bytes before b in document order.
func textOffset(root *hyper.Element, b Boundary) int {
	count := 0
	var walk func(n hyper.Node, route hyper.Route) bool
	walk = func(n hyper.Node, route hyper.Route) bool {
		switch n := n.(type) {
		case hyper.Text:
			if route.Equal(b.Container) {
				off := b.Offset
				if off > len(n) {
					off = len(n)
				}
				count += off
				return true
			}
			count += len(n)
		case *hyper.Element:
			for i, c := range n.Children {
				if route.Equal(b.Container) && i == b.Offset {
					return true
				}
				if walk(c, route.Child(i)) {
					return true
				}
			}
			if route.Equal(b.Container) {
				return true
			}
		}
		return false
	}
	walk(root, hyper.Route{})
	return count
}

// fromTextOffset finds the text node holding off. Without text the boundary
// goes to the end of the root.
func fromTextOffset(root *hyper.Element, off int, typ BoundaryType) Boundary {
	var (
		last  hyper.Route
		found *Boundary
	)
	var walk func(n hyper.Node, route hyper.Route)
	walk = func(n hyper.Node, route hyper.Route) {
		if found != nil {
			return
		}
		switch n := n.(type) {
		case hyper.Text:
			if off <= len(n) {
				found = &Boundary{Type: typ, Container: route, Offset: off}
				return
			}
			off -= len(n)
			last = route
		case *hyper.Element:
			for i, c := range n.Children {
				walk(c, route.Child(i))
			}
		}
	}
	walk(root, hyper.Route{})

	if found != nil {
		return *found
	}
	if last != nil {
		n, _ := hyper.Lookup(root, last)
		return Boundary{Type: typ, Container: last, Offset: len(n.(hyper.Text))}
	}
	return Boundary{Type: typ, Container: hyper.Route{}, Offset: len(root.Children)}
}
