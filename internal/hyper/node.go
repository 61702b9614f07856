package hyper

import (
	"errors"
	"fmt"
	"sort"
)

var ErrNoSuchNode = errors.New("no such node")

// Node is either a Text or an *Element.
type Node interface {
	isNode()
}

// Text is a leaf text node.
type Text string

func (Text) isNode() {}

// Element is a tagged node with attributes and ordered children.
type Element struct {
	Tag      string
	Attrs    map[string]string
	Children []Node
}

func (*Element) isNode() {}

// NewElement builds an element. attrs may be nil.
func NewElement(tag string, attrs map[string]string, children ...Node) *Element {
	if attrs == nil {
		attrs = map[string]string{}
	}
	if children == nil {
		children = []Node{}
	}
	return &Element{Tag: tag, Attrs: attrs, Children: children}
}

func (e *Element) Attr(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

func (e *Element) SetAttr(name, value string) {
	if e.Attrs == nil {
		e.Attrs = map[string]string{}
	}
	e.Attrs[name] = value
}

func (e *Element) RemoveAttr(name string) {
	delete(e.Attrs, name)
}

// AttrNames returns the attribute names in sorted order.
func (e *Element) AttrNames() []string {
	names := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// InsertChild inserts n so that it ends up at index i.
func (e *Element) InsertChild(i int, n Node) error {
	if i < 0 || i > len(e.Children) {
		return fmt.Errorf("%w: child %d of %s", ErrNoSuchNode, i, e.Tag)
	}
	e.Children = append(e.Children, nil)
	copy(e.Children[i+1:], e.Children[i:])
	e.Children[i] = n
	return nil
}

// RemoveChild removes and returns the child at index i.
func (e *Element) RemoveChild(i int) (Node, error) {
	if i < 0 || i >= len(e.Children) {
		return nil, fmt.Errorf("%w: child %d of %s", ErrNoSuchNode, i, e.Tag)
	}
	n := e.Children[i]
	e.Children = append(e.Children[:i], e.Children[i+1:]...)
	return n, nil
}

// Clone returns a deep copy of n.
func Clone(n Node) Node {
	switch n := n.(type) {
	case Text:
		return n
	case *Element:
		return n.Clone()
	}
	return nil
}

func (e *Element) Clone() *Element {
	c := &Element{
		Tag:      e.Tag,
		Attrs:    make(map[string]string, len(e.Attrs)),
		Children: make([]Node, len(e.Children)),
	}
	for k, v := range e.Attrs {
		c.Attrs[k] = v
	}
	for i, child := range e.Children {
		c.Children[i] = Clone(child)
	}
	return c
}

// Route addresses a node by child indices from the root.
type Route []int

func (r Route) Parent() Route {
	if len(r) == 0 {
		return nil
	}
	return r[:len(r)-1]
}

func (r Route) Last() int {
	if len(r) == 0 {
		return -1
	}
	return r[len(r)-1]
}

// Child returns a new route one level below r.
func (r Route) Child(i int) Route {
	c := make(Route, len(r)+1)
	copy(c, r)
	c[len(r)] = i
	return c
}

func (r Route) Equal(o Route) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if r[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix is true when p addresses r or one of its ancestors.
func (r Route) HasPrefix(p Route) bool {
	return len(p) <= len(r) && r[:len(p)].Equal(p)
}

// Lookup resolves r starting at root.
func Lookup(root *Element, r Route) (Node, error) {
	var n Node = root
	for depth, i := range r {
		e, ok := n.(*Element)
		if !ok || i < 0 || i >= len(e.Children) {
			return nil, fmt.Errorf("%w: %v at depth %d", ErrNoSuchNode, r, depth)
		}
		n = e.Children[i]
	}
	return n, nil
}

// LookupElement resolves r and requires an element there.
func LookupElement(root *Element, r Route) (*Element, error) {
	n, err := Lookup(root, r)
	if err != nil {
		return nil, err
	}
	e, ok := n.(*Element)
	if !ok {
		return nil, fmt.Errorf("%w: %v is a text node", ErrNoSuchNode, r)
	}
	return e, nil
}

// TextContent concatenates all text below n.
func TextContent(n Node) string {
	switch n := n.(type) {
	case Text:
		return string(n)
	case *Element:
		s := ""
		for _, c := range n.Children {
			s += TextContent(c)
		}
		return s
	}
	return ""
}
