package hyper

import (
	"strings"
)

// Filter controls which parts of a live tree take part in serialization.
// Both hooks must be deterministic and identical on every peer.
type Filter struct {
	// ShouldSerialize returns false to drop an element and its subtree.
	ShouldSerialize func(e *Element) bool
	// FilterAttributes may rewrite the attributes of a copied element.
	FilterAttributes func(e *Element) *Element
}

// Apply returns a filtered deep copy of root. The root itself is always kept.
func (f *Filter) Apply(root *Element) *Element {
	if f == nil {
		return root.Clone()
	}
	return f.element(root)
}

func (f *Filter) element(e *Element) *Element {
	c := &Element{
		Tag:      e.Tag,
		Attrs:    make(map[string]string, len(e.Attrs)),
		Children: make([]Node, 0, len(e.Children)),
	}
	for k, v := range e.Attrs {
		c.Attrs[k] = v
	}
	for _, child := range e.Children {
		switch child := child.(type) {
		case Text:
			c.Children = append(c.Children, child)
		case *Element:
			if f.ShouldSerialize != nil && !f.ShouldSerialize(child) {
				continue
			}
			c.Children = append(c.Children, f.element(child))
		}
	}
	if f.FilterAttributes != nil {
		c = f.FilterAttributes(c)
	}
	return c
}

// Serialize filters root and returns its canonical form.
func (f *Filter) Serialize(root *Element) string {
	return Marshal(f.Apply(root))
}

var forbiddenTags = map[string]bool{
	"SCRIPT": true,
	"IFRAME": true,
	"OBJECT": true,
	"APPLET": true,
	"VIDEO":  true,
	"AUDIO":  true,
}

// transient editor state that must never reach other peers
var transientClasses = []string{
	"cke_widget_selected",
	"cke_widget_focused",
}

// DefaultFilter drops active content, editor helpers and per user widget
// state.
var DefaultFilter = &Filter{
	ShouldSerialize: func(e *Element) bool {
		if forbiddenTags[strings.ToUpper(e.Tag)] {
			return false
		}
		return !HasClass(e, "cke_widget_drag_handler_container")
	},
	FilterAttributes: func(e *Element) *Element {
		for name := range e.Attrs {
			if IsEventHandler(name) {
				delete(e.Attrs, name)
			}
		}
		for _, c := range transientClasses {
			RemoveClass(e, c)
		}
		if HasClass(e, "cke_widget_wrapper") {
			// labels are localized per user
			delete(e.Attrs, "aria-label")
			delete(e.Attrs, "title")
		}
		return e
	},
}

// IsEventHandler reports whether an attribute name is an inline script hook.
func IsEventHandler(name string) bool {
	return len(name) > 2 && strings.EqualFold(name[:2], "on")
}

func HasClass(e *Element, class string) bool {
	for _, c := range strings.Fields(e.Attrs["class"]) {
		if c == class {
			return true
		}
	}
	return false
}

// RemoveClass removes class from e, dropping the attribute once it is empty.
func RemoveClass(e *Element, class string) {
	v, ok := e.Attrs["class"]
	if !ok || !HasClass(e, class) {
		return
	}
	kept := []string{}
	for _, c := range strings.Fields(v) {
		if c != class {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(e.Attrs, "class")
		return
	}
	e.Attrs["class"] = strings.Join(kept, " ")
}
