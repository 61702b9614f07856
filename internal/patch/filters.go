package patch

import (
	"github.com/ilnaes/hyperpad/internal/hyper"
)

// Filter vetoes a single change. target is the node the change is aimed at
// as resolved against the live tree.
type Filter func(c Change, target hyper.Node) (reject bool, reason string)

// Chain runs filters in order and stops at the first rejection.
func Chain(filters ...Filter) Filter {
	return func(c Change, target hyper.Node) (bool, string) {
		for _, f := range filters {
			if f == nil {
				continue
			}
			if reject, reason := f(c, target); reject {
				return true, reason
			}
		}
		return false, ""
	}
}

// RejectRootChanges keeps the content wrapper itself out of reach: its
// attributes belong to the local editor and it is never replaced.
func RejectRootChanges(c Change, target hyper.Node) (bool, string) {
	if len(c.Route) == 0 && c.Action != RelocateGroup {
		return true, "change to the content wrapper"
	}
	return false, ""
}

// RejectEventHandlers refuses inline script attributes.
func RejectEventHandlers(c Change, target hyper.Node) (bool, string) {
	if (c.Action == AddAttribute || c.Action == ModifyAttribute) && hyper.IsEventHandler(c.Name) {
		return true, "event handler attribute " + c.Name
	}
	return false, ""
}

// RejectTransientWidgetState drops changes that only toggle per user widget
// selection classes.
func RejectTransientWidgetState(c Change, target hyper.Node) (bool, string) {
	if c.Action != ModifyAttribute || c.Name != "class" {
		return false, ""
	}
	before := hyper.NewElement("X", map[string]string{"class": c.OldValue})
	after := hyper.NewElement("X", map[string]string{"class": c.NewValue})
	for _, cl := range []string{"cke_widget_selected", "cke_widget_focused"} {
		hyper.RemoveClass(before, cl)
		hyper.RemoveClass(after, cl)
	}
	if before.Attrs["class"] == after.Attrs["class"] {
		return true, ""
	}
	return false, ""
}

// DefaultFilters are the filters every session installs.
var DefaultFilters = []Filter{
	RejectRootChanges,
	RejectEventHandlers,
	RejectTransientWidgetState,
}
