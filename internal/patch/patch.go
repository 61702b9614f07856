package patch

import (
	"errors"
	"fmt"

	"github.com/ilnaes/hyperpad/internal/hyper"
)

var ErrRouteNotFound = errors.New("route not found")

type Action string

const (
	AddElement        Action = "addElement"
	RemoveElement     Action = "removeElement"
	ReplaceElement    Action = "replaceElement"
	AddTextElement    Action = "addTextElement"
	ModifyTextElement Action = "modifyTextElement"
	RemoveTextElement Action = "removeTextElement"
	AddAttribute      Action = "addAttribute"
	ModifyAttribute   Action = "modifyAttribute"
	RemoveAttribute   Action = "removeAttribute"
	RelocateGroup     Action = "relocateGroup"
)

// Change is one patch item.
//
// Route addresses the affected node at the time the change is applied: the
// owner element for attribute changes, the parent for relocations and the
// child itself for everything else.
type Change struct {
	Action Action      `json:"action"`
	Route  hyper.Route `json:"route"`

	Name     string `json:"name,omitempty"`
	OldValue string `json:"oldValue,omitempty"`
	NewValue string `json:"newValue,omitempty"`

	// serialized subtree for addElement and replaceElement
	Node string `json:"node,omitempty"`

	From        int `json:"from,omitempty"`
	To          int `json:"to,omitempty"`
	GroupLength int `json:"groupLength,omitempty"`
}

func (c Change) String() string {
	switch c.Action {
	case AddAttribute, ModifyAttribute, RemoveAttribute:
		return fmt.Sprintf("%s %v %s=%q", c.Action, c.Route, c.Name, c.NewValue)
	case RelocateGroup:
		return fmt.Sprintf("%s %v %d->%d (%d)", c.Action, c.Route, c.From, c.To, c.GroupLength)
	}
	return fmt.Sprintf("%s %v", c.Action, c.Route)
}

// IsAttribute is true for attribute changes.
func (c Change) IsAttribute() bool {
	return c.Action == AddAttribute || c.Action == ModifyAttribute || c.Action == RemoveAttribute
}

// Patch is an ordered list of changes. Each route is valid for the tree as
// left by the previous changes.
type Patch []Change
