package patch

import (
	"fmt"
	"log"

	"github.com/ilnaes/hyperpad/internal/hyper"
)

// Options tune Apply.
type Options struct {
	// Reject is consulted before every change. A rejected change is skipped
	// and its reason logged.
	Reject Filter
	// Sanitize filters subtrees inserted by add and replace changes.
	Sanitize *hyper.Filter

	Before func(c Change)
	After  func(c Change)

	Logger *log.Logger
}

// Result reports what Apply did.
type Result struct {
	Applied  int
	Rejected int
	// routes of the nodes touched, in the coordinates of the final tree when
	// no later change moved them
	Updated []hyper.Route
}

// Apply applies p to live in place. It stops at the first change whose route
// does not resolve, leaving the changes before it applied.
func Apply(live *hyper.Element, p Patch, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	res := Result{}
	for _, c := range p {
		target, err := resolve(live, c)
		if err != nil {
			return res, err
		}

		if opts.Reject != nil {
			if reject, reason := opts.Reject(c, target); reject {
				if reason != "" {
					logger.Printf("rejected %v: %s", c, reason)
				}
				res.Rejected++
				continue
			}
		}

		node, err := inserted(c, opts.Sanitize)
		if err != nil {
			return res, err
		}
		if node == nil && (c.Action == AddElement || c.Action == ReplaceElement) {
			logger.Printf("rejected %v: filtered content", c)
			res.Rejected++
			continue
		}

		if opts.Before != nil {
			opts.Before(c)
		}
		updated, err := apply(live, c, node)
		if err != nil {
			return res, err
		}
		if opts.After != nil {
			opts.After(c)
		}

		res.Applied++
		res.Updated = append(res.Updated, updated)
	}
	return res, nil
}

// resolve returns the node a change is aimed at: the owner element for
// attribute changes, the parent for relocations and additions, the child
// otherwise.
func resolve(live *hyper.Element, c Change) (hyper.Node, error) {
	var (
		n   hyper.Node
		err error
	)
	switch c.Action {
	case AddElement, AddTextElement:
		if len(c.Route) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrRouteNotFound, c)
		}
		var parent *hyper.Element
		parent, err = hyper.LookupElement(live, c.Route.Parent())
		if err == nil && c.Route.Last() > len(parent.Children) {
			err = hyper.ErrNoSuchNode
		}
		n = parent
	case RelocateGroup:
		var parent *hyper.Element
		parent, err = hyper.LookupElement(live, c.Route)
		if err == nil && (c.From < 0 || c.GroupLength < 1 || c.From+c.GroupLength > len(parent.Children) ||
			c.To < 0 || c.To > len(parent.Children)-c.GroupLength) {
			err = hyper.ErrNoSuchNode
		}
		n = parent
	case AddAttribute, ModifyAttribute, RemoveAttribute:
		n, err = hyper.LookupElement(live, c.Route)
	default:
		n, err = hyper.Lookup(live, c.Route)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrRouteNotFound, c, err)
	}
	return n, nil
}

func inserted(c Change, sanitize *hyper.Filter) (hyper.Node, error) {
	if c.Action != AddElement && c.Action != ReplaceElement {
		return nil, nil
	}
	n, err := hyper.Unmarshal(c.Node)
	if err != nil {
		return nil, err
	}
	if e, ok := n.(*hyper.Element); ok && sanitize != nil {
		if sanitize.ShouldSerialize != nil && !sanitize.ShouldSerialize(e) {
			return nil, nil
		}
		n = sanitize.Apply(e)
	}
	return n, nil
}

func apply(live *hyper.Element, c Change, node hyper.Node) (hyper.Route, error) {
	switch c.Action {
	case AddAttribute, ModifyAttribute:
		e, _ := hyper.LookupElement(live, c.Route)
		e.SetAttr(c.Name, c.NewValue)
		return c.Route, nil

	case RemoveAttribute:
		e, _ := hyper.LookupElement(live, c.Route)
		e.RemoveAttr(c.Name)
		return c.Route, nil

	case RelocateGroup:
		parent, _ := hyper.LookupElement(live, c.Route)
		group := append([]hyper.Node(nil), parent.Children[c.From:c.From+c.GroupLength]...)
		rest := append(append([]hyper.Node(nil), parent.Children[:c.From]...), parent.Children[c.From+c.GroupLength:]...)
		children := append(append([]hyper.Node(nil), rest[:c.To]...), group...)
		parent.Children = append(children, rest[c.To:]...)
		return c.Route, nil
	}

	if len(c.Route) == 0 {
		// only replacement can target the root, and the root cannot be swapped
		// in place for a different node kind
		e, ok := node.(*hyper.Element)
		if c.Action != ReplaceElement || !ok {
			return nil, fmt.Errorf("%w: %v", ErrRouteNotFound, c)
		}
		*live = *e
		return c.Route, nil
	}

	parent, _ := hyper.LookupElement(live, c.Route.Parent())
	i := c.Route.Last()

	switch c.Action {
	case AddElement:
		return c.Route, parent.InsertChild(i, node)
	case AddTextElement:
		return c.Route, parent.InsertChild(i, hyper.Text(c.NewValue))
	case ReplaceElement:
		parent.Children[i] = node
		return c.Route, nil
	case ModifyTextElement:
		if _, ok := parent.Children[i].(hyper.Text); !ok {
			return nil, fmt.Errorf("%w: %v is not text", ErrRouteNotFound, c)
		}
		parent.Children[i] = hyper.Text(c.NewValue)
		return c.Route, nil
	case RemoveElement, RemoveTextElement:
		_, err := parent.RemoveChild(i)
		return c.Route.Parent(), err
	}
	return nil, fmt.Errorf("unknown action %q", c.Action)
}
