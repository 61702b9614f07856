package hyper

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CommentTag marks an element standing in for an HTML comment. The tree model
// has no comment nodes, so comments travel as elements with a value
// attribute.
const CommentTag = "XWIKI-COMMENT"

func ProtectComment(data string) *Element {
	return NewElement(CommentTag, map[string]string{"value": data})
}

// RestoreComment returns the comment text carried by e.
func RestoreComment(e *Element) (string, bool) {
	if e.Tag != CommentTag {
		return "", false
	}
	return e.Attrs["value"], true
}

// FromHTML parses an HTML fragment into a BODY element.
func FromHTML(r io.Reader) (*Element, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(r, context)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	root := NewElement("BODY", nil)
	for _, n := range nodes {
		if c := fromHTMLNode(n); c != nil {
			root.Children = append(root.Children, c)
		}
	}
	return root, nil
}

func fromHTMLNode(n *html.Node) Node {
	switch n.Type {
	case html.TextNode:
		return Text(n.Data)
	case html.CommentNode:
		return ProtectComment(n.Data)
	case html.ElementNode:
		e := NewElement(strings.ToUpper(n.Data), nil)
		for _, a := range n.Attr {
			key := a.Key
			if a.Namespace != "" {
				key = a.Namespace + ":" + a.Key
			}
			e.Attrs[key] = a.Val
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if child := fromHTMLNode(c); child != nil {
				e.Children = append(e.Children, child)
			}
		}
		return e
	}
	return nil
}

// RenderHTML writes n as HTML. Protected comments are written back as
// comments.
func RenderHTML(w io.Writer, n Node) error {
	return html.Render(w, toHTMLNode(n))
}

// RenderInnerHTML writes the children of e.
func RenderInnerHTML(w io.Writer, e *Element) error {
	for _, c := range e.Children {
		if err := RenderHTML(w, c); err != nil {
			return err
		}
	}
	return nil
}

func toHTMLNode(n Node) *html.Node {
	switch n := n.(type) {
	case Text:
		return &html.Node{Type: html.TextNode, Data: string(n)}
	case *Element:
		if v, ok := RestoreComment(n); ok {
			return &html.Node{Type: html.CommentNode, Data: v}
		}
		tag := strings.ToLower(n.Tag)
		h := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
		for _, name := range n.AttrNames() {
			h.Attr = append(h.Attr, html.Attribute{Key: name, Val: n.Attrs[name]})
		}
		for _, c := range n.Children {
			h.AppendChild(toHTMLNode(c))
		}
		return h
	}
	return nil
}
