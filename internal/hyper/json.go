package hyper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var ErrMalformed = errors.New("malformed hyperjson")

// Marshal returns the canonical serialization of n: elements are
// ["TAG",{attrs},[children]] with attributes sorted by name, text nodes are
// JSON strings, and no insignificant whitespace or HTML escaping is emitted.
// Equal trees always produce identical strings.
func Marshal(n Node) string {
	var buf bytes.Buffer
	writeNode(&buf, n)
	return buf.String()
}

func writeNode(buf *bytes.Buffer, n Node) {
	switch n := n.(type) {
	case Text:
		writeString(buf, string(n))
	case *Element:
		buf.WriteByte('[')
		writeString(buf, n.Tag)
		buf.WriteString(",{")
		for i, name := range n.AttrNames() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, name)
			buf.WriteByte(':')
			writeString(buf, n.Attrs[name])
		}
		buf.WriteString("},[")
		for i, c := range n.Children {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeNode(buf, c)
		}
		buf.WriteString("]]")
	}
}

const hex = "0123456789abcdef"

// writeString quotes s the way encoding/json does with HTML escaping off.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			switch {
			case b == '"' || b == '\\':
				buf.WriteByte('\\')
				buf.WriteByte(b)
			case b == '\n':
				buf.WriteString(`\n`)
			case b == '\r':
				buf.WriteString(`\r`)
			case b == '\t':
				buf.WriteString(`\t`)
			case b < 0x20:
				buf.WriteString(`\u00`)
				buf.WriteByte(hex[b>>4])
				buf.WriteByte(hex[b&0xF])
			default:
				buf.WriteByte(b)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			buf.WriteString(`\ufffd`)
		case r == '\u2028' || r == '\u2029':
			buf.WriteString(`\u202`)
			buf.WriteByte(hex[r&0xF])
		default:
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}

// Unmarshal parses a serialized tree.
func Unmarshal(s string) (Node, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromValue(v)
}

// UnmarshalElement parses a serialized tree whose root must be an element.
func UnmarshalElement(s string) (*Element, error) {
	n, err := Unmarshal(s)
	if err != nil {
		return nil, err
	}
	e, ok := n.(*Element)
	if !ok {
		return nil, fmt.Errorf("%w: root is not an element", ErrMalformed)
	}
	return e, nil
}

// Validate reports why s is not a serialized element tree.
func Validate(s string) error {
	_, err := UnmarshalElement(s)
	return err
}

func fromValue(v interface{}) (Node, error) {
	switch v := v.(type) {
	case string:
		return Text(v), nil
	case []interface{}:
		if len(v) != 3 {
			return nil, fmt.Errorf("%w: element has %d fields", ErrMalformed, len(v))
		}
		tag, ok := v[0].(string)
		if !ok || tag == "" {
			return nil, fmt.Errorf("%w: bad tag %v", ErrMalformed, v[0])
		}
		attrs, ok := v[1].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: bad attributes on %s", ErrMalformed, tag)
		}
		children, ok := v[2].([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: bad children on %s", ErrMalformed, tag)
		}

		e := NewElement(tag, make(map[string]string, len(attrs)))
		for k, a := range attrs {
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("%w: attribute %s on %s is not a string", ErrMalformed, k, tag)
			}
			e.Attrs[k] = s
		}
		e.Children = make([]Node, 0, len(children))
		for _, c := range children {
			n, err := fromValue(c)
			if err != nil {
				return nil, err
			}
			e.Children = append(e.Children, n)
		}
		return e, nil
	}
	return nil, fmt.Errorf("%w: unexpected %T", ErrMalformed, v)
}

// Equal compares trees by their canonical form.
func Equal(a, b Node) bool {
	return Marshal(a) == Marshal(b)
}
