package selection

import (
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/ilnaes/hyperpad/internal/hyper"
)

// ResolveOffsets maps byte offsets into a canonical serialization onto
// boundaries of the tree it encodes, in a single pass over the string.
// Offsets inside a text literal land in that text node, offsets inside tags
// or attributes land right before the element, and offsets past the end
// land at the end of the root.
func ResolveOffsets(serialized string, offsets []int) ([]Boundary, error) {
	order := make([]int, len(offsets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return offsets[order[i]] < offsets[order[j]] })

	s := &scanner{src: serialized, offsets: offsets, order: order, out: make([]Boundary, len(offsets))}
	s.skipSpace()
	if s.pos >= len(s.src) || s.src[s.pos] != '[' {
		return nil, fmt.Errorf("%w: root is not an element", hyper.ErrMalformed)
	}
	count, err := s.element(hyper.Route{})
	if err != nil {
		return nil, err
	}
	s.settle(int(^uint(0)>>1), func(int) Boundary {
		return Boundary{Container: hyper.Route{}, Offset: count}
	})
	return s.out, nil
}

type scanner struct {
	src     string
	pos     int
	offsets []int
	order   []int
	next    int
	out     []Boundary
}

// settle resolves every pending offset below limit with f.
func (s *scanner) settle(limit int, f func(off int) Boundary) {
	for s.next < len(s.order) {
		i := s.order[s.next]
		if s.offsets[i] >= limit {
			return
		}
		s.out[i] = f(s.offsets[i])
		s.next++
	}
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

func (s *scanner) expect(b byte) error {
	s.skipSpace()
	if s.pos >= len(s.src) || s.src[s.pos] != b {
		return fmt.Errorf("%w: expected %q at %d", hyper.ErrMalformed, b, s.pos)
	}
	s.pos++
	return nil
}

// skipString moves past a JSON string literal and returns the index of its
// opening quote.
func (s *scanner) skipString() (int, error) {
	s.skipSpace()
	start := s.pos
	if err := s.expect('"'); err != nil {
		return 0, err
	}
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
		case '"':
			s.pos++
			return start, nil
		default:
			s.pos++
		}
	}
	return 0, fmt.Errorf("%w: unterminated string at %d", hyper.ErrMalformed, start)
}

// element scans the element starting at s.pos and returns its child count.
func (s *scanner) element(route hyper.Route) (int, error) {
	if err := s.expect('['); err != nil {
		return 0, err
	}
	if _, err := s.skipString(); err != nil {
		return 0, err
	}
	if err := s.expect(','); err != nil {
		return 0, err
	}
	if err := s.expect('{'); err != nil {
		return 0, err
	}
	for {
		s.skipSpace()
		if s.pos < len(s.src) && s.src[s.pos] == '}' {
			s.pos++
			break
		}
		if _, err := s.skipString(); err != nil {
			return 0, err
		}
		if err := s.expect(':'); err != nil {
			return 0, err
		}
		if _, err := s.skipString(); err != nil {
			return 0, err
		}
		s.skipSpace()
		if s.pos < len(s.src) && s.src[s.pos] == ',' {
			s.pos++
		}
	}
	if err := s.expect(','); err != nil {
		return 0, err
	}
	if err := s.expect('['); err != nil {
		return 0, err
	}

	// inside the tag or the attributes: before this element
	s.settle(s.pos, func(int) Boundary {
		if len(route) == 0 {
			return Boundary{Container: hyper.Route{}, Offset: 0}
		}
		return Boundary{Container: route.Parent(), Offset: route.Last()}
	})

	i := 0
	for {
		s.skipSpace()
		if s.pos >= len(s.src) {
			return 0, fmt.Errorf("%w: unterminated element", hyper.ErrMalformed)
		}
		if s.src[s.pos] == ']' {
			break
		}

		at := i
		s.settle(s.pos+1, func(int) Boundary {
			return Boundary{Container: route, Offset: at}
		})

		switch s.src[s.pos] {
		case '"':
			qs, err := s.skipString()
			if err != nil {
				return 0, err
			}
			text := route.Child(i)
			s.settle(s.pos, func(off int) Boundary {
				return Boundary{Container: text, Offset: decodedLen(s.src[qs+1 : off])}
			})
		case '[':
			if _, err := s.element(route.Child(i)); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("%w: unexpected %q at %d", hyper.ErrMalformed, s.src[s.pos], s.pos)
		}
		i++

		s.skipSpace()
		if s.pos < len(s.src) && s.src[s.pos] == ',' {
			s.pos++
		}
	}

	s.pos++
	if err := s.expect(']'); err != nil {
		return 0, err
	}
	count := i
	s.settle(s.pos, func(int) Boundary {
		return Boundary{Container: route, Offset: count}
	})
	return count, nil
}

// decodedLen returns the byte length of the decoded prefix of a JSON string
// body. A prefix ending inside an escape sequence or a multi-byte rune is
// cut back to the last complete character.
func decodedLen(raw string) int {
	cut := 0
	for i := 0; i < len(raw); {
		if raw[i] == '\\' {
			if i+1 >= len(raw) {
				break
			}
			if raw[i+1] == 'u' {
				if i+6 > len(raw) {
					break
				}
				i += 6
			} else {
				i += 2
			}
		} else {
			i++
		}
		cut = i
	}
	for cut > 0 && cut < len(raw) && !utf8.RuneStart(raw[cut]) {
		cut--
	}

	var decoded string
	if err := json.Unmarshal([]byte(`"`+raw[:cut]+`"`), &decoded); err != nil {
		return 0
	}
	return len(decoded)
}

// Locate is the inverse of ResolveOffsets: it returns the offset of each
// boundary in the canonical serialization of root.
func Locate(root *hyper.Element, boundaries []Boundary) ([]int, error) {
	out := make([]int, len(boundaries))
	for i, b := range boundaries {
		off, err := locate(root, b)
		if err != nil {
			return nil, err
		}
		out[i] = off
	}
	return out, nil
}

func locate(root *hyper.Element, b Boundary) (int, error) {
	e, pos := root, 0
	for depth, idx := range b.Container {
		if idx < 0 || idx >= len(e.Children) {
			return 0, fmt.Errorf("%w: %v", hyper.ErrNoSuchNode, b.Container)
		}
		pos = childStart(e, pos, idx)
		switch c := e.Children[idx].(type) {
		case hyper.Text:
			if depth != len(b.Container)-1 {
				return 0, fmt.Errorf("%w: %v", hyper.ErrNoSuchNode, b.Container)
			}
			off := b.Offset
			if off > len(c) {
				off = len(c)
			}
			quoted := hyper.Marshal(c[:off])
			return pos + len(quoted) - 1, nil
		case *hyper.Element:
			e = c
		}
	}

	off := b.Offset
	if off >= len(e.Children) {
		// position of the closing bracket of the children list
		end := pos + headerLen(e)
		for i, c := range e.Children {
			if i > 0 {
				end++
			}
			end += len(hyper.Marshal(c))
		}
		return end, nil
	}
	if off < 0 {
		off = 0
	}
	return childStart(e, pos, off), nil
}

// headerLen is the length of `["TAG",{attrs},[`.
func headerLen(e *hyper.Element) int {
	return len(hyper.Marshal(hyper.NewElement(e.Tag, e.Attrs))) - 2
}

// childStart returns the offset of child i of e, e starting at pos.
func childStart(e *hyper.Element, pos, i int) int {
	pos += headerLen(e)
	for _, c := range e.Children[:i] {
		pos += len(hyper.Marshal(c)) + 1
	}
	return pos
}
