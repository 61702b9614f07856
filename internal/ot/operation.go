package ot

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds       = errors.New("operation out of bounds")
	ErrTransformConflict = errors.New("transform conflict")
)

// Operation removes ToRemove bytes at Offset and then inserts ToInsert at the
// same position. Offsets are byte offsets into the edited text.
type Operation struct {
	Offset   int    `json:"offset"`
	ToRemove int    `json:"toRemove"`
	ToInsert string `json:"toInsert"`
}

func (op Operation) String() string {
	return fmt.Sprintf("{%d,-%d,+%q}", op.Offset, op.ToRemove, op.ToInsert)
}

// IsNoop is true for operations that neither remove nor insert.
func (op Operation) IsNoop() bool {
	return op.ToRemove == 0 && op.ToInsert == ""
}

// Delta is the change in text length caused by op.
func (op Operation) Delta() int {
	return len(op.ToInsert) - op.ToRemove
}

// Validate checks that op can be applied to a text of the given length.
func (op Operation) Validate(length int) error {
	if op.Offset < 0 || op.ToRemove < 0 || op.Offset+op.ToRemove > length {
		return fmt.Errorf("%w: %v on text of length %d", ErrOutOfBounds, op, length)
	}
	return nil
}

// Apply applies a single operation to text.
func Apply(op Operation, text string) (string, error) {
	if err := op.Validate(len(text)); err != nil {
		return "", err
	}
	return text[:op.Offset] + op.ToInsert + text[op.Offset+op.ToRemove:], nil
}

// ApplyMulti applies ops left to right, each against the result of the
// previous one.
func ApplyMulti(ops []Operation, text string) (string, error) {
	for i, op := range ops {
		var err error
		if text, err = Apply(op, text); err != nil {
			return "", fmt.Errorf("op %d: %w", i, err)
		}
	}
	return text, nil
}

// Invert returns the operations that revert ops once they have been applied
// to text.
func Invert(ops []Operation, text string) ([]Operation, error) {
	inverse := make([]Operation, len(ops))
	for i, op := range ops {
		if err := op.Validate(len(text)); err != nil {
			return nil, err
		}
		inverse[len(ops)-1-i] = Operation{
			Offset:   op.Offset,
			ToRemove: len(op.ToInsert),
			ToInsert: text[op.Offset : op.Offset+op.ToRemove],
		}
		text = text[:op.Offset] + op.ToInsert + text[op.Offset+op.ToRemove:]
	}
	return inverse, nil
}

// Simplify drops the part of op that replaces text with identical text. It
// returns false when nothing is left.
func Simplify(op Operation, text string) (Operation, bool) {
	if op.Validate(len(text)) != nil {
		return op, !op.IsNoop()
	}
	removed := text[op.Offset : op.Offset+op.ToRemove]
	p := commonPrefix(removed, op.ToInsert)
	removed, inserted := removed[p:], op.ToInsert[p:]
	s := commonSuffix(removed, inserted)
	op = Operation{
		Offset:   op.Offset + p,
		ToRemove: len(removed) - s,
		ToInsert: inserted[:len(inserted)-s],
	}
	return op, !op.IsNoop()
}

// toAbsolute rewrites a sequential list so that every offset refers to the
// original text. It fails when the list is not sorted, i.e. when an
// operation touches text produced or shifted by an earlier one in a way that
// cannot be expressed against the original.
func toAbsolute(ops []Operation) ([]Operation, bool) {
	abs := make([]Operation, len(ops))
	shift, end := 0, 0
	for i, op := range ops {
		if op.Offset < end {
			return nil, false
		}
		abs[i] = Operation{Offset: op.Offset - shift, ToRemove: op.ToRemove, ToInsert: op.ToInsert}
		end = op.Offset + len(op.ToInsert)
		shift += op.Delta()
	}
	return abs, true
}

// toSequential is the inverse of toAbsolute. ops must be sorted by offset.
func toSequential(ops []Operation) []Operation {
	seq := make([]Operation, len(ops))
	shift := 0
	for i, op := range ops {
		seq[i] = Operation{Offset: op.Offset + shift, ToRemove: op.ToRemove, ToInsert: op.ToInsert}
		shift += op.Delta()
	}
	return seq
}

// normalize returns ops expressed against text, sorted and in absolute
// coordinates. Unsorted lists are collapsed through a fresh diff.
func normalize(ops []Operation, text string) ([]Operation, error) {
	result, err := ApplyMulti(ops, text)
	if err != nil {
		return nil, err
	}
	if abs, ok := toAbsolute(ops); ok {
		return abs, nil
	}
	abs, _ := toAbsolute(Diff(text, result))
	return abs, nil
}
