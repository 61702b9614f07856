package ot

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
)

// RebaseOperation transforms local so that it applies after remote. Both
// operations must be expressed against the same text. The second result is
// false when local has nothing left to do; the returned operation is then
// the collapsed position of local in the rebased text.
func RebaseOperation(local, remote Operation) (Operation, bool) {
	lo, le := local.Offset, local.Offset+local.ToRemove
	ro, re := remote.Offset, remote.Offset+remote.ToRemove
	anchor := Operation{Offset: ro + len(remote.ToInsert)}

	switch {
	case lo > ro && lo >= re:
		// after the remote span
		local.Offset += remote.Delta()
		return local, true

	case lo > ro && le <= re:
		// inside the remote span, already removed
		return anchor, false

	case lo > ro:
		// starts inside the remote span, keep the tail
		local.ToRemove = le - re
		local.Offset = anchor.Offset
		return local, true

	case lo < ro && le <= ro:
		// before the remote span
		return local, true

	case lo == ro && local.ToRemove == 0 && remote.ToRemove == 0:
		// two insertions at the same position: local goes after remote
		local.Offset += len(remote.ToInsert)
		return local, true

	case lo == ro && le <= re:
		// coincident and the remote removal covers local
		return anchor, false

	case le >= re:
		// local covers the whole remote span and absorbs it
		local.ToRemove += remote.Delta()
		return local, true

	default:
		// starts before, ends inside: keep the head
		local.ToRemove = ro - lo
		return local, true
	}
}

// Rebase transforms the local operation list so that it applies after the
// remote one. Both lists are sequential edits of ancestor. Local operations
// that conflict away are dropped unless allowEmptyOps is set, in which case
// they survive as zero-width operations at their rebased position.
func Rebase(local, remote []Operation, ancestor string, allowEmptyOps bool) []Operation {
	l, err := normalize(local, ancestor)
	if err != nil {
		log.Printf("rebase: local ops do not apply: %v", err)
		return nil
	}
	r, err := normalize(remote, ancestor)
	if err != nil {
		log.Printf("rebase: remote ops do not apply: %v", err)
		return nil
	}

	out := make([]Operation, 0, len(l))
	for i := len(l) - 1; i >= 0; i-- {
		op := l[i]
		keep := true
		for j := len(r) - 1; j >= 0; j-- {
			var ok bool
			op, ok = RebaseOperation(op, r[j])
			if !ok {
				if !allowEmptyOps {
					keep = false
					break
				}
			}
		}
		if keep && (allowEmptyOps || !op.IsNoop()) {
			out = append(out, op)
		}
	}

	// out was built back to front
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Offset < out[j].Offset
	})
	return toSequential(out)
}

// Validator rejects a document that is valid JSON but not a valid document
// for the caller, such as a broken tree.
type Validator func(string) error

// RebaseJSONErr rebases like Rebase and then checks that the combined result
// is still valid JSON.
func RebaseJSONErr(local, remote []Operation, ancestor string) ([]Operation, error) {
	return RebaseValidated(local, remote, ancestor, nil)
}

// RebaseValidated is RebaseJSONErr with a structural check on top: when
// ancestor passes valid, the combined result must pass it too.
func RebaseValidated(local, remote []Operation, ancestor string, valid Validator) ([]Operation, error) {
	rebased := Rebase(local, remote, ancestor, false)

	base, err := ApplyMulti(remote, ancestor)
	if err != nil {
		return nil, err
	}
	result, err := ApplyMulti(rebased, base)
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(result)) {
		return nil, ErrTransformConflict
	}
	if valid != nil && valid(ancestor) == nil {
		if err := valid(result); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransformConflict, err)
		}
	}
	return rebased, nil
}

// RebaseJSON is RebaseJSONErr that logs failures and falls back to an empty
// list, so the remote version wins.
func RebaseJSON(local, remote []Operation, ancestor string) []Operation {
	return rebaseOrDrop(local, remote, ancestor, nil)
}

func rebaseOrDrop(local, remote []Operation, ancestor string, valid Validator) []Operation {
	ops, err := RebaseValidated(local, remote, ancestor, valid)
	if err != nil {
		log.Printf("rebase: discarding local ops: %v", err)
		return nil
	}
	return ops
}

// Merge performs a three way merge of serialized documents: the changes from
// previous to current are rebased on top of next.
func Merge(previous, next, current string) string {
	return MergeValidated(previous, next, current, nil)
}

// MergeValidated is Merge for structured documents. When the rebased local
// changes would break a document that passes valid, they are dropped and
// next is returned.
func MergeValidated(previous, next, current string, valid Validator) string {
	if current == previous {
		return next
	}
	if next == previous || next == current {
		return current
	}

	local := Diff(previous, current)
	remote := Diff(previous, next)
	rebased := rebaseOrDrop(local, remote, previous, valid)

	merged, err := ApplyMulti(rebased, next)
	if err != nil {
		log.Printf("merge: %v", err)
		return next
	}
	return merged
}
