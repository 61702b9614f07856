package history

import (
	"log"

	"github.com/ilnaes/hyperpad/internal/ot"
)

const DefaultLimit = 100

// Selection is a selection saved as flat offsets into the content.
type Selection struct {
	Start int
	End   int
}

type entry struct {
	redo, undo       []ot.Operation
	redoSel, undoSel Selection
	local            bool

	prev, next *entry
}

// History records content changes and lets the local user undo and redo
// their own changes while remote changes keep arriving. Only content
// strings and operations are stored.
type History struct {
	content string
	current *entry
	limit   int
	logger  *log.Logger
}

type Option func(*History)

// WithLimit bounds the number of entries kept behind the current one, and so
// the number of consecutive undos.
func WithLimit(n int) Option {
	return func(h *History) {
		h.limit = n
	}
}

func WithLogger(l *log.Logger) Option {
	return func(h *History) {
		h.logger = l
	}
}

func New(content string, opts ...Option) *History {
	h := &History{
		content: content,
		current: &entry{},
		limit:   DefaultLimit,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *History) Content() string {
	return h.content
}

// CanUndo is true when the current entry is a local change.
func (h *History) CanUndo() bool {
	return h.current.local && h.current.prev != nil
}

// CanRedo is true when there is an entry after the current one, whoever
// made it.
func (h *History) CanRedo() bool {
	return h.current.next != nil
}

// ChangeContent records that the content became content, with the selection
// now at sel. Remote changes are rebased into the redo chain and moved
// before trailing local changes so that those stay undoable.
func (h *History) ChangeContent(content string, sel Selection, local bool) {
	if content == h.content {
		h.current.redoSel = sel
		return
	}

	redo := ot.Diff(h.content, content)
	undo, err := ot.Invert(redo, h.content)
	if err != nil {
		h.logger.Printf("history: cannot invert change: %v", err)
		return
	}

	e := &entry{
		redo:    redo,
		undo:    undo,
		redoSel: sel,
		undoSel: h.current.redoSel,
		local:   local,
		prev:    h.current,
	}

	var future *entry
	if !local {
		future = h.rebaseFuture(h.current.next, redo, h.content)
	}
	e.next = future
	if future != nil {
		future.prev = e
	}
	h.current.next = e
	h.current = e
	h.content = content

	if !local {
		h.rebaseLocalChanges()
	}
	h.trim()
}

// rebaseFuture rebases the undone entries starting at f onto a remote change
// made from base. The chain is cut at the first entry that does not survive.
func (h *History) rebaseFuture(f *entry, remote []ot.Operation, base string) *entry {
	var head, tail *entry
	for ; f != nil; f = f.next {
		rebased := ot.Rebase(f.redo, remote, base, false)
		if len(rebased) == 0 && len(f.redo) > 0 {
			h.logger.Printf("history: redo chain conflicts with remote change, truncating")
			break
		}

		after, err := ot.ApplyMulti(f.redo, base)
		if err != nil {
			break
		}
		remoteBase, err := ot.ApplyMulti(remote, base)
		if err != nil {
			break
		}
		undo, err := ot.Invert(rebased, remoteBase)
		if err != nil {
			break
		}

		n := &entry{
			redo:    rebased,
			undo:    undo,
			redoSel: moveSelection(f.redoSel, remote, base),
			undoSel: moveSelection(f.undoSel, remote, base),
			local:   f.local,
		}
		if tail == nil {
			head = n
		} else {
			tail.next = n
			n.prev = tail
		}
		tail = n

		// the remote change as seen after f
		remote = ot.Rebase(remote, f.redo, base, false)
		base = after
	}
	return head
}

// rebaseLocalChanges moves the remote current entry before the local
// entries preceding it. When a swap does not apply cleanly the history is
// cut there: older entries can no longer be undone.
func (h *History) rebaseLocalChanges() {
	r := h.current
	// content right after r, walking back
	after := h.content
	next := r.next

	for r.prev != nil && r.prev.local {
		l := r.prev
		mid, err := ot.ApplyMulti(r.undo, after)
		if err != nil {
			h.cut(r)
			break
		}
		before, err := ot.ApplyMulti(l.undo, mid)
		if err != nil {
			h.cut(r)
			break
		}

		r2, l2, ok := swap(l, r, before, mid, after)
		if !ok {
			h.logger.Printf("history: local change conflicts with remote change, truncating")
			h.cut(r)
			break
		}

		// relink: l.prev -> r2 -> l2 -> (what followed r)
		r2.prev = l.prev
		if l.prev != nil {
			l.prev.next = r2
		}
		r2.next = l2
		l2.prev = r2
		l2.next = next
		if next != nil {
			next.prev = l2
		}
		if h.current == r {
			h.current = l2
		}

		next = l2
		after, _ = ot.ApplyMulti(r2.redo, before)
		r = r2
	}
}

// swap exchanges a local entry l followed by a remote entry r. before is the
// content before l, mid the content between them and after the content
// after r. The swapped pair must lead to the same content.
func swap(l, r *entry, before, mid, after string) (*entry, *entry, bool) {
	// r as if made before l
	rRedo := ot.Rebase(r.redo, l.undo, mid, false)
	rContent, err := ot.ApplyMulti(rRedo, before)
	if err != nil {
		return nil, nil, false
	}
	rUndo, err := ot.Invert(rRedo, before)
	if err != nil {
		return nil, nil, false
	}

	// l on top of the moved r
	lRedo := ot.Rebase(l.redo, rRedo, before, false)
	result, err := ot.ApplyMulti(lRedo, rContent)
	if err != nil || result != after {
		return nil, nil, false
	}
	if len(r.redo) > 0 && len(rRedo) == 0 || len(l.redo) > 0 && len(lRedo) == 0 {
		return nil, nil, false
	}
	lUndo, err := ot.Invert(lRedo, rContent)
	if err != nil {
		return nil, nil, false
	}

	r2 := &entry{
		redo:    rRedo,
		undo:    rUndo,
		redoSel: r.redoSel,
		undoSel: l.undoSel,
		local:   false,
	}
	l2 := &entry{
		redo:    lRedo,
		undo:    lUndo,
		redoSel: moveSelection(l.redoSel, rRedo, before),
		undoSel: moveSelection(l.undoSel, rRedo, before),
		local:   true,
	}
	return r2, l2, true
}

// cut makes e the oldest reachable entry.
func (h *History) cut(e *entry) {
	if e.prev != nil {
		e.prev.next = nil
	}
	e.prev = nil
}

// trim drops entries further back than the limit.
func (h *History) trim() {
	if h.limit <= 0 {
		return
	}
	e, n := h.current, 0
	for e.prev != nil {
		n++
		if n > h.limit {
			h.cut(e)
			return
		}
		e = e.prev
	}
}

// Undo reverts the current local entry and returns the new content and the
// selection from before that change.
func (h *History) Undo() (string, Selection, bool) {
	if !h.CanUndo() {
		return h.content, Selection{}, false
	}
	content, err := ot.ApplyMulti(h.current.undo, h.content)
	if err != nil {
		h.logger.Printf("history: undo failed: %v", err)
		h.cut(h.current)
		return h.content, Selection{}, false
	}
	sel := h.current.undoSel
	h.current = h.current.prev
	h.content = content
	return content, sel, true
}

// Redo reapplies the entry after the current one.
func (h *History) Redo() (string, Selection, bool) {
	if !h.CanRedo() {
		return h.content, Selection{}, false
	}
	next := h.current.next
	content, err := ot.ApplyMulti(next.redo, h.content)
	if err != nil {
		h.logger.Printf("history: redo failed: %v", err)
		h.current.next = nil
		return h.content, Selection{}, false
	}
	h.current = next
	h.content = content
	return content, next.redoSel, true
}

// moveSelection maps sel through ops, which apply to text.
func moveSelection(sel Selection, ops []ot.Operation, text string) Selection {
	move := func(off int) int {
		if off > len(text) {
			off = len(text)
		}
		res := ot.Rebase([]ot.Operation{{Offset: off}}, ops, text, true)
		if len(res) == 0 {
			return off
		}
		return res[0].Offset
	}
	start, end := move(sel.Start), move(sel.End)
	if end < start {
		end = start
	}
	return Selection{Start: start, End: end}
}
