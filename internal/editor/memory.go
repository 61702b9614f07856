package editor

import (
	"context"
	"errors"
	"sync"

	"github.com/ilnaes/hyperpad/internal/hyper"
	"github.com/ilnaes/hyperpad/internal/selection"
)

var ErrReadOnly = errors.New("editor is read only")

// Memory is an editor without a user interface. It holds the content tree
// and a selection, and lets callers type into it with Edit.
type Memory struct {
	root      *hyper.Element
	ranges    []selection.Range
	readOnly  bool
	reloads   int
	destroyed bool

	onChange  []func()
	onDestroy []func()

	sync.Mutex
}

func NewMemory(root *hyper.Element) *Memory {
	if root == nil {
		root = hyper.NewElement("BODY", nil)
	}
	return &Memory{root: root}
}

func (m *Memory) ContentWrapper() *hyper.Element {
	m.Lock()
	defer m.Unlock()
	return m.root.Clone()
}

func (m *Memory) Selection() []selection.Range {
	m.Lock()
	defer m.Unlock()
	return append([]selection.Range{}, m.ranges...)
}

func (m *Memory) RestoreSelection(ranges []selection.Range) {
	m.Lock()
	defer m.Unlock()
	m.ranges = append([]selection.Range{}, ranges...)
}

func (m *Memory) OnChange(f func()) {
	m.Lock()
	defer m.Unlock()
	m.onChange = append(m.onChange, f)
}

func (m *Memory) OnBeforeDestroy(f func()) {
	m.Lock()
	defer m.Unlock()
	m.onDestroy = append(m.onDestroy, f)
}

func (m *Memory) UpdateContent(ctx context.Context, update func(root *hyper.Element) []hyper.Route, propagate bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.Lock()
	update(m.root)
	handlers := append([]func(){}, m.onChange...)
	m.Unlock()

	if propagate {
		for _, h := range handlers {
			h()
		}
	}
	return nil
}

// Edit changes the content as the user would, moving the selection to
// ranges.
func (m *Memory) Edit(edit func(root *hyper.Element), ranges ...selection.Range) error {
	m.Lock()
	if m.readOnly {
		m.Unlock()
		return ErrReadOnly
	}
	edit(m.root)
	if ranges != nil {
		m.ranges = ranges
	}
	handlers := append([]func(){}, m.onChange...)
	m.Unlock()

	for _, h := range handlers {
		h()
	}
	return nil
}

func (m *Memory) SetReadOnly(readOnly bool) {
	m.Lock()
	defer m.Unlock()
	m.readOnly = readOnly
}

func (m *Memory) ReadOnly() bool {
	m.Lock()
	defer m.Unlock()
	return m.readOnly
}

func (m *Memory) ForceReload() {
	m.Lock()
	defer m.Unlock()
	m.reloads++
}

// Reloads counts the forced reloads.
func (m *Memory) Reloads() int {
	m.Lock()
	defer m.Unlock()
	return m.reloads
}

// Destroy runs the before destroy handlers once.
func (m *Memory) Destroy() {
	m.Lock()
	if m.destroyed {
		m.Unlock()
		return
	}
	m.destroyed = true
	handlers := append([]func(){}, m.onDestroy...)
	m.Unlock()

	for _, h := range handlers {
		h()
	}
}
