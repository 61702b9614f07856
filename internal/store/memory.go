package store

import (
	"context"
	"fmt"
	"sync"
)

type Memory struct {
	docs map[Ref]Revision

	sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[Ref]Revision)}
}

func (m *Memory) Save(ctx context.Context, ref Ref, content, author, baseVersion string) (Revision, error) {
	m.Lock()
	defer m.Unlock()

	var stored *Revision
	if rev, ok := m.docs[ref]; ok {
		stored = &rev
	}
	if err := check(stored, ref, baseVersion); err != nil {
		return Revision{}, err
	}

	rev := next(stored, ref, content, author)
	m.docs[ref] = rev
	return rev, nil
}

func (m *Memory) Reload(ctx context.Context, ref Ref) (Revision, error) {
	m.Lock()
	defer m.Unlock()

	rev, ok := m.docs[ref]
	if !ok {
		return Revision{}, fmt.Errorf("%v: %w", ref, ErrNotFound)
	}
	return rev, nil
}

func (m *Memory) Close(ctx context.Context) error {
	return nil
}
