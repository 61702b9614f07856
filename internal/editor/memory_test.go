package editor

import (
	"context"
	"errors"
	"testing"

	"github.com/ilnaes/hyperpad/internal/hyper"
)

func TestEditNotifies(t *testing.T) {
	m := NewMemory(nil)
	changes := 0
	m.OnChange(func() { changes++ })

	m.Edit(func(root *hyper.Element) {
		root.InsertChild(0, hyper.Text("hi"))
	})
	if changes != 1 {
		t.Errorf("expected one change, got %d", changes)
	}
	if s := hyper.Marshal(m.ContentWrapper()); s != `["BODY",{},["hi"]]` {
		t.Errorf("content is %s", s)
	}

	// updates from the session do not come back unless asked to
	m.UpdateContent(context.Background(), func(root *hyper.Element) []hyper.Route {
		root.Children[0] = hyper.Text("hey")
		return []hyper.Route{{0}}
	}, false)
	if changes != 1 {
		t.Errorf("update should not notify, got %d changes", changes)
	}
}

func TestReadOnly(t *testing.T) {
	m := NewMemory(nil)
	m.SetReadOnly(true)
	err := m.Edit(func(root *hyper.Element) {})
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestContentWrapperIsACopy(t *testing.T) {
	m := NewMemory(hyper.NewElement("BODY", nil, hyper.Text("a")))
	c := m.ContentWrapper()
	c.Children[0] = hyper.Text("b")
	if s := hyper.Marshal(m.ContentWrapper()); s != `["BODY",{},["a"]]` {
		t.Errorf("content is %s", s)
	}
}

func TestDestroyOnce(t *testing.T) {
	m := NewMemory(nil)
	n := 0
	m.OnBeforeDestroy(func() { n++ })
	m.Destroy()
	m.Destroy()
	if n != 1 {
		t.Errorf("handler ran %d times", n)
	}
}
