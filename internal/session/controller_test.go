package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math/rand"
	"testing"

	"github.com/ilnaes/hyperpad/internal/editor"
	"github.com/ilnaes/hyperpad/internal/history"
	"github.com/ilnaes/hyperpad/internal/hyper"
	"github.com/ilnaes/hyperpad/internal/ot"
)

type offlineNetwork struct{ id string }

func (n offlineNetwork) Join(context.Context, string) (Channel, error) {
	return nil, errors.New("offline")
}

func (n offlineNetwork) SendTo(context.Context, string, string) error {
	return nil
}

func (n offlineNetwork) OnMessage(func(msg, sender string)) {}

func (n offlineNetwork) OnReconnect(func()) {}

func (n offlineNetwork) OnDisconnect(func()) {}

func (n offlineNetwork) ID() string {
	return n.id
}

func (n offlineNetwork) Close() error {
	return nil
}

type appended struct {
	content string
	parent  int
}

// recordingChannel keeps what the controller appends.
type recordingChannel struct {
	appends []appended
}

func (ch *recordingChannel) Key() string {
	return "k"
}

func (ch *recordingChannel) Bcast(context.Context, string) error {
	return nil
}

func (ch *recordingChannel) OnMessage(func(msg, sender string, index int)) {}

func (ch *recordingChannel) OnLeave(func(peer string)) {}

func (ch *recordingChannel) Members() []string {
	return nil
}

func (ch *recordingChannel) Last() (string, int) {
	return "", 0
}

func (ch *recordingChannel) Leave() error {
	return nil
}

func (ch *recordingChannel) Append(_ context.Context, msg string, parent int) error {
	var m contentMessage
	if err := json.Unmarshal([]byte(msg), &m); err != nil {
		return err
	}
	ch.appends = append(ch.appends, appended{m.Content, parent})
	return nil
}

// live returns a controller that went live on shared at index head, with
// the editor holding local.
func live(t *testing.T, shared string, head int, local *hyper.Element) (*Controller, *editor.Memory, *recordingChannel) {
	t.Helper()
	ed := editor.NewMemory(local)
	ch := &recordingChannel{}
	c := New(Config{
		Client:  "alice",
		Network: offlineNetwork{id: "pa"},
		Editor:  ed,
		Logger:  log.New(io.Discard, "", 0),
	})
	c.history = history.New(c.serialize())
	c.saver = NewSaver("alice", "pa")
	c.content = ch
	c.state = Live
	c.shared, c.head = shared, head
	return c, ed, ch
}

func contentMsg(t *testing.T, content string) string {
	data, err := json.Marshal(contentMessage{Type: ContentUpdate, Content: content})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestOnContentMergesOnSharedBase(t *testing.T) {
	shared := hyper.Marshal(newDoc("hello"))
	c, ed, ch := live(t, shared, 3, newDoc("Xhello"))

	c.onContent(contentMsg(t, hyper.Marshal(newDoc("helloY"))), "pb", 4)

	if got := hyper.TextContent(ed.ContentWrapper()); got != "XhelloY" {
		t.Errorf("editor has %q", got)
	}
	if c.head != 4 || c.shared != hyper.Marshal(newDoc("helloY")) {
		t.Errorf("head %d, shared %s", c.head, c.shared)
	}
	if c.history.Content() != c.serialize() {
		t.Error("merged content not in the history")
	}
	if len(ch.appends) != 1 || ch.appends[0].parent != 4 || ch.appends[0].content != hyper.Marshal(newDoc("XhelloY")) {
		t.Errorf("appends = %+v", ch.appends)
	}

	// the same index again is ignored
	c.onContent(contentMsg(t, hyper.Marshal(newDoc("other"))), "pb", 4)
	if got := hyper.TextContent(ed.ContentWrapper()); got != "XhelloY" {
		t.Errorf("editor has %q after a replayed message", got)
	}
}

func TestOnContentOwnEcho(t *testing.T) {
	shared := hyper.Marshal(newDoc("hello"))
	c, ed, ch := live(t, shared, 1, newDoc("hello!"))
	c.recordLocal()

	c.onContent(contentMsg(t, hyper.Marshal(newDoc("hello!"))), "pa", 2)
	if c.shared != hyper.Marshal(newDoc("hello!")) || c.head != 2 {
		t.Errorf("head %d, shared %s", c.head, c.shared)
	}
	if len(ch.appends) != 0 {
		t.Errorf("nothing new to send, got %+v", ch.appends)
	}

	// typed while the echo was on its way
	ed.Edit(func(root *hyper.Element) {
		root.Children[0].(*hyper.Element).Children[0] = hyper.Text("hello!!")
	})
	c.onContent(contentMsg(t, hyper.Marshal(newDoc("hello!"))), "pa", 3)
	if len(ch.appends) != 1 || ch.appends[0].parent != 3 {
		t.Errorf("appends = %+v", ch.appends)
	}
	if !c.history.CanUndo() {
		t.Error("own changes should stay undoable")
	}
}

func TestOnContentKeepsTreeValid(t *testing.T) {
	r := rand.New(rand.NewSource(9))

	for i := 0; i < 300; i++ {
		previous, next, current := randomDoc(r), randomDoc(r), randomDoc(r)
		local, err := hyper.UnmarshalElement(current)
		if err != nil {
			t.Fatal(err)
		}
		c, ed, _ := live(t, previous, 0, local)

		c.onContent(contentMsg(t, next), "pb", 1)

		got := hyper.DefaultFilter.Serialize(ed.ContentWrapper())
		if err := hyper.Validate(ot.Merge(previous, next, current)); err != nil && got != next {
			t.Fatalf("merge of %s and %s over %s breaks the tree, editor has %s instead of the remote content", current, next, previous, got)
		}
		if expected := ot.MergeValidated(previous, next, current, hyper.Validate); got != expected {
			t.Fatalf("editor has %s, expected %s", got, expected)
		}
		if c.history.Content() != got {
			t.Fatalf("history has %s, editor %s", c.history.Content(), got)
		}
	}
}

func newDoc(paragraphs ...string) *hyper.Element {
	root := hyper.NewElement("BODY", nil)
	for _, p := range paragraphs {
		root.Children = append(root.Children, hyper.NewElement("P", nil, hyper.Text(p)))
	}
	return root
}

func randomDoc(r *rand.Rand) string {
	var build func(depth int) hyper.Node
	build = func(depth int) hyper.Node {
		if depth == 0 || r.Intn(3) == 0 {
			return hyper.Text([]string{"a", "bc", "acc", "b"}[r.Intn(4)])
		}
		e := hyper.NewElement([]string{"P", "B"}[r.Intn(2)], nil)
		for n := r.Intn(3); n > 0; n-- {
			e.Children = append(e.Children, build(depth-1))
		}
		return e
	}
	root := hyper.NewElement("BODY", nil)
	for n := r.Intn(3) + 1; n > 0; n-- {
		root.Children = append(root.Children, build(2))
	}
	return hyper.Marshal(root)
}
