package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ilnaes/hyperpad/internal/store"
)

func setup(t *testing.T) (*Server, *httptest.Server) {
	s := NewServer(store.NewMemory())
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

type peer struct {
	t    *testing.T
	id   string
	conn *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server) *peer {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	p := &peer{t: t, conn: conn}
	hello := p.read()
	if hello.Type != Hello || hello.Peer == "" {
		t.Fatalf("expected hello, got %+v", hello)
	}
	p.id = hello.Peer
	return p
}

func (p *peer) send(f Frame) {
	if err := p.conn.WriteJSON(f); err != nil {
		p.t.Fatal(err)
	}
}

// sync waits until the relay processed everything p sent so far.
func (p *peer) sync() {
	p.t.Helper()
	p.send(Frame{Type: SendTo, Peer: p.id, Body: "sync"})
	for {
		if f := p.read(); f.Type == Message && f.Body == "sync" && f.Peer == p.id {
			return
		}
	}
}

func (p *peer) read() Frame {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := p.conn.ReadJSON(&f); err != nil {
		p.t.Fatal(err)
	}
	return f
}

func TestBroadcast(t *testing.T) {
	_, ts := setup(t)
	a, b := dial(t, ts), dial(t, ts)

	a.send(Frame{Type: Join, Channel: "k", Seq: 1})
	joined := a.read()
	if joined.Type != Joined || joined.Seq != 1 || !reflect.DeepEqual(joined.Members, []string{a.id}) {
		t.Fatalf("unexpected join reply %+v", joined)
	}

	a.send(Frame{Type: Bcast, Channel: "k", Body: "first"})
	a.sync()

	b.send(Frame{Type: Join, Channel: "k", Seq: 7})
	joined = b.read()
	if joined.Last != "first" || joined.Index != 1 || len(joined.Members) != 2 {
		t.Errorf("the joining peer should get the last message and both members, got %+v", joined)
	}
	if f := a.read(); f.Type != Joined || f.Peer != b.id {
		t.Errorf("a should see b join, got %+v", f)
	}

	b.send(Frame{Type: Bcast, Channel: "k", Body: "second"})
	if f := a.read(); f.Type != Message || f.Body != "second" || f.Peer != b.id || f.Channel != "k" || f.Index != 2 {
		t.Errorf("unexpected message %+v", f)
	}

	b.send(Frame{Type: Leave, Channel: "k"})
	if f := a.read(); f.Type != Left || f.Peer != b.id {
		t.Errorf("a should see b leave, got %+v", f)
	}
}

func TestConditionalBcast(t *testing.T) {
	_, ts := setup(t)
	a, b := dial(t, ts), dial(t, ts)

	a.send(Frame{Type: Join, Channel: "k"})
	a.read()
	b.send(Frame{Type: Join, Channel: "k"})
	b.read()
	a.read()

	zero := 0
	a.send(Frame{Type: Bcast, Channel: "k", Body: "from a", Parent: &zero})
	for _, p := range []*peer{a, b} {
		if f := p.read(); f.Type != Message || f.Body != "from a" || f.Peer != a.id || f.Index != 1 {
			t.Errorf("unexpected frame %+v", f)
		}
	}

	// b built on the same parent and lost
	b.send(Frame{Type: Bcast, Channel: "k", Body: "from b", Parent: &zero, Seq: 4})
	if f := b.read(); f.Type != Stale || f.Seq != 4 || f.Index != 1 {
		t.Errorf("expected a stale reply, got %+v", f)
	}

	one := 1
	b.send(Frame{Type: Bcast, Channel: "k", Body: "from b", Parent: &one})
	if f := a.read(); f.Type != Message || f.Body != "from b" || f.Index != 2 {
		t.Errorf("unexpected frame %+v", f)
	}
	if f := b.read(); f.Type != Message || f.Body != "from b" || f.Index != 2 {
		t.Errorf("b should get its own message back, got %+v", f)
	}
}

func TestBroadcastOrder(t *testing.T) {
	_, ts := setup(t)
	peers := []*peer{dial(t, ts), dial(t, ts), dial(t, ts)}
	for _, p := range peers {
		p.send(Frame{Type: Join, Channel: "k"})
		p.read()
	}
	// the joins of the peers after p
	for i, p := range peers {
		for n := len(peers) - 1 - i; n > 0; n-- {
			p.read()
		}
	}

	const perPeer = 30
	var wg sync.WaitGroup
	for _, p := range peers[:2] {
		wg.Add(1)
		go func(p *peer) {
			defer wg.Done()
			for i := 0; i < perPeer; i++ {
				p.conn.WriteJSON(Frame{Type: Bcast, Channel: "k", Body: p.id + strconv.Itoa(i)})
			}
		}(p)
	}

	// index -> body as seen by each peer; senders do not get their own
	seen := make([]map[int]string, len(peers))
	var readers sync.WaitGroup
	for i, p := range peers {
		want := 2 * perPeer
		if i < 2 {
			want = perPeer
		}
		seen[i] = make(map[int]string)
		readers.Add(1)
		go func(p *peer, m map[int]string, want int) {
			defer readers.Done()
			last := 0
			for len(m) < want {
				p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				var f Frame
				if err := p.conn.ReadJSON(&f); err != nil {
					return
				}
				if f.Type != Message {
					continue
				}
				if f.Index <= last {
					m[-1] = "out of order"
				}
				last = f.Index
				m[f.Index] = f.Body
			}
		}(p, seen[i], want)
	}
	wg.Wait()
	readers.Wait()

	all := seen[2]
	if len(all) != 2*perPeer {
		t.Fatalf("observer got %d messages", len(all))
	}
	for i, m := range seen {
		if _, ok := m[-1]; ok {
			t.Errorf("peer %d saw indexes out of order", i)
		}
		for index, body := range m {
			if all[index] != body {
				t.Errorf("peer %d has %q at %d, observer has %q", i, body, index, all[index])
			}
		}
	}

	late := dial(t, ts)
	late.send(Frame{Type: Join, Channel: "k"})
	if f := late.read(); f.Index != 2*perPeer || f.Last != all[2*perPeer] {
		t.Errorf("late joiner got %q at %d", f.Last, f.Index)
	}
}

func TestSendTo(t *testing.T) {
	_, ts := setup(t)
	a, b := dial(t, ts), dial(t, ts)

	a.send(Frame{Type: SendTo, Peer: b.id, Body: "psst"})
	if f := b.read(); f.Type != Message || f.Peer != a.id || f.Body != "psst" || f.Channel != "" {
		t.Errorf("unexpected direct message %+v", f)
	}

	a.send(Frame{Type: SendTo, Peer: "nobody", Seq: 3})
	if f := a.read(); f.Type != Error || f.Seq != 3 {
		t.Errorf("expected an error, got %+v", f)
	}
}

func TestDisconnectLeaves(t *testing.T) {
	_, ts := setup(t)
	a, b := dial(t, ts), dial(t, ts)

	a.send(Frame{Type: Join, Channel: "k"})
	a.read()
	b.send(Frame{Type: Join, Channel: "k"})
	b.read()
	a.read()

	b.conn.Close()
	if f := a.read(); f.Type != Left || f.Peer != b.id {
		t.Errorf("expected b to leave, got %+v", f)
	}
}

func TestBcastRequiresMembership(t *testing.T) {
	_, ts := setup(t)
	a := dial(t, ts)

	a.send(Frame{Type: Bcast, Channel: "k", Body: "x", Seq: 2})
	if f := a.read(); f.Type != Error || f.Seq != 2 {
		t.Errorf("expected an error, got %+v", f)
	}
}

func lookup(t *testing.T, ts *httptest.Server, reqs []KeyRequest) Keys {
	body, _ := json.Marshal(reqs)
	res, err := http.Post(ts.URL+"/keys", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	var keys Keys
	if err := json.NewDecoder(res.Body).Decode(&keys); err != nil {
		t.Fatal(err)
	}
	return keys
}

func TestKeys(t *testing.T) {
	s, ts := setup(t)
	req := KeyRequest{Doc: "Main.WebHome", Mod: "en", Editor: "content"}

	first, ok := lookup(t, ts, []KeyRequest{req}).Get(req)
	if !ok || first.Key == "" || first.Users != 0 {
		t.Fatalf("unexpected key %+v", first)
	}

	a := dial(t, ts)
	a.send(Frame{Type: Join, Channel: first.Key})
	a.read()

	again, _ := lookup(t, ts, []KeyRequest{req}).Get(req)
	if again.Key != first.Key || again.Users != 1 {
		t.Errorf("expected the same key with one user, got %+v", again)
	}

	// an empty channel loses its key after KeyTTL
	a.send(Frame{Type: Leave, Channel: first.Key})
	a.sync()
	s.prune(time.Now().Add(KeyTTL))

	rotated, _ := lookup(t, ts, []KeyRequest{req}).Get(req)
	if rotated.Key == first.Key {
		t.Error("key should have been rotated")
	}
}

func TestDocs(t *testing.T) {
	_, ts := setup(t)

	res, err := http.Get(ts.URL + "/docs/Main.WebHome/en")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", res.StatusCode)
	}

	save := func(base string) (*http.Response, store.Revision) {
		body, _ := json.Marshal(SaveRequest{Content: "hello " + base, Author: "alice", BaseVersion: base})
		res, err := http.Post(ts.URL+"/docs/Main.WebHome/en", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		defer res.Body.Close()
		var rev store.Revision
		json.NewDecoder(res.Body).Decode(&rev)
		return res, rev
	}

	res, rev := save("")
	if res.StatusCode != http.StatusOK || rev.Version != store.FirstVersion {
		t.Fatalf("save failed: %d %+v", res.StatusCode, rev)
	}

	res, rev = save("")
	if res.StatusCode != http.StatusConflict || rev.Version != store.FirstVersion {
		t.Errorf("expected a conflict with the stored revision, got %d %+v", res.StatusCode, rev)
	}

	res, err = http.Get(ts.URL + "/docs/Main.WebHome/en")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	json.NewDecoder(res.Body).Decode(&rev)
	if rev.Content != "hello " {
		t.Errorf("reloaded %+v", rev)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := setup(t)
	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("status %d", res.StatusCode)
	}
}

type fakeBroker struct {
	index     int
	published []Frame
	sync.Mutex
}

func (b *fakeBroker) Publish(_ context.Context, f Frame) (int, error) {
	b.Lock()
	defer b.Unlock()
	if f.Parent != nil && *f.Parent != b.index {
		return 0, ErrStale
	}
	b.index++
	b.published = append(b.published, f)
	return b.index, nil
}

func (b *fakeBroker) Last(_ context.Context, channel string) (Frame, error) {
	return Frame{Channel: channel, Peer: "remote-peer", Body: "old", Index: 4}, nil
}

func (b *fakeBroker) Subscribe(ctx context.Context, deliver func(Frame)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *fakeBroker) Close() error { return nil }

func TestBrokerDelivery(t *testing.T) {
	b := &fakeBroker{index: 4}
	s := NewServer(store.NewMemory(), WithBroker(b))
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	a := dial(t, ts)
	a.send(Frame{Type: Join, Channel: "k"})
	if f := a.read(); f.Last != "old" || f.Index != 4 {
		t.Errorf("the join reply should carry the broker's last frame, got %+v", f)
	}

	// a frame ordered by the broker reaches local members
	s.deliver(Frame{Type: Bcast, Channel: "k", Peer: "remote-peer", Body: "hi", Index: 5})
	if f := a.read(); f.Type != Message || f.Body != "hi" || f.Peer != "remote-peer" || f.Index != 5 {
		t.Errorf("unexpected frame %+v", f)
	}
	// and only once
	s.deliver(Frame{Type: Bcast, Channel: "k", Peer: "remote-peer", Body: "hi", Index: 5})

	parent := 3
	a.send(Frame{Type: Bcast, Channel: "k", Body: "late", Parent: &parent})
	if f := a.read(); f.Type != Stale || f.Channel != "k" {
		t.Errorf("expected a stale reply, got %+v", f)
	}

	a.send(Frame{Type: Bcast, Channel: "k", Body: "out"})
	a.send(Frame{Type: SendTo, Peer: a.id, Body: "sync"})
	if f := a.read(); f.Type != Message || f.Body != "sync" {
		t.Errorf("published frames wait for the broker, got %+v", f)
	}

	b.Lock()
	defer b.Unlock()
	if len(b.published) != 1 || b.published[0].Body != "out" || b.published[0].Peer != a.id {
		t.Errorf("unexpected publications %+v", b.published)
	}
}
