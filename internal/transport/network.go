package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/ilnaes/hyperpad/internal/relay"
	"github.com/ilnaes/hyperpad/internal/session"
)

var (
	ErrClosed       = errors.New("network closed")
	ErrDisconnected = errors.New("not connected")
)

type Options struct {
	Dialer *websocket.Dialer
	Logger *log.Logger
	// NewBackOff builds the retry policy used after the connection drops.
	NewBackOff func() backoff.BackOff
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Network is a relay connection that reconnects on its own. Channels do not
// survive a reconnect: OnReconnect handlers are expected to join again.
type Network struct {
	url  string
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	conn     *websocket.Conn
	id       string
	seq      int
	pending  map[int]chan relay.Frame
	channels map[string]*Channel

	onMessage    func(msg, sender string)
	onReconnect  []func()
	onDisconnect []func()

	mu      sync.Mutex // protects everything above
	writeMu sync.Mutex // protects concurrent conn writes
}

func Connect(ctx context.Context, url string, opts Options) (*Network, error) {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[Network] ", log.LstdFlags)
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = defaultBackOff
	}

	n := &Network{
		url:      url,
		opts:     opts,
		pending:  make(map[int]chan relay.Frame),
		channels: make(map[string]*Channel),
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())

	conn, id, err := n.dial(ctx)
	if err != nil {
		n.cancel()
		return nil, err
	}
	n.conn, n.id = conn, id

	go n.run(conn)
	return n, nil
}

// dial opens a connection and waits for the relay to greet it.
func (n *Network) dial(ctx context.Context) (*websocket.Conn, string, error) {
	conn, _, err := n.opts.Dialer.DialContext(ctx, n.url, nil)
	if err != nil {
		return nil, "", err
	}

	var hello relay.Frame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, "", err
	}
	if hello.Type != relay.Hello {
		conn.Close()
		return nil, "", fmt.Errorf("expected hello, got %q", hello.Type)
	}
	return conn, hello.Peer, nil
}

func (n *Network) run(conn *websocket.Conn) {
	for {
		var f relay.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if n.ctx.Err() != nil {
				return
			}
			n.opts.Logger.Printf("connection lost: %v", err)
			conn = n.reconnect()
			if conn == nil {
				return
			}
			continue
		}
		n.dispatch(f)
	}
}

func (n *Network) reconnect() *websocket.Conn {
	n.mu.Lock()
	n.conn.Close()
	n.conn = nil
	n.channels = make(map[string]*Channel)
	for seq, ch := range n.pending {
		close(ch)
		delete(n.pending, seq)
	}
	handlers := append([]func(){}, n.onDisconnect...)
	n.mu.Unlock()

	for _, h := range handlers {
		h()
	}

	var (
		conn *websocket.Conn
		id   string
	)
	op := func() error {
		var err error
		conn, id, err = n.dial(n.ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		n.opts.Logger.Printf("reconnect failed, retrying in %v: %v", wait, err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(n.opts.NewBackOff(), n.ctx), notify); err != nil {
		return nil
	}

	n.mu.Lock()
	n.conn, n.id = conn, id
	handlers = append([]func(){}, n.onReconnect...)
	n.mu.Unlock()

	n.opts.Logger.Printf("reconnected as %s", id)
	for _, h := range handlers {
		h()
	}
	return conn
}

func (n *Network) dispatch(f relay.Frame) {
	n.mu.Lock()
	if f.Seq != 0 && (f.Type == relay.Joined || f.Type == relay.Error) {
		if ch, ok := n.pending[f.Seq]; ok {
			delete(n.pending, f.Seq)
			n.mu.Unlock()
			ch <- f
			return
		}
	}
	channel := n.channels[f.Channel]
	onMessage := n.onMessage
	n.mu.Unlock()

	switch f.Type {
	case relay.Joined:
		if channel != nil {
			channel.joined(f.Peer)
		}
	case relay.Left:
		if channel != nil {
			channel.left(f.Peer)
		}
	case relay.Message:
		if f.Channel == "" {
			if onMessage != nil {
				onMessage(f.Body, f.Peer)
			}
		} else if channel != nil {
			channel.message(f.Body, f.Peer, f.Index)
		}
	case relay.Stale:
		n.opts.Logger.Printf("broadcast on %s lost to message %d", f.Channel, f.Index)
	case relay.Error:
		n.opts.Logger.Printf("relay error: %s", f.Body)
	}
}

func (n *Network) write(f relay.Frame) error {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()

	if n.ctx.Err() != nil {
		return ErrClosed
	}
	if conn == nil {
		return ErrDisconnected
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return conn.WriteJSON(f)
}

// request sends f and waits for the reply carrying the same sequence number.
func (n *Network) request(ctx context.Context, f relay.Frame) (relay.Frame, error) {
	reply := make(chan relay.Frame, 1)
	n.mu.Lock()
	n.seq++
	f.Seq = n.seq
	n.pending[f.Seq] = reply
	n.mu.Unlock()

	if err := n.write(f); err != nil {
		n.mu.Lock()
		delete(n.pending, f.Seq)
		n.mu.Unlock()
		return relay.Frame{}, err
	}

	select {
	case res, ok := <-reply:
		if !ok {
			return relay.Frame{}, ErrDisconnected
		}
		if res.Type == relay.Error {
			return relay.Frame{}, fmt.Errorf("relay: %s", res.Body)
		}
		return res, nil
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.pending, f.Seq)
		n.mu.Unlock()
		return relay.Frame{}, ctx.Err()
	}
}

// Join registers the channel before asking the relay, so messages following
// the reply land in its backlog.
func (n *Network) Join(ctx context.Context, key string) (session.Channel, error) {
	ch := &Channel{n: n, key: key}
	n.mu.Lock()
	n.channels[key] = ch
	n.mu.Unlock()

	res, err := n.request(ctx, relay.Frame{Type: relay.Join, Channel: key})
	if err != nil {
		n.mu.Lock()
		if n.channels[key] == ch {
			delete(n.channels, key)
		}
		n.mu.Unlock()
		return nil, err
	}

	ch.Lock()
	ch.members = res.Members
	ch.last, ch.lastIndex = res.Last, res.Index
	ch.Unlock()
	return ch, nil
}

func (n *Network) SendTo(ctx context.Context, peer, msg string) error {
	return n.write(relay.Frame{Type: relay.SendTo, Peer: peer, Body: msg})
}

func (n *Network) OnMessage(f func(msg, sender string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onMessage = f
}

func (n *Network) OnReconnect(f func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onReconnect = append(n.onReconnect, f)
}

func (n *Network) OnDisconnect(f func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDisconnect = append(n.onDisconnect, f)
}

func (n *Network) ID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

func (n *Network) Close() error {
	n.cancel()
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return nil
	}

	n.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	n.writeMu.Unlock()
	return conn.Close()
}

// Drop closes the underlying connection as if the relay went away. The
// network reconnects on its own.
func (n *Network) Drop() {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
