package transport

import (
	"context"
	"sync"

	"github.com/ilnaes/hyperpad/internal/relay"
)

type message struct {
	body, sender string
	index        int
}

// Channel is a joined relay channel. Messages arriving before a handler is
// set are kept and handed to the first one.
type Channel struct {
	n         *Network
	key       string
	last      string
	lastIndex int

	members   []string
	backlog   []message
	onMessage func(msg, sender string, index int)
	onLeave   func(peer string)

	sync.Mutex // protects last, members, backlog and handlers
}

func (c *Channel) Key() string {
	return c.key
}

func (c *Channel) Last() (string, int) {
	c.Lock()
	defer c.Unlock()
	return c.last, c.lastIndex
}

func (c *Channel) Bcast(ctx context.Context, msg string) error {
	return c.n.write(relay.Frame{Type: relay.Bcast, Channel: c.key, Body: msg})
}

// Append broadcasts msg unless another message got in after the one at
// index parent. An accepted message comes back through OnMessage.
func (c *Channel) Append(ctx context.Context, msg string, parent int) error {
	return c.n.write(relay.Frame{Type: relay.Bcast, Channel: c.key, Body: msg, Parent: &parent})
}

func (c *Channel) OnMessage(f func(msg, sender string, index int)) {
	c.Lock()
	c.onMessage = f
	backlog := c.backlog
	c.backlog = nil
	c.Unlock()

	for _, m := range backlog {
		f(m.body, m.sender, m.index)
	}
}

func (c *Channel) OnLeave(f func(peer string)) {
	c.Lock()
	defer c.Unlock()
	c.onLeave = f
}

func (c *Channel) Members() []string {
	c.Lock()
	defer c.Unlock()
	return append([]string{}, c.members...)
}

func (c *Channel) Leave() error {
	c.n.mu.Lock()
	delete(c.n.channels, c.key)
	c.n.mu.Unlock()
	return c.n.write(relay.Frame{Type: relay.Leave, Channel: c.key})
}

func (c *Channel) message(body, sender string, index int) {
	c.Lock()
	f := c.onMessage
	if f == nil {
		c.backlog = append(c.backlog, message{body, sender, index})
	}
	c.Unlock()

	if f != nil {
		f(body, sender, index)
	}
}

func (c *Channel) joined(peer string) {
	c.Lock()
	defer c.Unlock()
	for _, m := range c.members {
		if m == peer {
			return
		}
	}
	c.members = append(c.members, peer)
}

func (c *Channel) left(peer string) {
	c.Lock()
	for i, m := range c.members {
		if m == peer {
			c.members = append(c.members[:i], c.members[i+1:]...)
			break
		}
	}
	f := c.onLeave
	c.Unlock()

	if f != nil {
		f(peer)
	}
}
