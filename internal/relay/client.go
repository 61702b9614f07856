package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const WriteTimeout = 10 * time.Second

type Client struct {
	s        *Server
	id       string
	conn     *websocket.Conn
	channels map[string]bool // only touched by the interact goroutine
	alive    bool

	sync.Mutex // protects concurrent conn writes
}

// thread-safe websocket writing
func (c *Client) write(f Frame) {
	c.Lock()
	defer c.Unlock()

	if !c.alive {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := c.conn.WriteJSON(f); err != nil {
		c.alive = false
		c.s.logger.Printf("write to %s: %v", c.id, err)
	}
}

func (c *Client) joined() []string {
	res := make([]string, 0, len(c.channels))
	for key := range c.channels {
		res = append(res, key)
	}
	return res
}

func (c *Client) handleJoin(f Frame) {
	if f.Channel == "" {
		c.write(Frame{Type: Error, Seq: f.Seq, Body: "missing channel"})
		return
	}
	c.channels[f.Channel] = true
	c.s.join(c, f)
}

func (c *Client) handleLeave(f Frame) {
	if !c.channels[f.Channel] {
		return
	}
	delete(c.channels, f.Channel)
	c.s.leave(c, f.Channel)
}

func (c *Client) handleBcast(f Frame) {
	if !c.channels[f.Channel] {
		c.write(Frame{Type: Error, Seq: f.Seq, Channel: f.Channel, Body: "not a member"})
		return
	}
	c.s.bcast(c, f)
}

func (c *Client) handleSendTo(f Frame) {
	peer := c.s.client(f.Peer)
	if peer == nil {
		c.write(Frame{Type: Error, Seq: f.Seq, Peer: f.Peer, Body: "no such peer"})
		return
	}
	peer.write(Frame{Type: Message, Peer: c.id, Body: f.Body})
}

func (c *Client) interact() {
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.s.logger.Println(err)
			}
			break
		}

		switch f.Type {
		case Join:
			c.handleJoin(f)
		case Leave:
			c.handleLeave(f)
		case Bcast:
			c.handleBcast(f)
		case SendTo:
			c.handleSendTo(f)
		default:
			c.write(Frame{Type: Error, Seq: f.Seq, Body: "unknown frame type " + string(f.Type)})
		}
	}
}
