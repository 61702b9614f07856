package relay

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ilnaes/hyperpad/internal/store"
)

const (
	PruneInterval = 30 * time.Second
	// KeyTTL is how long an empty channel keeps its key
	KeyTTL = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type channel struct {
	key     string
	members map[string]*Client
	last    string // last broadcast, replayed to joining peers
	index   int    // index of last
	empty   time.Time

	sync.Mutex // protects the fields above, held while fanning out
}

func (ch *channel) size() int {
	ch.Lock()
	defer ch.Unlock()
	return len(ch.members)
}

// fanout writes a message to the members, the sender only when echo is set.
// ch must be locked.
func (ch *channel) fanout(f Frame, echo bool) {
	for id, c := range ch.members {
		if id != f.Peer || echo {
			c.write(f)
		}
	}
}

// Server relays messages between the peers of a channel. Channels are named
// by keys handed out by the key lookup; a key is dropped once its channel
// stayed empty for KeyTTL, so later lookups rotate it.
type Server struct {
	store    store.Store
	broker   Broker
	logger   *log.Logger
	clients  map[string]*Client
	channels map[string]*channel // key -> channel
	keys     map[KeyRequest]string

	sync.RWMutex // protects clients, channels and keys; taken before a channel's lock
}

type Option func(*Server)

func WithBroker(b Broker) Option {
	return func(s *Server) {
		s.broker = b
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func NewServer(st store.Store, opts ...Option) *Server {
	s := &Server{
		store:    st,
		logger:   log.New(log.Writer(), "[Relay] ", log.LstdFlags),
		clients:  make(map[string]*Client),
		channels: make(map[string]*channel),
		keys:     make(map[KeyRequest]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) NewClient(conn *websocket.Conn) *Client {
	return &Client{
		s:        s,
		id:       uuid.NewString(),
		conn:     conn,
		channels: make(map[string]bool),
		alive:    true,
	}
}

// set up websocket
func (s *Server) ws(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Println(err)
		return
	}

	c := s.NewClient(conn)
	s.Lock()
	s.clients[c.id] = c
	s.Unlock()

	c.write(Frame{Type: Hello, Peer: c.id})
	c.interact()
	s.disconnect(c)
}

// disconnect removes c from its channels and tells the remaining members.
func (s *Server) disconnect(c *Client) {
	s.Lock()
	delete(s.clients, c.id)
	s.Unlock()

	for _, key := range c.joined() {
		s.leave(c, key)
	}
	c.conn.Close()
}

func (s *Server) channel(key string) *channel {
	s.RLock()
	defer s.RUnlock()

	return s.channels[key]
}

// join adds c to the channel named f.Channel. The reply carries the members,
// c included, and the last message broadcast there.
func (s *Server) join(c *Client, f Frame) {
	s.Lock()
	ch, ok := s.channels[f.Channel]
	if !ok {
		ch = &channel{key: f.Channel, members: make(map[string]*Client)}
		s.channels[f.Channel] = ch
	}
	ch.Lock()
	s.Unlock()
	defer ch.Unlock()

	if !ok && s.broker != nil {
		// the channel may have a history on other instances
		last, err := s.broker.Last(context.Background(), f.Channel)
		if err != nil {
			s.logger.Printf("last message of %s: %v", f.Channel, err)
		} else {
			ch.last, ch.index = last.Body, last.Index
		}
	}

	ch.members[c.id] = c
	ch.empty = time.Time{}

	members := make([]string, 0, len(ch.members))
	for id := range ch.members {
		members = append(members, id)
	}
	sort.Strings(members)

	c.write(Frame{Type: Joined, Channel: f.Channel, Peer: c.id, Seq: f.Seq, Members: members, Last: ch.last, Index: ch.index})
	ch.fanout(Frame{Type: Joined, Channel: f.Channel, Peer: c.id}, false)
}

// leave removes c from the channel and tells the remaining members.
func (s *Server) leave(c *Client, key string) {
	ch := s.channel(key)
	if ch == nil {
		return
	}
	ch.Lock()
	defer ch.Unlock()

	delete(ch.members, c.id)
	if len(ch.members) == 0 {
		ch.empty = time.Now()
	}
	ch.fanout(Frame{Type: Left, Channel: key, Peer: c.id}, false)
}

// bcast appends a message from c to the order of its channel and sends it to
// the members. A conditional broadcast that lost the race gets a Stale reply.
func (s *Server) bcast(c *Client, f Frame) {
	f.Peer = c.id
	if s.broker != nil {
		// the broker orders the message, deliver fans it out
		_, err := s.broker.Publish(context.Background(), f)
		switch {
		case errors.Is(err, ErrStale):
			c.write(Frame{Type: Stale, Channel: f.Channel, Seq: f.Seq})
		case err != nil:
			s.logger.Printf("publish to broker: %v", err)
			c.write(Frame{Type: Error, Channel: f.Channel, Seq: f.Seq, Body: "broadcast failed"})
		}
		return
	}

	ch := s.channel(f.Channel)
	if ch == nil {
		return
	}
	ch.Lock()
	defer ch.Unlock()

	if f.Parent != nil && *f.Parent != ch.index {
		c.write(Frame{Type: Stale, Channel: f.Channel, Seq: f.Seq, Index: ch.index})
		return
	}
	ch.index++
	ch.last = f.Body
	ch.fanout(Frame{Type: Message, Channel: f.Channel, Peer: c.id, Body: f.Body, Index: ch.index}, f.Parent != nil)
}

func (s *Server) client(id string) *Client {
	s.RLock()
	defer s.RUnlock()

	return s.clients[id]
}

// deliver sends a frame ordered by the broker to the local members. Frames
// the channel already has are skipped.
func (s *Server) deliver(f Frame) {
	ch := s.channel(f.Channel)
	if ch == nil {
		return
	}
	ch.Lock()
	defer ch.Unlock()

	if f.Index <= ch.index {
		return
	}
	ch.index = f.Index
	ch.last = f.Body
	ch.fanout(Frame{Type: Message, Channel: f.Channel, Peer: f.Peer, Body: f.Body, Index: f.Index}, f.Parent != nil)
}

// deletes channels, and their keys, that stayed empty for KeyTTL
func (s *Server) prune(now time.Time) {
	s.Lock()
	defer s.Unlock()

	for key, ch := range s.channels {
		ch.Lock()
		stale := len(ch.members) == 0 && !ch.empty.IsZero() && now.Sub(ch.empty) >= KeyTTL
		ch.Unlock()
		if stale {
			delete(s.channels, key)
			for req, k := range s.keys {
				if k == key {
					delete(s.keys, req)
				}
			}
		}
	}
}

func (s *Server) update(ctx context.Context) {
	t := time.NewTicker(PruneInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.prune(now)
		}
	}
}
