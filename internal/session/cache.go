package session

import "sync"

// Cache holds what a session looked up and may need again: the channel keys
// it joined and what it learned about the other users.
type Cache struct {
	keys  map[string]string // editor -> channel key
	users map[string]bool   // peer -> editing in realtime

	sync.Mutex
}

func NewCache() *Cache {
	return &Cache{
		keys:  make(map[string]string),
		users: make(map[string]bool),
	}
}

func (c *Cache) Key(editor string) (string, bool) {
	c.Lock()
	defer c.Unlock()
	key, ok := c.keys[editor]
	return key, ok
}

// SetKeys records the keys of infos, indexed by the editor ending their path.
func (c *Cache) SetKeys(infos []ChannelInfo) {
	c.Lock()
	defer c.Unlock()
	for _, info := range infos {
		if len(info.Path) > 0 {
			c.keys[info.Path[len(info.Path)-1]] = info.Key
		}
	}
}

func (c *Cache) SetUser(peer string, realtime bool) {
	c.Lock()
	defer c.Unlock()
	c.users[peer] = realtime
}

func (c *Cache) ForgetUser(peer string) {
	c.Lock()
	defer c.Unlock()
	delete(c.users, peer)
}

// OfflineUsers returns the known peers editing without realtime.
func (c *Cache) OfflineUsers() []string {
	c.Lock()
	defer c.Unlock()
	var res []string
	for peer, realtime := range c.users {
		if !realtime {
			res = append(res, peer)
		}
	}
	return res
}
