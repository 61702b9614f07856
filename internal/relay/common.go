package relay

type FrameType string

const (
	Hello   FrameType = "hello"   // relay -> peer: Peer is the id assigned to the connection
	Join    FrameType = "join"    // peer -> relay
	Joined  FrameType = "joined"  // relay -> peer: a peer entered Channel
	Leave   FrameType = "leave"   // peer -> relay
	Left    FrameType = "left"    // relay -> peer: a peer left Channel
	Bcast   FrameType = "bcast"   // peer -> relay
	SendTo  FrameType = "sendto"  // peer -> relay: direct message to Peer
	Message FrameType = "message" // relay -> peer: Body sent by Peer
	Stale   FrameType = "stale"   // relay -> peer: a conditional Bcast was dropped
	Error   FrameType = "error"
)

// Frame is the unit exchanged over a relay websocket. Seq echoes the
// sequence number of the request a reply answers.
type Frame struct {
	Type    FrameType `json:"type"`
	Channel string    `json:"channel,omitempty"`
	Peer    string    `json:"peer,omitempty"`
	Body    string    `json:"body,omitempty"`
	Seq     int       `json:"seq,omitempty"`

	// set on the Joined reply to the joining peer
	Members []string `json:"members,omitempty"`
	Last    string   `json:"last,omitempty"`

	// Index is the position of a channel Message, or of Last, in the
	// channel's order. Every member sees the messages of a channel in the
	// same order.
	Index int `json:"index,omitempty"`
	// Parent makes a Bcast conditional: the relay drops it unless Parent is
	// the index of the channel's last message. Accepted conditional
	// broadcasts are echoed to their sender too.
	Parent *int `json:"parent,omitempty"`
}

// KeyRequest asks for the channel key of an editor of a document
// translation.
type KeyRequest struct {
	Doc    string `json:"doc"`
	Mod    string `json:"mod"`
	Editor string `json:"editor"`
}

type KeyInfo struct {
	Key   string `json:"key"`
	Users int    `json:"users"`
}

// Keys is the answer to a key lookup: doc -> mod -> editor -> key.
type Keys map[string]map[string]map[string]KeyInfo

func (k Keys) Get(r KeyRequest) (KeyInfo, bool) {
	info, ok := k[r.Doc][r.Mod][r.Editor]
	return info, ok
}

func (k Keys) set(r KeyRequest, info KeyInfo) {
	if k[r.Doc] == nil {
		k[r.Doc] = make(map[string]map[string]KeyInfo)
	}
	if k[r.Doc][r.Mod] == nil {
		k[r.Doc][r.Mod] = make(map[string]KeyInfo)
	}
	k[r.Doc][r.Mod][r.Editor] = info
}

// SaveRequest is the body of a document save.
type SaveRequest struct {
	Content     string `json:"content"`
	Author      string `json:"author"`
	BaseVersion string `json:"baseVersion"`
}
