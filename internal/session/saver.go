package session

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/ilnaes/hyperpad/internal/store"
)

const (
	SaveDelay = time.Second

	// save priorities, the highest wins the election
	AutoSave     = 1
	ManualSave   = 2
	SaveAndClose = 3
)

type SaveStatus int

const (
	Dirty SaveStatus = iota
	Saving
	Saved
)

func (s SaveStatus) String() string {
	switch s {
	case Dirty:
		return "dirty"
	case Saving:
		return "saving"
	case Saved:
		return "saved"
	}
	return "unknown"
}

// SaverState is what a client tells the others about its saving.
type SaverState struct {
	ID               string         `json:"id"` // peer id on the saver channel
	UpdateCount      int            `json:"updateCount"`
	SavedUpdateCount map[string]int `json:"savedUpdateCount"`
	Dirty            bool           `json:"dirty"`
	Saving           int            `json:"saving"`
	Version          string         `json:"version,omitempty"`
}

// Saver tracks the saver states of all clients editing a document and
// decides when to save and who saves. It does no I/O.
type Saver struct {
	client     string
	states     map[string]*SaverState
	state      *SaverState
	dirtySince time.Time
	status     SaveStatus
}

func NewSaver(client, peer string) *Saver {
	st := &SaverState{ID: peer, SavedUpdateCount: map[string]int{}}
	return &Saver{
		client: client,
		states: map[string]*SaverState{client: st},
		state:  st,
		status: Saved,
	}
}

func (s *Saver) SetPeer(peer string) {
	s.state.ID = peer
}

// ContentModified counts a local change.
func (s *Saver) ContentModified(now time.Time) {
	s.state.UpdateCount++
	s.update(now)
}

// update recomputes our dirty flag and reports whether it flipped.
func (s *Saver) update(now time.Time) bool {
	was := s.state.Dirty
	s.state.Dirty = s.state.UpdateCount > 0 && !s.some(func(st *SaverState) bool {
		return st.SavedUpdateCount[s.client] >= s.state.UpdateCount
	})
	if s.state.Dirty && !was {
		s.dirtySince = now
	}
	return was != s.state.Dirty
}

// SetVersion records the document version we are editing.
func (s *Saver) SetVersion(v string) {
	s.state.Version = v
}

func (s *Saver) Dirty() bool {
	return s.state.Dirty
}

func (s *Saver) DirtySince() time.Time {
	return s.dirtySince
}

func (s *Saver) some(f func(st *SaverState) bool) bool {
	for _, st := range s.states {
		if f(st) {
			return true
		}
	}
	return false
}

// Encode returns the states as JSON with sorted keys.
func (s *Saver) Encode() string {
	data, _ := json.Marshal(s.states)
	return string(data)
}

// Merge adopts the states received from peer. Only the sender's own state
// and states of clients we never heard of are taken, so a stale copy of a
// third client's state cannot override a newer one. It returns true when
// our dirty flag changed.
func (s *Saver) Merge(msg, peer string, now time.Time) (bool, error) {
	var remote map[string]*SaverState
	if err := json.Unmarshal([]byte(msg), &remote); err != nil {
		return false, err
	}
	for client, st := range remote {
		if client == s.client || st == nil {
			continue
		}
		if _, known := s.states[client]; known && st.ID != peer {
			continue
		}
		if st.SavedUpdateCount == nil {
			st.SavedUpdateCount = map[string]int{}
		}
		s.states[client] = st
	}
	return s.update(now), nil
}

// Forget drops the state of the client connected as peer.
func (s *Saver) Forget(peer string) {
	for client, st := range s.states {
		if client != s.client && st.ID == peer {
			delete(s.states, client)
		}
	}
}

func (s *Saver) SomeoneSaving(connected func(peer string) bool) bool {
	return s.some(func(st *SaverState) bool { return st.Saving > 0 && s.isConnected(st, connected) })
}

func (s *Saver) SomeoneDirty(connected func(peer string) bool) bool {
	return s.some(func(st *SaverState) bool { return st.Dirty && s.isConnected(st, connected) })
}

func (s *Saver) isConnected(st *SaverState, connected func(peer string) bool) bool {
	return st == s.state || connected == nil || connected(st.ID)
}

// ShouldSave is true when a connected client has unsaved changes, nobody is
// saving and the last save is older than interval.
func (s *Saver) ShouldSave(now, lastSave time.Time, interval time.Duration, connected func(peer string) bool) bool {
	if s.SomeoneSaving(connected) || !s.SomeoneDirty(connected) {
		return false
	}
	return now.Sub(lastSave) >= interval
}

func (s *Saver) BeginSave(priority int) {
	s.state.Saving = priority
}

func (s *Saver) Saving() bool {
	return s.state.Saving > 0
}

// Elect returns the client that should save: the highest priority wins, then
// the lowest client id.
func (s *Saver) Elect(connected func(peer string) bool) string {
	clients := make([]string, 0, len(s.states))
	for client := range s.states {
		clients = append(clients, client)
	}
	sort.Strings(clients)

	priority, elected := AutoSave, ""
	for _, client := range clients {
		st := s.states[client]
		if !s.isConnected(st, connected) {
			continue
		}
		if st.Saving > priority || (st.Saving == priority && elected == "") {
			priority, elected = st.Saving, client
		}
	}
	return elected
}

func (s *Saver) Client() string {
	return s.client
}

// UpdateCounts snapshots the update count of every client.
func (s *Saver) UpdateCounts() map[string]int {
	res := make(map[string]int, len(s.states))
	for client, st := range s.states {
		res[client] = st.UpdateCount
	}
	return res
}

// EndSave finishes a save attempt. saved is nil when we did not save or the
// save failed.
func (s *Saver) EndSave(saved map[string]int, version string, now time.Time) {
	if saved != nil {
		s.state.SavedUpdateCount = saved
		s.state.Version = version
	}
	s.state.Saving = 0
	s.update(now)
}

// LatestVersion returns the newest version any client saved and who saved
// it.
func (s *Saver) LatestVersion() (string, string) {
	latest, by := "0.0", ""
	for client, st := range s.states {
		if store.CompareVersions(st.Version, latest) > 0 {
			latest, by = st.Version, client
		}
	}
	return latest, by
}

// Status returns the save status and whether it changed since the last call.
func (s *Saver) Status(connected func(peer string) bool) (SaveStatus, bool) {
	status := Saved
	switch {
	case s.SomeoneSaving(connected):
		status = Saving
	case s.SomeoneDirty(connected):
		status = Dirty
	}
	changed := status != s.status
	s.status = status
	return status, changed
}
