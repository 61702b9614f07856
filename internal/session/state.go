package session

import "errors"

var (
	ErrChannelRotated = errors.New("channel key changed")
	ErrAborted        = errors.New("session aborted")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Syncing
	Live
	Reconnecting
	Aborted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Syncing:
		return "syncing"
	case Live:
		return "live"
	case Reconnecting:
		return "reconnecting"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}
