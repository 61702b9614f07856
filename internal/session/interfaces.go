package session

import (
	"context"

	"github.com/ilnaes/hyperpad/internal/hyper"
	"github.com/ilnaes/hyperpad/internal/selection"
	"github.com/ilnaes/hyperpad/internal/store"
)

// Network is a connection to the relay. Callbacks may run on any goroutine.
type Network interface {
	Join(ctx context.Context, key string) (Channel, error)
	SendTo(ctx context.Context, peer, msg string) error
	OnMessage(func(msg, sender string))
	OnReconnect(func())
	OnDisconnect(func())
	ID() string
	Close() error
}

// Channel is a joined relay channel. Its messages are numbered, and every
// member sees them in the same order.
type Channel interface {
	Key() string
	Bcast(ctx context.Context, msg string) error
	// Append broadcasts msg only if parent is still the index of the
	// channel's last message. Accepted messages reach the sender too.
	Append(ctx context.Context, msg string, parent int) error
	OnMessage(func(msg, sender string, index int))
	OnLeave(func(peer string))
	Members() []string
	// Last is the last message broadcast on the channel before we joined,
	// with its index.
	Last() (string, int)
	Leave() error
}

// Editor is the editing widget the session drives.
type Editor interface {
	ContentWrapper() *hyper.Element
	Selection() []selection.Range
	RestoreSelection(ranges []selection.Range)
	OnChange(func())
	// UpdateContent runs update on the live content. With propagate false
	// the change does not come back through OnChange.
	UpdateContent(ctx context.Context, update func(root *hyper.Element) []hyper.Route, propagate bool) error
	SetReadOnly(readOnly bool)
	OnBeforeDestroy(func())
	ForceReload()
}

type ChannelInfo struct {
	Path      []string
	Key       string
	UserCount int
}

// Persistence saves and reloads the edited document.
type Persistence interface {
	// Save fails with store.ErrVersionConflict when baseVersion is stale,
	// returning the stored revision.
	Save(ctx context.Context, content, author, baseVersion string) (store.Revision, error)
	Reload(ctx context.Context) (store.Revision, error)
	Channels(ctx context.Context, editors ...string) ([]ChannelInfo, error)
}
