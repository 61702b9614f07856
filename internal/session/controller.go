package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ilnaes/hyperpad/internal/history"
	"github.com/ilnaes/hyperpad/internal/hyper"
	"github.com/ilnaes/hyperpad/internal/ot"
	"github.com/ilnaes/hyperpad/internal/patch"
	"github.com/ilnaes/hyperpad/internal/selection"
	"github.com/ilnaes/hyperpad/internal/store"
)

const (
	DefaultEditorType    = "wysiwyg"
	DefaultSaveInterval  = 60 * time.Second
	SaveIntervalJitter   = 6 * time.Second
	DefaultCheckInterval = 20 * time.Second
	RetryDelay           = time.Second

	SaverEditor = "saver"
	UsersEditor = "all"

	ContentUpdate = "contentUpdate"
)

type Config struct {
	// Client names this user in the saver states. A random one is used when
	// empty.
	Client string
	// EditorType names the content channel.
	EditorType string
	// Offline sessions only join the users channel, to warn the realtime
	// users and answer their requests.
	Offline bool

	Network     Network
	Editor      Editor
	Persistence Persistence
	Notifier    Notifier
	Cache       *Cache
	Logger      *log.Logger

	SaveInterval  time.Duration
	CheckInterval time.Duration
	HistoryLimit  int

	// OnRequest decides whether to switch to realtime when another user
	// asks for it. Offline sessions without it reject every request.
	OnRequest func(editor string) (accept bool, reason string)
}

type contentMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type joined struct {
	content, saver, users Channel
}

// Controller runs the realtime editing session of one document. Every event
// is handled on a single goroutine, in the order it arrived.
type Controller struct {
	cfg      Config
	logger   *log.Logger
	notifier Notifier
	cache    *Cache
	realtime bool
	rand     *rand.Rand

	// owned by the loop
	state          State
	err            error
	history        *history.History
	saver          *Saver
	content        Channel
	saverCh        Channel
	users          Channel
	shared         string // content of the last message on the content channel
	head           int    // index of that message
	sent           string // content appended on top of sentParent, not back yet
	sentParent     int
	version        string // stored version the content is based on
	base           string // content of that version
	lastSave       time.Time
	saveInterval   time.Duration
	saveWaiters    []chan error
	reloading      bool
	checkTimer     *time.Timer
	pendingRequest chan Envelope

	queue []func()
	wake  chan struct{}
	mu    sync.Mutex // protects queue and state writes

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Controller {
	if cfg.Client == "" {
		cfg.Client = uuid.New().String()
	}
	if cfg.EditorType == "" {
		cfg.EditorType = DefaultEditorType
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Session] ", log.LstdFlags)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Logger: cfg.Logger}
	}
	if cfg.Cache == nil {
		cfg.Cache = NewCache()
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}

	c := &Controller{
		cfg:      cfg,
		logger:   cfg.Logger,
		notifier: cfg.Notifier,
		cache:    cfg.Cache,
		realtime: !cfg.Offline,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.saveInterval = cfg.SaveInterval
	if c.saveInterval == 0 {
		c.saveInterval = DefaultSaveInterval + time.Duration(c.rand.Int63n(int64(SaveIntervalJitter)))
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

func (c *Controller) editors() []string {
	if !c.realtime {
		return []string{UsersEditor}
	}
	return []string{c.cfg.EditorType, SaverEditor, UsersEditor}
}

// Start loads the document, joins its channels and goes live.
func (c *Controller) Start(ctx context.Context) error {
	c.setState(Connecting)
	c.cfg.Editor.SetReadOnly(true)

	rev, err := c.cfg.Persistence.Reload(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("reload: %w", err)
	default:
		c.version, c.base = rev.Version, rev.Content
	}

	infos, err := c.cfg.Persistence.Channels(ctx, c.editors()...)
	if err != nil {
		return fmt.Errorf("channels: %w", err)
	}
	c.cache.SetKeys(infos)

	j, err := c.joinAll(ctx)
	if err != nil {
		return err
	}
	c.setState(Syncing)

	content := c.serialize()
	var opts []history.Option
	if c.cfg.HistoryLimit > 0 {
		opts = append(opts, history.WithLimit(c.cfg.HistoryLimit))
	}
	c.history = history.New(content, opts...)
	c.shared = content
	c.saver = NewSaver(c.cfg.Client, c.cfg.Network.ID())
	c.saver.SetVersion(c.version)
	c.lastSave = time.Now()

	// sync is queued before any channel message so the replayed last
	// message is handled first
	c.post(c.sync)
	c.attach(j)

	c.cfg.Network.OnMessage(func(msg, sender string) {
		c.post(func() { c.onEnvelope(msg, sender) })
	})
	c.cfg.Network.OnDisconnect(func() { c.post(c.disconnected) })
	c.cfg.Network.OnReconnect(func() { c.post(c.rejoin) })
	c.cfg.Editor.OnChange(func() { c.post(c.onLocalChange) })
	c.cfg.Editor.OnBeforeDestroy(func() { c.Close() })

	go c.loop()
	return nil
}

func (c *Controller) joinAll(ctx context.Context) (joined, error) {
	var j joined
	for _, editor := range c.editors() {
		key, ok := c.cache.Key(editor)
		if !ok {
			return j, fmt.Errorf("no channel for %s", editor)
		}
		ch, err := c.cfg.Network.Join(ctx, key)
		if err != nil {
			return j, fmt.Errorf("join %s: %w", editor, err)
		}
		switch editor {
		case SaverEditor:
			j.saver = ch
		case UsersEditor:
			j.users = ch
		default:
			j.content = ch
		}
	}
	return j, nil
}

// attach makes j the current channels. Messages of channels replaced later
// are dropped.
func (c *Controller) attach(j joined) {
	c.content, c.saverCh, c.users = j.content, j.saver, j.users

	if ch := j.content; ch != nil {
		ch.OnMessage(func(msg, sender string, index int) {
			c.post(func() {
				if c.content == ch {
					c.onContent(msg, sender, index)
				}
			})
		})
	}
	if ch := j.saver; ch != nil {
		ch.OnMessage(func(msg, sender string, _ int) {
			c.post(func() {
				if c.saverCh == ch {
					c.onSaverStates(msg, sender)
				}
			})
		})
		ch.OnLeave(func(peer string) {
			c.post(func() {
				if c.saverCh == ch {
					c.saver.Forget(peer)
					c.notifyStatus()
				}
			})
		})
	}
	if ch := j.users; ch != nil {
		ch.OnMessage(func(msg, sender string, _ int) {
			c.post(func() {
				if c.users == ch {
					c.onEnvelope(msg, sender)
				}
			})
		})
		ch.OnLeave(func(peer string) {
			c.post(func() {
				if c.users == ch {
					c.onUserLeave(peer)
				}
			})
		})
	}
}

// sync catches up with the content channel and goes live.
func (c *Controller) sync() {
	if c.state == Aborted {
		return
	}
	c.cfg.Editor.SetReadOnly(false)
	c.setState(Live)

	if c.content != nil {
		c.sent = ""
		last, index := c.content.Last()
		switch {
		case index == 0:
			// first one here
			c.broadcast(c.recordLocal(), true)
		case index != c.head:
			// what we missed, our own changes merged on top
			c.head = index - 1
			c.onContent(last, "", index)
		default:
			c.broadcast(c.recordLocal(), false)
		}
	}
	if c.saverCh != nil {
		if last, _ := c.saverCh.Last(); last != "" {
			if _, err := c.saver.Merge(last, "", time.Now()); err != nil {
				c.logger.Printf("bad saver states: %v", err)
			}
		}
	}
	c.announce()
	c.pushStates()
	c.notifyStatus()
	c.scheduleCheck()
}

func (c *Controller) post(f func()) {
	c.mu.Lock()
	c.queue = append(c.queue, f)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// call runs f on the loop and waits for it. It returns false when the
// session is closed.
func (c *Controller) call(f func()) bool {
	done := make(chan struct{})
	c.post(func() {
		f()
		close(done)
	})
	select {
	case <-done:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case <-c.wake:
		}

		c.mu.Lock()
		queue := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, f := range queue {
			if c.ctx.Err() != nil {
				break
			}
			f()
		}
	}
}

func (c *Controller) shutdown() {
	if c.checkTimer != nil {
		c.checkTimer.Stop()
	}
	for _, ch := range []Channel{c.content, c.saverCh, c.users} {
		if ch != nil {
			ch.Leave()
		}
	}
	c.finishSave(ErrAborted)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed {
		c.logger.Printf("state %v", s)
		c.notifier.StateChanged(s)
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns why the session was aborted.
func (c *Controller) Err() error {
	var err error
	if !c.call(func() { err = c.err }) {
		return ErrAborted
	}
	return err
}

func (c *Controller) serialize() string {
	return hyper.DefaultFilter.Serialize(c.cfg.Editor.ContentWrapper())
}

// flatSelection returns the first selected range as offsets into the
// serialized content.
func (c *Controller) flatSelection() history.Selection {
	ranges := c.cfg.Editor.Selection()
	if len(ranges) == 0 {
		return history.Selection{}
	}
	r := selection.Normalize(ranges[0])
	offs, err := selection.Locate(hyper.DefaultFilter.Apply(c.cfg.Editor.ContentWrapper()), []selection.Boundary{r.Start, r.End})
	if err != nil {
		return history.Selection{}
	}
	return history.Selection{Start: offs[0], End: offs[1]}
}

// recordLocal records a local change the loop has not seen yet and returns
// the current content.
func (c *Controller) recordLocal() string {
	content := c.serialize()
	if content == c.history.Content() {
		return content
	}
	c.history.ChangeContent(content, c.flatSelection(), true)
	c.saver.ContentModified(time.Now())
	c.pushStates()
	c.notifyStatus()
	return content
}

func (c *Controller) onLocalChange() {
	if c.state == Aborted {
		return
	}
	c.broadcast(c.recordLocal(), false)
}

// broadcast appends content to the content channel unless it is already
// the last message there or on its way. Nothing is sent while not live, the
// content goes out on sync.
func (c *Controller) broadcast(content string, force bool) {
	if c.content == nil || c.state != Live {
		return
	}
	if content == c.shared && !force {
		return
	}
	if content == c.sent && c.head == c.sentParent {
		return
	}
	msg, _ := json.Marshal(contentMessage{Type: ContentUpdate, Content: content})
	if err := c.content.Append(c.ctx, string(msg), c.head); err != nil {
		c.logger.Printf("broadcast: %v", err)
		return
	}
	c.sent, c.sentParent = content, c.head
}

// onContent handles the message at index of the content channel. Messages
// come in channel order: each one was built on the one before, which is
// the merge base for the local changes not in the channel yet.
func (c *Controller) onContent(msg, sender string, index int) {
	if index <= c.head {
		return
	}
	c.head = index

	var m contentMessage
	if err := json.Unmarshal([]byte(msg), &m); err != nil || m.Type != ContentUpdate {
		c.logger.Printf("ignoring message from %s", sender)
		return
	}
	if _, err := hyper.UnmarshalElement(m.Content); err != nil {
		c.logger.Printf("invalid content from %s: %v", sender, err)
		return
	}

	local := c.recordLocal()
	if sender == c.cfg.Network.ID() {
		// ours, already in the editor
		c.shared = m.Content
		c.broadcast(local, false)
		return
	}

	merged := ot.MergeValidated(c.shared, m.Content, local, hyper.Validate)
	c.shared = m.Content

	if merged != local {
		err := c.apply(merged)
		if err != nil && merged != m.Content {
			c.logger.Printf("apply merged content: %v, taking the remote one", err)
			err = c.apply(m.Content)
		}
		if err != nil {
			c.logger.Printf("apply remote content: %v", err)
			return
		}
		c.history.ChangeContent(c.serialize(), c.flatSelection(), false)
	}
	c.broadcast(c.serialize(), false)
}

// apply patches the editor content into content, keeping the selection.
func (c *Controller) apply(content string) error {
	target, err := hyper.UnmarshalElement(content)
	if err != nil {
		return err
	}

	ranges := c.cfg.Editor.Selection()
	before := c.cfg.Editor.ContentWrapper()
	saved := make([]selection.TextSelection, len(ranges))
	for i, r := range ranges {
		saved[i] = selection.SaveText(before, r)
	}
	tracker := selection.Track(ranges)

	var patchErr error
	err = c.cfg.Editor.UpdateContent(c.ctx, func(live *hyper.Element) []hyper.Route {
		res, err := patch.Apply(live, patch.Diff(live, target), patch.Options{
			Reject:   patch.Chain(patch.DefaultFilters...),
			Sanitize: hyper.DefaultFilter,
			Before:   tracker.Update,
			Logger:   c.logger,
		})
		patchErr = err
		return res.Updated
	}, false)
	if err != nil {
		return err
	}
	if patchErr != nil {
		c.logger.Printf("patch stopped early: %v", patchErr)
	}

	if len(ranges) == 0 {
		return nil
	}
	restored, ok := tracker.Ranges()
	if !ok {
		root := c.cfg.Editor.ContentWrapper()
		restored = make([]selection.Range, len(saved))
		for i, s := range saved {
			restored[i] = s.Restore(root)
		}
	}
	c.cfg.Editor.RestoreSelection(restored)
	return nil
}

// Undo reverts the last local change still in the history.
func (c *Controller) Undo() bool {
	var ok bool
	c.call(func() { ok = c.step(func() (string, history.Selection, bool) { return c.history.Undo() }) })
	return ok
}

func (c *Controller) Redo() bool {
	var ok bool
	c.call(func() { ok = c.step(func() (string, history.Selection, bool) { return c.history.Redo() }) })
	return ok
}

func (c *Controller) CanUndo() bool {
	var ok bool
	c.call(func() { ok = c.history.CanUndo() })
	return ok
}

func (c *Controller) CanRedo() bool {
	var ok bool
	c.call(func() { ok = c.history.CanRedo() })
	return ok
}

func (c *Controller) step(move func() (string, history.Selection, bool)) bool {
	if c.state == Aborted {
		return false
	}
	c.recordLocal()
	content, sel, ok := move()
	if !ok {
		return false
	}
	if err := c.apply(content); err != nil {
		c.logger.Printf("apply history: %v", err)
		return false
	}

	if bs, err := selection.ResolveOffsets(content, []int{sel.Start, sel.End}); err == nil {
		bs[0].Type, bs[1].Type = selection.Start, selection.End
		c.cfg.Editor.RestoreSelection([]selection.Range{{Start: bs[0], End: bs[1]}})
	}

	c.saver.ContentModified(time.Now())
	c.pushStates()
	c.notifyStatus()
	c.broadcast(c.serialize(), false)
	return true
}

func (c *Controller) pushStates() {
	if c.saverCh == nil || c.state != Live {
		return
	}
	if err := c.saverCh.Bcast(c.ctx, c.saver.Encode()); err != nil {
		c.logger.Printf("push saver states: %v", err)
	}
}

func (c *Controller) connected(peer string) bool {
	if c.saverCh == nil || c.state != Live {
		return false
	}
	for _, m := range c.saverCh.Members() {
		if m == peer {
			return true
		}
	}
	return false
}

func (c *Controller) notifyStatus() {
	if status, changed := c.saver.Status(c.connected); changed {
		c.notifier.SaveStatus(status)
	}
}

// jitter returns a duration around target, off by at most a quarter of it.
func (c *Controller) jitter(target time.Duration) time.Duration {
	rng := int64(target / 2)
	if rng <= 0 {
		return target
	}
	return target - time.Duration(rng/2) + time.Duration(c.rand.Int63n(rng))
}

func (c *Controller) scheduleCheck() {
	if c.checkTimer != nil {
		c.checkTimer.Stop()
	}
	c.checkTimer = time.AfterFunc(c.jitter(c.cfg.CheckInterval), func() { c.post(c.checkSave) })
}

func (c *Controller) checkSave() {
	if c.state == Aborted {
		return
	}
	defer c.scheduleCheck()
	if c.state != Live || !c.realtime {
		return
	}
	c.recordLocal()
	if c.saver.ShouldSave(time.Now(), c.lastSave, c.saveInterval, c.connected) {
		c.startSave(AutoSave)
	}
}

// Save asks the realtime users to save the document and waits until one of
// them did.
func (c *Controller) Save(ctx context.Context) error {
	return c.save(ctx, ManualSave)
}

// SaveAndClose saves ahead of every other pending save, then stops the
// session.
func (c *Controller) SaveAndClose(ctx context.Context) error {
	err := c.save(ctx, SaveAndClose)
	c.Close()
	return err
}

func (c *Controller) save(ctx context.Context, priority int) error {
	res := make(chan error, 1)
	if !c.call(func() {
		c.saveWaiters = append(c.saveWaiters, res)
		c.startSave(priority)
	}) {
		return ErrAborted
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) startSave(priority int) {
	if c.state != Live || c.saver == nil {
		c.finishSave(fmt.Errorf("cannot save while %v", c.state))
		return
	}
	if c.saver.Saving() {
		if priority > c.saver.state.Saving {
			c.saver.BeginSave(priority)
			c.pushStates()
		}
		return
	}
	c.recordLocal()
	c.saver.BeginSave(priority)
	c.pushStates()
	c.notifyStatus()
	time.AfterFunc(SaveDelay, func() { c.post(c.elect) })
}

// elect runs once every client had the time to announce its save attempt.
func (c *Controller) elect() {
	if !c.saver.Saving() {
		return
	}
	if c.state != Live {
		c.saver.EndSave(nil, "", time.Now())
		c.finishSave(fmt.Errorf("cannot save while %v", c.state))
		return
	}
	if c.saver.Elect(c.connected) != c.saver.Client() {
		c.saver.EndSave(nil, "", time.Now())
		c.pushStates()
		c.notifyStatus()
		c.finishSave(nil)
		return
	}

	c.persist(true)
}

// persist saves the current content. After a conflict the stored version is
// merged in and the save tried once more.
func (c *Controller) persist(retry bool) {
	content := c.recordLocal()
	counts := c.saver.UpdateCounts()
	base := c.version
	go func() {
		rev, err := c.cfg.Persistence.Save(c.ctx, content, c.cfg.Client, base)
		c.post(func() { c.saved(content, counts, rev, err, retry) })
	}()
}

func (c *Controller) saved(content string, counts map[string]int, rev store.Revision, err error, retry bool) {
	now := time.Now()
	c.lastSave = now

	switch {
	case errors.Is(err, store.ErrVersionConflict):
		c.logger.Printf("save conflict with version %s", rev.Version)
		c.mergeRevision(rev)
		if retry && c.state == Live {
			c.persist(false)
			return
		}
		c.saver.EndSave(nil, "", now)
	case err != nil:
		c.logger.Printf("save: %v", err)
		c.saver.EndSave(nil, "", now)
	default:
		c.version, c.base = rev.Version, content
		c.saver.EndSave(counts, rev.Version, now)
	}
	c.pushStates()
	c.notifyStatus()
	c.finishSave(err)
}

func (c *Controller) finishSave(err error) {
	for _, w := range c.saveWaiters {
		w <- err
	}
	c.saveWaiters = nil
}

// mergeRevision merges a stored revision newer than ours into the content.
func (c *Controller) mergeRevision(rev store.Revision) {
	if store.CompareVersions(rev.Version, c.version) <= 0 {
		return
	}
	local := c.recordLocal()
	merged := ot.MergeValidated(c.base, rev.Content, local, hyper.Validate)
	c.version, c.base = rev.Version, rev.Content
	c.saver.SetVersion(rev.Version)

	if merged == local {
		return
	}
	if err := c.apply(merged); err != nil {
		c.logger.Printf("apply version %s: %v", rev.Version, err)
		return
	}
	now := c.serialize()
	c.history.ChangeContent(now, c.flatSelection(), false)
	c.notifier.Merged(rev.Version)
	c.broadcast(now, false)
}

func (c *Controller) onSaverStates(msg, sender string) {
	now := time.Now()
	changed, err := c.saver.Merge(msg, sender, now)
	if err != nil {
		c.logger.Printf("bad saver states from %s: %v", sender, err)
		return
	}
	if changed {
		c.pushStates()
	}

	latest, by := c.saver.LatestVersion()
	if store.CompareVersions(latest, c.version) > 0 && by != c.saver.Client() {
		c.lastSave = now
		if !c.reloading {
			c.reloading = true
			c.notifier.VersionCreated(latest, by)
			go func() {
				rev, err := c.cfg.Persistence.Reload(c.ctx)
				c.post(func() {
					c.reloading = false
					if err != nil {
						c.logger.Printf("reload: %v", err)
						return
					}
					c.mergeRevision(rev)
				})
			}()
		}
	}
	c.notifyStatus()
}

func (c *Controller) disconnected() {
	if c.state == Aborted {
		return
	}
	c.setState(Reconnecting)
}

// rejoin looks the channel keys up again after a reconnection. A new
// content key means the others started from a fresh document, so the
// session cannot go on.
func (c *Controller) rejoin() {
	if c.state == Aborted {
		return
	}
	go func() {
		infos, err := c.cfg.Persistence.Channels(c.ctx, c.editors()...)
		c.post(func() { c.rekeyed(infos, err) })
	}()
}

func (c *Controller) rekeyed(infos []ChannelInfo, err error) {
	if c.state == Aborted {
		return
	}
	if err != nil {
		c.logger.Printf("channels: %v", err)
		time.AfterFunc(RetryDelay, func() { c.post(c.rejoin) })
		return
	}

	if c.realtime {
		old, _ := c.cache.Key(c.cfg.EditorType)
		for _, info := range infos {
			if len(info.Path) > 0 && info.Path[len(info.Path)-1] == c.cfg.EditorType && info.Key != old {
				c.abort(ErrChannelRotated)
				return
			}
		}
	}
	c.cache.SetKeys(infos)
	c.setState(Syncing)

	go func() {
		j, err := c.joinAll(c.ctx)
		c.post(func() {
			if c.state == Aborted {
				return
			}
			if err != nil {
				c.logger.Printf("rejoin: %v", err)
				time.AfterFunc(RetryDelay, func() { c.post(c.rejoin) })
				return
			}
			c.attach(j)
			c.saver.SetPeer(c.cfg.Network.ID())
			c.sync()
		})
	}()
}

func (c *Controller) abort(err error) {
	c.err = err
	c.setState(Aborted)
	c.cfg.Editor.SetReadOnly(true)
	c.cfg.Editor.ForceReload()
	if c.checkTimer != nil {
		c.checkTimer.Stop()
	}
	c.finishSave(err)
}

// Close leaves the channels and stops the session.
func (c *Controller) Close() {
	c.cancel()
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
}
