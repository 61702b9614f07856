package session

import (
	"context"
	"encoding/json"
)

const (
	CmdJoin             = "join"
	CmdRequest          = "request"
	CmdAnswer           = "answer"
	CmdIsSomeoneOffline = "isSomeoneOffline"
	CmdDisplayWarning   = "displayWarning"
)

// answers to a realtime session request
const (
	AnswerUnavailable     = -1
	AnswerRejected        = 0
	AnswerAccepted        = 1
	AnswerAlreadyRealtime = 2
)

// Envelope is a command exchanged with every user of a document, editing
// in realtime or not.
type Envelope struct {
	Cmd      string `json:"cmd"`
	Type     string `json:"type,omitempty"` // editor a request is about
	Realtime bool   `json:"realtime,omitempty"`
	State    *int   `json:"state,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func answer(typ string, state int, reason string) Envelope {
	return Envelope{Cmd: CmdAnswer, Type: typ, State: &state, Reason: reason}
}

func (c *Controller) sendEnvelope(peer string, e Envelope) {
	data, _ := json.Marshal(e)
	var err error
	if peer == "" {
		if c.users == nil {
			return
		}
		err = c.users.Bcast(c.ctx, string(data))
	} else {
		err = c.cfg.Network.SendTo(c.ctx, peer, string(data))
	}
	if err != nil {
		c.logger.Printf("send %s: %v", e.Cmd, err)
	}
}

// announce tells the other users that we edit the document.
func (c *Controller) announce() {
	c.sendEnvelope("", Envelope{Cmd: CmdJoin, Realtime: c.realtime})
}

func (c *Controller) onEnvelope(msg, sender string) {
	var e Envelope
	if err := json.Unmarshal([]byte(msg), &e); err != nil {
		c.logger.Printf("bad envelope from %s: %v", sender, err)
		return
	}

	switch e.Cmd {
	case CmdRequest:
		if e.Type == "" {
			return
		}
		switch {
		case e.Type != c.cfg.EditorType:
			c.sendEnvelope("", answer(e.Type, AnswerUnavailable, ""))
		case c.realtime:
			c.sendEnvelope("", answer(e.Type, AnswerAlreadyRealtime, ""))
		case c.cfg.OnRequest == nil:
			c.sendEnvelope("", answer(e.Type, AnswerRejected, "invalid"))
		default:
			accept, reason := c.cfg.OnRequest(e.Type)
			state := AnswerRejected
			if accept {
				state = AnswerAccepted
			}
			c.sendEnvelope("", answer(e.Type, state, reason))
		}

	case CmdAnswer:
		if c.pendingRequest == nil || e.State == nil {
			return
		}
		c.pendingRequest <- e
		c.pendingRequest = nil

	case CmdJoin:
		c.cache.SetUser(sender, e.Realtime)
		if !e.Realtime || !c.realtime {
			c.notifier.Warning("someone else is editing this document without realtime")
			c.sendEnvelope(sender, Envelope{Cmd: CmdDisplayWarning})
		}

	case CmdIsSomeoneOffline:
		if c.realtime {
			return
		}
		c.sendEnvelope(sender, Envelope{Cmd: CmdDisplayWarning})

	case CmdDisplayWarning:
		c.notifier.Warning("someone else is editing this document without realtime")
	}
}

func (c *Controller) onUserLeave(peer string) {
	c.cache.ForgetUser(peer)
	c.sendEnvelope("", Envelope{Cmd: CmdIsSomeoneOffline})
}

// RequestRealtime asks the users editing without realtime to start a
// realtime session for editor typ. It returns AnswerUnavailable right away
// when nobody else is there.
func (c *Controller) RequestRealtime(ctx context.Context, typ string) (int, string, error) {
	res := make(chan Envelope, 1)
	alone := true
	c.call(func() {
		if c.users == nil {
			return
		}
		alone = len(c.users.Members()) <= 1
		if alone {
			return
		}
		c.pendingRequest = res
		c.sendEnvelope("", Envelope{Cmd: CmdRequest, Type: typ})
	})
	if alone {
		return AnswerUnavailable, "", nil
	}

	select {
	case e := <-res:
		return *e.State, e.Reason, nil
	case <-ctx.Done():
		return AnswerUnavailable, "", ctx.Err()
	}
}
