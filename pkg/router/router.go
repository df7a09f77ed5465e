// Package router fans decoded controller messages out to the driving and
// line following actors.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/gwillem/kickbot/pkg/actor"
	"github.com/gwillem/kickbot/pkg/driving"
	"github.com/gwillem/kickbot/pkg/pid"
	"github.com/gwillem/kickbot/pkg/protocol"
)

// InboxSize bounds the message queue.
const InboxSize = 64

// Router forwards controller messages in arrival order.
type Router struct {
	inbox   *actor.Mailbox[protocol.ControllerMessage]
	driving *actor.Mailbox[driving.Command]
	pid     *actor.Mailbox[pid.Command]
	l       hclog.Logger
}

// New returns a router feeding the given actor inboxes.
func New(drv *actor.Mailbox[driving.Command], p *actor.Mailbox[pid.Command], l hclog.Logger) *Router {
	return NewWithInbox(actor.NewMailbox[protocol.ControllerMessage](InboxSize), drv, p, l)
}

// NewWithInbox returns a router reading from inbox, which the network actor
// may already be writing to.
func NewWithInbox(inbox *actor.Mailbox[protocol.ControllerMessage], drv *actor.Mailbox[driving.Command], p *actor.Mailbox[pid.Command], l hclog.Logger) *Router {
	if l == nil {
		l = hclog.NewNullLogger()
	}
	return &Router{
		inbox:   inbox,
		driving: drv,
		pid:     p,
		l:       l,
	}
}

// Inbox returns the queue the network actor forwards to.
func (r *Router) Inbox() *actor.Mailbox[protocol.ControllerMessage] {
	return r.inbox
}

// Dispatch forwards one message. Messages without a robot command are
// dropped.
func (r *Router) Dispatch(ctx context.Context, msg protocol.ControllerMessage) error {
	var err error
	switch m := msg.(type) {
	case protocol.SetTrack:
		err = r.driving.Send(ctx, driving.SetTrack{Left: m.Left, Right: m.Right})
	case protocol.SetTrim:
		err = r.driving.Send(ctx, driving.SetTrim{Trim: m.Trim})
	case protocol.Kick:
		err = r.driving.Send(ctx, driving.Kick{})
	case protocol.SetPid:
		if m.Enable {
			err = r.pid.Send(ctx, pid.Start{})
		} else {
			err = r.pid.Send(ctx, pid.Stop{})
		}
	case protocol.SetForeground:
		err = r.pid.Send(ctx, pid.SetForeground{})
	case protocol.SetBackground:
		err = r.pid.Send(ctx, pid.SetBackground{})
	default:
		r.l.Trace("Dropping message", "type", msg.Type())
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatch %T: %w", msg, err)
	}
	return nil
}

// Run dispatches queued messages until ctx ends. A message for an actor that
// has exited is logged and dropped.
func (r *Router) Run(ctx context.Context) error {
	for {
		msg, ok := r.inbox.Recv(ctx, time.Second)
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := r.Dispatch(ctx, msg); err != nil {
			r.l.Warn("Dropped message", "error", err)
		}
	}
}

// Start runs the router under supervision until ctx ends.
func (r *Router) Start(ctx context.Context, restartDelay time.Duration) error {
	defer r.inbox.Close()
	return actor.Supervise(ctx, "router", r.l, restartDelay, r.Run)
}
