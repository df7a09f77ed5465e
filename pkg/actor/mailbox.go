// Package actor provides the message passing and supervision primitives the
// robot's actors are built on. Every actor owns its resources, reads its
// commands from a Mailbox and runs under Supervise, which restarts it from a
// clean state whenever a run fails.
package actor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned when sending to a mailbox whose owner has exited.
var ErrStopped = errors.New("actor stopped")

// Mailbox is a bounded, ordered, multi-producer single-consumer queue.
type Mailbox[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// NewMailbox returns a mailbox buffering up to size messages.
func NewMailbox[T any](size int) *Mailbox[T] {
	return &Mailbox[T]{
		ch:   make(chan T, size),
		done: make(chan struct{}),
	}
}

// Send enqueues msg, waiting for room. It fails when ctx ends or the mailbox
// is closed.
func (m *Mailbox[T]) Send(ctx context.Context, msg T) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}

	select {
	case m.ch <- msg:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offer enqueues msg only if there is room. It reports whether msg was queued.
func (m *Mailbox[T]) Offer(msg T) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case m.ch <- msg:
		return true
	default:
		return false
	}
}

// Recv waits up to timeout for the next message. ok is false on timeout or
// when ctx ends.
func (m *Mailbox[T]) Recv(ctx context.Context, timeout time.Duration) (msg T, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg = <-m.ch:
		return msg, true
	case <-timer.C:
		return msg, false
	case <-ctx.Done():
		return msg, false
	}
}

// TryRecv returns the next message if one is pending.
func (m *Mailbox[T]) TryRecv() (msg T, ok bool) {
	select {
	case msg = <-m.ch:
		return msg, true
	default:
		return msg, false
	}
}

// Len returns the number of queued messages.
func (m *Mailbox[T]) Len() int {
	return len(m.ch)
}

// Close marks the mailbox as abandoned by its consumer. Pending and future
// sends fail with ErrStopped. Close is idempotent.
func (m *Mailbox[T]) Close() {
	m.once.Do(func() { close(m.done) })
}
