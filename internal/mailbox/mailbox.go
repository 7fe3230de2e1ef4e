// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mailbox implements the single-consumer message queue owned by each
// capture goroutine, plus the Target abstraction other goroutines use to
// post into it.
package mailbox

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/scanlink/internal/metrics"
)

// ErrClosed is returned by Next once the mailbox has been closed.
var ErrClosed = errors.New("mailbox closed")

// Target is the routing handle for a mailbox: anything that accepts a
// message for later delivery. Post reports whether the message was queued.
type Target[M any] interface {
	Post(msg M) bool
}

// TargetFunc adapts a function to a Target.
type TargetFunc[M any] func(msg M) bool

func (f TargetFunc[M]) Post(msg M) bool { return f(msg) }

// Mailbox is an unbounded FIFO queue with exactly one consumer.
// Posting is safe from any goroutine; Next must only be called by the owner.
type Mailbox[M any] struct {
	name string

	mu     sync.Mutex
	items  []M
	closed bool

	notify chan struct{}
}

// New creates an open mailbox. name labels drop metrics and logs.
func New[M any](name string) *Mailbox[M] {
	return &Mailbox[M]{
		name:   name,
		notify: make(chan struct{}, 1),
	}
}

// Name returns the mailbox label.
func (m *Mailbox[M]) Name() string { return m.name }

// Post appends msg. It returns false if the mailbox is closed.
func (m *Mailbox[M]) Post(msg M) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		metrics.IncMailboxDrop(m.name, "closed")
		return false
	}
	m.items = append(m.items, msg)
	m.mu.Unlock()
	m.wake()
	return true
}

// PostAtFront queues msg ahead of everything already pending.
func (m *Mailbox[M]) PostAtFront(msg M) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		metrics.IncMailboxDrop(m.name, "closed")
		return false
	}
	m.items = append(m.items, msg)
	copy(m.items[1:], m.items[:len(m.items)-1])
	m.items[0] = msg
	m.mu.Unlock()
	m.wake()
	return true
}

func (m *Mailbox[M]) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a message is available and returns it in FIFO order.
// It returns ErrClosed after Close, and ctx.Err() if ctx ends first.
func (m *Mailbox[M]) Next(ctx context.Context) (M, error) {
	var zero M
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return zero, ErrClosed
		}
		if len(m.items) > 0 {
			msg := m.items[0]
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return msg, nil
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Remove deletes every pending message for which match returns true and
// reports how many were removed.
func (m *Mailbox[M]) Remove(match func(M) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.items[:0]
	removed := 0
	for _, msg := range m.items {
		if match(msg) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	var zero M
	for i := len(kept); i < len(m.items); i++ {
		m.items[i] = zero
	}
	m.items = kept
	metrics.AddMailboxPurged(m.name, metrics.PurgeReasonRemoved, removed)
	return removed
}

// Len returns the number of pending messages.
func (m *Mailbox[M]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close rejects further posts, discards pending messages and wakes the
// consumer. It returns the number of discarded messages. Idempotent.
func (m *Mailbox[M]) Close() int {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0
	}
	m.closed = true
	discarded := len(m.items)
	m.items = nil
	m.mu.Unlock()

	metrics.AddMailboxPurged(m.name, metrics.PurgeReasonClosed, discarded)
	m.wake()
	return discarded
}

// Closed reports whether Close has been called.
func (m *Mailbox[M]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Target[int] = (*Mailbox[int])(nil)
