// Package actor provides the serial mailbox primitive the stores and the
// orchestrator are built on: one goroutine draining a function queue, so all
// state owned by a mailbox is mutated from a single goroutine and callers
// never share locks.
package actor

import (
	"context"
	"sync"
)

// Mailbox executes submitted functions one at a time in submission order.
type Mailbox struct {
	ch   chan func()
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewMailbox starts the mailbox goroutine. depth bounds the queue; callers
// block when it is full, which is the backpressure we want.
func NewMailbox(depth int) *Mailbox {
	if depth <= 0 {
		depth = 64
	}
	m := &Mailbox{
		ch:   make(chan func(), depth),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mailbox) run() {
	defer close(m.done)
	for fn := range m.ch {
		fn()
	}
}

// Do runs fn on the mailbox goroutine and waits for it to finish.
// Returns ctx.Err() if the context is cancelled before fn is enqueued or
// completes, and ErrClosed after Close.
func (m *Mailbox) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	select {
	case m.ch <- wrapped:
		m.mu.RUnlock()
	case <-ctx.Done():
		m.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		// fn still runs to completion on the mailbox goroutine; the caller
		// just stops waiting for it.
		return ctx.Err()
	}
}

// Submit enqueues fn without waiting for completion.
func (m *Mailbox) Submit(fn func()) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	m.ch <- fn
	return nil
}

// Close drains pending work and stops the goroutine. Idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
	m.mu.Unlock()
	<-m.done
}

// ErrClosed is returned for submissions after Close.
var ErrClosed = errClosed{}

type errClosed struct{}

func (errClosed) Error() string { return "mailbox closed" }
