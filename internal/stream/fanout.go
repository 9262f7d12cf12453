// Package stream fans session events out to live subscribers. Each
// subscription is a poll task over the event log with cursor-based
// resumption and heartbeats.
package stream

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/sessiond/internal/events"
	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

// UpdateKind enumerates the stream record kinds.
type UpdateKind string

const (
	KindSessionReady UpdateKind = "sessionReady"
	KindSessionEvent UpdateKind = "sessionEvent"
	KindHeartbeat    UpdateKind = "heartbeat"
	KindSessionClose UpdateKind = "sessionClosed"
	KindSessionError UpdateKind = "sessionError"
)

// Update is one record delivered to a subscriber. Cursor counts the events
// delivered so far and only grows within a subscription.
type Update struct {
	Kind      UpdateKind      `json:"kind"`
	Cursor    int             `json:"cursor"`
	Summary   *events.Summary `json:"summary,omitempty"`
	Event     *events.Event   `json:"event,omitempty"`
	Message   string          `json:"message,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Options tune one fan-out instance.
type Options struct {
	PollInterval time.Duration
	Heartbeat    time.Duration
	BufferSize   int
}

// DefaultOptions matches the stock cadence.
func DefaultOptions() Options {
	return Options{PollInterval: 250 * time.Millisecond, Heartbeat: 12 * time.Second, BufferSize: 128}
}

// Fanout produces per-session subscriptions over the event log.
type Fanout struct {
	log  *events.Log
	opts Options
}

// NewFanout builds a fan-out over the event log store.
func NewFanout(log *events.Log, opts Options) *Fanout {
	if opts.PollInterval <= 0 || opts.Heartbeat <= 0 || opts.BufferSize <= 0 {
		opts = DefaultOptions()
	}
	return &Fanout{log: log, opts: opts}
}

// Subscribe starts a poll task for one session. The returned channel closes
// after a terminal update (sessionClosed, sessionError) or when ctx is
// cancelled. Cancellation sends nothing further.
func (f *Fanout) Subscribe(ctx context.Context, agentID, sessionID string) <-chan Update {
	out := make(chan Update, f.opts.BufferSize)
	go f.run(ctx, agentID, sessionID, out)
	return out
}

func (f *Fanout) run(ctx context.Context, agentID, sessionID string, out chan<- Update) {
	defer close(out)

	detail, err := f.log.Load(ctx, agentID, sessionID)
	if err != nil {
		f.deliver(ctx, out, terminalUpdate(err, 0))
		return
	}
	cursor := len(detail.Events)
	summary := detail.Summary
	if !f.deliver(ctx, out, Update{
		Kind:      KindSessionReady,
		Cursor:    cursor,
		Summary:   &summary,
		CreatedAt: time.Now().UTC(),
	}) {
		return
	}
	lastBeat := time.Now()

	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		detail, err := f.log.Load(ctx, agentID, sessionID)
		if err != nil {
			f.deliver(ctx, out, terminalUpdate(err, cursor))
			return
		}
		if len(detail.Events) > cursor {
			summary := detail.Summary
			for i := cursor; i < len(detail.Events); i++ {
				ev := detail.Events[i]
				if !f.deliver(ctx, out, Update{
					Kind:      KindSessionEvent,
					Cursor:    i + 1,
					Summary:   &summary,
					Event:     &ev,
					CreatedAt: time.Now().UTC(),
				}) {
					return
				}
			}
			cursor = len(detail.Events)
			lastBeat = time.Now()
			continue
		}
		if time.Since(lastBeat) >= f.opts.Heartbeat {
			lastBeat = time.Now()
			// Heartbeats are droppable; a stalled reader loses only these.
			select {
			case out <- Update{Kind: KindHeartbeat, Cursor: cursor, CreatedAt: time.Now().UTC()}:
			default:
			}
		}
	}
}

// deliver blocks until the update is accepted or the subscription is
// cancelled. Reports false on cancellation.
func (f *Fanout) deliver(ctx context.Context, out chan<- Update, u Update) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

func terminalUpdate(err error, cursor int) Update {
	if faults.Is(err, faults.SessionNotFound) {
		return Update{
			Kind:      KindSessionClose,
			Cursor:    cursor,
			Message:   "Session was deleted.",
			CreatedAt: time.Now().UTC(),
		}
	}
	return Update{
		Kind:      KindSessionError,
		Cursor:    cursor,
		Message:   "Failed to stream session updates.",
		CreatedAt: time.Now().UTC(),
	}
}
