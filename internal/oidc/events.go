package oidc

import (
	"log/slog"
	"sync"
)

// EventType identifies a session lifecycle event published by the Client.
type EventType string

const (
	EventDiscoveryDocumentLoaded EventType = "discovery_document_loaded"
	EventTokenReceived           EventType = "token_received"
	EventTokenRefreshed          EventType = "token_refreshed"
	EventTokenRefreshError       EventType = "token_refresh_error"
	EventSessionChanged          EventType = "session_changed"
	EventSessionTerminated       EventType = "session_terminated"
	EventLogout                  EventType = "logout"
)

// Event is a single session lifecycle notification. Err is set for error
// events only.
type Event struct {
	Type EventType
	Err  error

	// Seq increases by one with every published event, starting at 1.
	Seq uint64
}

// eventBufferSize bounds how far a slow subscriber may lag before events
// are dropped for it.
const eventBufferSize = 32

// broadcaster fans events out to any number of subscribers.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	seq    uint64
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

// subscribe returns a channel of future events and a function that
// unsubscribes and closes it. The cancel function is safe to call twice.
func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, eventBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.seq++
	ev.Seq = b.seq
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropping OIDC event for slow subscriber", "event", string(ev.Type))
		}
	}
}

// lastSeq returns the Seq of the most recently published event, or 0.
func (b *broadcaster) lastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
