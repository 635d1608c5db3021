package authstate

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by waits on a closed Notifier and by gated adapter
// calls after Close.
var ErrClosed = errors.New("authentication state closed")

// Notifier holds a value and notifies subscribers whenever it changes.
// New subscribers receive the current value first. A subscriber that falls
// behind only sees the most recent value.
type Notifier[T comparable] struct {
	mu      sync.Mutex
	value   T
	changed chan struct{}
	subs    map[int]chan T
	nextID  int
	closed  bool
	done    chan struct{}
}

// NewNotifier creates a Notifier holding initial.
func NewNotifier[T comparable](initial T) *Notifier[T] {
	return &Notifier[T]{
		value:   initial,
		changed: make(chan struct{}),
		subs:    make(map[int]chan T),
		done:    make(chan struct{}),
	}
}

// Get returns the current value.
func (n *Notifier[T]) Get() T {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

// Set stores v and notifies subscribers and waiters if it differs from the
// current value. It reports whether the value changed. Set is a no-op after
// Close.
func (n *Notifier[T]) Set(v T) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed || n.value == v {
		return false
	}
	n.value = v

	close(n.changed)
	n.changed = make(chan struct{})

	for _, ch := range n.subs {
		offerLatest(ch, v)
	}
	return true
}

// offerLatest replaces whatever is buffered in ch with v. Only the holder
// of the notifier lock sends, so the second send cannot block.
func offerLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// Subscribe returns a channel that yields the current value and then every
// change. The channel is closed when ctx ends or the Notifier is closed.
func (n *Notifier[T]) Subscribe(ctx context.Context) <-chan T {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan T, 1)
	ch <- n.value
	if n.closed {
		close(ch)
		return ch
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = ch

	go func() {
		select {
		case <-ctx.Done():
			n.unsubscribe(id)
		case <-n.done:
		}
	}()

	return ch
}

func (n *Notifier[T]) unsubscribe(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ch, ok := n.subs[id]; ok {
		delete(n.subs, id)
		close(ch)
	}
}

// Wait blocks until pred holds for the current value and returns that
// value. It returns ctx.Err() when ctx ends first and ErrClosed once the
// Notifier is closed.
func (n *Notifier[T]) Wait(ctx context.Context, pred func(T) bool) (T, error) {
	for {
		n.mu.Lock()
		if n.closed {
			n.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		v := n.value
		changed := n.changed
		n.mu.Unlock()

		if pred(v) {
			return v, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Close completes the stream: subscriber channels are closed and pending
// and future waits return ErrClosed. Safe to call more than once.
func (n *Notifier[T]) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	close(n.changed)
	close(n.done)

	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
