package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	// DefaultCapacity bounds the producer ahead of a slow consumer.
	DefaultCapacity = 100
	// DefaultIdleTimeout is how long Next waits before declaring the
	// producer stalled.
	DefaultIdleTimeout = 60 * time.Second
)

var (
	// ErrIdleTimeout means no event arrived within the idle window.
	ErrIdleTimeout = errors.New("no event within idle timeout")
	// ErrClosed means the terminal event has already been consumed.
	ErrClosed = errors.New("event stream closed")
)

// Bus is a bounded single-producer single-consumer event queue. The
// producer publishes until a terminal event; everything after the terminal
// is silently dropped, so a panicking or racing producer cannot corrupt
// the stream contract.
type Bus struct {
	ch          chan Event
	idleTimeout time.Duration

	mu         sync.Mutex
	terminated bool

	drained bool // consumer side, single consumer so unsynchronized
}

// BusOption configures a Bus.
type BusOption func(*Bus)

func WithCapacity(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.ch = make(chan Event, n)
		}
	}
}

func WithIdleTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.idleTimeout = d
		}
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		ch:          make(chan Event, DefaultCapacity),
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues the event, blocking while the queue is full. Events
// published after a terminal are dropped. Returns ctx.Err() if the
// consumer went away before space freed up.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	if b.terminated {
		b.mu.Unlock()
		return nil
	}
	if event.Terminal() {
		b.terminated = true
	}
	b.mu.Unlock()

	select {
	case b.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next event. After the terminal event has been returned
// once, Next returns ErrClosed. A quiet producer yields ErrIdleTimeout
// after the idle window.
func (b *Bus) Next(ctx context.Context) (Event, error) {
	if b.drained {
		return nil, ErrClosed
	}

	timer := time.NewTimer(b.idleTimeout)
	defer timer.Stop()

	select {
	case event := <-b.ch:
		if event.Terminal() {
			b.drained = true
		}
		return event, nil
	case <-timer.C:
		return nil, ErrIdleTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
