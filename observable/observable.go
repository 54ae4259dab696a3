// Package observable implements a broadcast cell with a cached last value.
//
// A Cell fans out published values to every subscriber and immediately
// replays the most recent value to new subscribers, so late observers of
// read-mostly state (manager status, workflow results, hub system events)
// always see the current value without polling.
package observable

import (
	"context"
	"sync"
)

const defaultBuffer = 16

// Cell broadcasts values of type T to subscribers. All methods are safe
// for concurrent use. Publishing never blocks: a subscriber whose buffer
// is full misses intermediate values but always observes the latest one
// eventually, because the cached value is replayed on subscription.
type Cell[T any] struct {
	mu          sync.RWMutex
	subscribers map[*subscriber[T]]struct{}
	last        T
	hasLast     bool
	closed      bool
	buffer      int
	done        chan struct{}
}

type subscriber[T any] struct {
	ch     chan T
	mu     sync.Mutex
	closed bool
}

func (s *subscriber[T]) send(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- v:
		return true
	default:
		// Slow consumer: drop rather than block the publisher.
		return false
	}
}

func (s *subscriber[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// NewCell creates a broadcast cell with the default per-subscriber buffer.
func NewCell[T any]() *Cell[T] {
	return NewCellBuffer[T](defaultBuffer)
}

// NewCellBuffer creates a broadcast cell with the given per-subscriber
// buffer size. A minimum of 1 is enforced so sends stay non-blocking.
func NewCellBuffer[T any](buffer int) *Cell[T] {
	return &Cell[T]{
		subscribers: make(map[*subscriber[T]]struct{}),
		buffer:      max(buffer, 1),
		done:        make(chan struct{}),
	}
}

// Publish caches the value and delivers it to every active subscriber.
// It is a no-op on a closed cell.
func (c *Cell[T]) Publish(value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.last = value
	c.hasLast = true

	for sub := range c.subscribers {
		_ = sub.send(value)
	}
}

// Last returns the most recently published value, if any.
func (c *Cell[T]) Last() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.last, c.hasLast
}

// Subscribe registers a new subscriber and returns its receive channel.
// If a value has been published before, it is delivered first. The
// subscription is removed when ctx is canceled; the channel is closed
// when the subscription ends or the cell is closed.
func (c *Cell[T]) Subscribe(ctx context.Context) <-chan T {
	c.mu.Lock()

	sub := &subscriber[T]{ch: make(chan T, c.buffer)}

	if c.closed {
		c.mu.Unlock()
		sub.close()

		return sub.ch
	}

	c.subscribers[sub] = struct{}{}

	if c.hasLast {
		// Replay the cached value; buffer >= 1 guarantees room.
		_ = sub.send(c.last)
	}

	if ctx.Done() != nil {
		// Closing the cell releases the watcher even when ctx is never
		// canceled.
		go func() {
			select {
			case <-ctx.Done():
				c.unsubscribe(sub)
			case <-c.done:
			}
		}()
	}

	c.mu.Unlock()

	return sub.ch
}

// Close shuts down the cell and closes all subscriber channels.
// Safe to call multiple times.
func (c *Cell[T]) Close() {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return
	}

	c.closed = true
	close(c.done)

	for sub := range c.subscribers {
		sub.close()
	}

	clear(c.subscribers)
	c.mu.Unlock()
}

func (c *Cell[T]) unsubscribe(sub *subscriber[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.subscribers, sub)
	sub.close()
}
