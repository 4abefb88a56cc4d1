// Package broadcast mirrors tracked events to in-process listeners, the way a page posts
// window messages that other scripts may pick up.
//
// Delivery never blocks the sender: a subscriber whose buffer is full loses the message
// and is dropped.
package broadcast

import (
	"context"
	"sync"
)

// Message wraps a broadcast payload.
type Message[T any] struct {
	Data T
}

type Subscriber[T any] interface {
	Receive() <-chan Message[T]
	Close() error
}

type Broadcaster[T any] interface {
	// Subscribe registers a subscriber for the lifetime of ctx.
	Subscribe(ctx context.Context) Subscriber[T]
	Broadcast(ctx context.Context, msg Message[T]) error
	Close() error
}

type subscriber[T any] struct {
	ch     chan Message[T]
	closed bool
	mu     sync.RWMutex
}

func newSubscriber[T any](bufferSize int) *subscriber[T] {
	return &subscriber[T]{ch: make(chan Message[T], bufferSize)}
}

func (s *subscriber[T]) Receive() <-chan Message[T] {
	return s.ch
}

// send reports false when the subscriber is closed or its buffer is full.
func (s *subscriber[T]) send(msg Message[T]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *subscriber[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
