// Package pubsub is a small typed publish/subscribe mechanism used to
// fan out job lifecycle events to observers (logging, tests).
package pubsub

import (
	"errors"
	"sync"
)

var ErrPublisherClosed = errors.New("publisher closed")

// Subscriber receives values published after its subscription. Close is
// idempotent; the Receive channel is closed when either side closes.
type Subscriber[T any] interface {
	Receive() <-chan T
	Close()
}

// Publisher delivers each sent value to every live subscriber. A slow
// subscriber loses values rather than blocking the publisher; events
// here are progress indicators, not a durable stream.
type Publisher[T any] struct {
	mu     sync.Mutex
	subs   map[*subscriber[T]]struct{}
	closed bool
}

func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{subs: make(map[*subscriber[T]]struct{})}
}

// Subscribe registers a new subscriber with a small receive buffer.
func (p *Publisher[T]) Subscribe() (Subscriber[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPublisherClosed
	}
	s := &subscriber[T]{pub: p, ch: make(chan T, 16)}
	p.subs[s] = struct{}{}
	return s, nil
}

// Send delivers v to all subscribers, returning false if the publisher
// is closed.
func (p *Publisher[T]) Send(v T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	for s := range p.subs {
		select {
		case s.ch <- v:
		default: // subscriber buffer full, drop
		}
	}
	return true
}

// Close shuts down the publisher and all remaining subscribers.
func (p *Publisher[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for s := range p.subs {
		close(s.ch)
	}
	p.subs = nil
}

type subscriber[T any] struct {
	pub  *Publisher[T]
	ch   chan T
	once sync.Once
}

func (s *subscriber[T]) Receive() <-chan T {
	return s.ch
}

func (s *subscriber[T]) Close() {
	s.once.Do(func() {
		s.pub.mu.Lock()
		defer s.pub.mu.Unlock()
		if !s.pub.closed {
			delete(s.pub.subs, s)
			close(s.ch)
		}
	})
}
