package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Receive once the subscription has been closed.
var ErrClosed = errors.New("eventbus: subscription closed")

// Subscription is a bounded FIFO queue bound to one topic.
type Subscription struct {
	id    uint64
	topic string
	bus   *Bus

	mu     sync.Mutex
	buf    []Message
	head   int
	size   int
	closed bool

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// Topic returns the topic the subscription is bound to.
func (s *Subscription) Topic() string { return s.topic }

// C returns a channel that receives a value after messages are enqueued. Several enqueues may
// collapse into one signal, so a reader drains with TryReceive after each wakeup.
func (s *Subscription) C() <-chan struct{} { return s.ready }

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns how many messages this subscription lost to overflow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Len returns the number of queued messages.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// push enqueues msg, evicting the oldest entry when full.
func (s *Subscription) push(msg Message) (ok, dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, false
	}
	capacity := len(s.buf)
	if s.size == capacity {
		s.buf[s.head] = Message{}
		s.head = (s.head + 1) % capacity
		s.size--
		dropped = true
		s.dropped.Add(1)
	}
	s.buf[(s.head+s.size)%capacity] = msg
	s.size++
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return true, dropped
}

// TryReceive pops the oldest queued message without blocking.
func (s *Subscription) TryReceive() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.size == 0 {
		return Message{}, false
	}
	msg := s.buf[s.head]
	s.buf[s.head] = Message{}
	s.head = (s.head + 1) % len(s.buf)
	s.size--
	return msg, true
}

// Receive blocks until a message is available, the subscription is closed, or ctx ends.
func (s *Subscription) Receive(ctx context.Context) (Message, error) {
	for {
		if msg, ok := s.TryReceive(); ok {
			return msg, nil
		}
		select {
		case <-s.ready:
		case <-s.done:
			return Message{}, ErrClosed
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Close detaches the subscription from the bus and discards queued messages. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for i := range s.buf {
			s.buf[i] = Message{}
		}
		s.size = 0
		s.mu.Unlock()
		s.bus.remove(s)
		close(s.done)
	})
}
