// Package eventbus is an in-process, topic-keyed publish/subscribe bus with live-only delivery.
//
// Every subscription owns a bounded FIFO queue. Publish never blocks: when a queue is full the oldest
// unreceived message of that subscription is dropped and the bus overflow counter is incremented.
// Messages published to a topic without subscribers are discarded.
package eventbus

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the per-subscription queue bound used when none is configured.
const DefaultCapacity = 64

const shardCount = 32

// Message is one published payload.
type Message struct {
	Topic   string
	Payload []byte
}

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity sets the queue bound of every subscription created by the bus.
func WithCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithOverflowHook registers fn to run after a message is dropped for a subscriber of topic.
// fn runs on the publisher's goroutine and must not block.
func WithOverflowHook(fn func(topic string)) Option {
	return func(b *Bus) { b.onOverflow = fn }
}

// Bus routes messages to subscriptions by topic.
type Bus struct {
	shards     [shardCount]shard
	capacity   int
	onOverflow func(topic string)
	overflows  atomic.Uint64
	published  atomic.Uint64
	nextID     atomic.Uint64
}

type shard struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*Subscription
}

// New returns an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(b)
	}
	for i := range b.shards {
		b.shards[i].topics = make(map[string]map[uint64]*Subscription)
	}
	return b
}

func (b *Bus) shardFor(topic string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return &b.shards[h.Sum32()%shardCount]
}

// Subscribe registers a new independent queue on topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		id:    b.nextID.Add(1),
		topic: topic,
		bus:   b,
		buf:   make([]Message, b.capacity),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	s := b.shardFor(topic)
	s.mu.Lock()
	subs, ok := s.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		s.topics[topic] = subs
	}
	subs[sub.id] = sub
	s.mu.Unlock()
	return sub
}

// Unsubscribe closes sub and removes it from its topic. It is idempotent and safe to call
// concurrently with Publish.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.Close()
}

func (b *Bus) remove(sub *Subscription) {
	s := b.shardFor(sub.topic)
	s.mu.Lock()
	if subs, ok := s.topics[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(s.topics, sub.topic)
		}
	}
	s.mu.Unlock()
}

// Publish enqueues payload on every subscription of topic that exists at the time of the call and
// returns how many subscriptions received it. It never blocks on subscribers.
func (b *Bus) Publish(topic string, payload []byte) int {
	s := b.shardFor(topic)
	s.mu.RLock()
	subs := s.topics[topic]
	if len(subs) == 0 {
		s.mu.RUnlock()
		return 0
	}
	targets := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	s.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	delivered := 0
	for _, sub := range targets {
		ok, dropped := sub.push(msg)
		if dropped {
			b.overflows.Add(1)
			if b.onOverflow != nil {
				b.onOverflow(topic)
			}
		}
		if ok {
			delivered++
		}
	}
	if delivered > 0 {
		b.published.Add(1)
	}
	return delivered
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *Bus) SubscriberCount(topic string) int {
	s := b.shardFor(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics[topic])
}

// Overflows returns the total number of messages dropped because a subscription queue was full.
func (b *Bus) Overflows() uint64 { return b.overflows.Load() }

// Published returns the number of Publish calls that reached at least one subscriber.
func (b *Bus) Published() uint64 { return b.published.Load() }
