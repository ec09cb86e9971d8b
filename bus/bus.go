// Package bus is an in-process topic bus. Publishers post typed messages on
// slash-separated topics; subscribers receive them on buffered channels,
// with MQTT-style wildcards and retained last values.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Wildcard tokens, valid in subscription patterns only.
const (
	AnyOne  = "+" // exactly one token
	AnyRest = "#" // zero or more trailing tokens
)

// Topic is a sequence of tokens.
type Topic []string

// T builds a topic from tokens.
func T(tokens ...string) Topic { return Topic(tokens) }

// Parse splits "a/b/c" into a topic.
func Parse(s string) Topic {
	if s == "" {
		return nil
	}
	return Topic(strings.Split(s, "/"))
}

func (t Topic) String() string { return strings.Join(t, "/") }

func (t Topic) hasWildcard() bool {
	for _, tok := range t {
		if tok == AnyOne || tok == AnyRest {
			return true
		}
	}
	return false
}

// Match reports whether topic matches pattern.
func Match(pattern, topic Topic) bool {
	for i, p := range pattern {
		if p == AnyRest {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if p != AnyOne && p != topic[i] {
			return false
		}
	}
	return len(pattern) == len(topic)
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message[P any] struct {
	Topic    Topic
	Payload  P
	Retained bool
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription[P any] struct {
	pattern Topic
	ch      chan *Message[P]
	bus     *Bus[P]
	once    sync.Once
	drops   atomic.Uint64
}

func (s *Subscription[P]) Topic() Topic                { return s.pattern }
func (s *Subscription[P]) Channel() <-chan *Message[P] { return s.ch }

// Dropped counts messages discarded because the subscriber lagged.
func (s *Subscription[P]) Dropped() uint64 { return s.drops.Load() }

// Unsubscribe detaches the subscription and closes its channel. Safe to
// call more than once.
func (s *Subscription[P]) Unsubscribe() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		close(s.ch)
	})
}

// deliver never blocks: when the queue is full the oldest entry goes.
// Called with the bus lock held.
func (s *Subscription[P]) deliver(m *Message[P]) {
	for {
		select {
		case s.ch <- m:
			return
		default:
		}
		select {
		case <-s.ch:
			s.drops.Add(1)
		default:
		}
	}
}

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node[P any] struct {
	children map[string]*node[P]
	subs     []*Subscription[P]
	retained *Message[P]
}

func (n *node[P]) child(tok string) *node[P] {
	if n.children == nil {
		n.children = make(map[string]*node[P])
	}
	c, ok := n.children[tok]
	if !ok {
		c = &node[P]{}
		n.children[tok] = c
	}
	return c
}

func (n *node[P]) empty() bool {
	return len(n.subs) == 0 && len(n.children) == 0 && n.retained == nil
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus[P any] struct {
	mu   sync.Mutex
	root *node[P]
	qLen int
}

// New creates a bus whose subscriptions buffer queueLen messages.
func New[P any](queueLen int) *Bus[P] {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus[P]{root: &node[P]{}, qLen: queueLen}
}

// Subscribe registers pattern. Retained messages already matching it are
// queued immediately.
func (b *Bus[P]) Subscribe(pattern Topic) *Subscription[P] {
	sub := &Subscription[P]{
		pattern: append(Topic(nil), pattern...),
		ch:      make(chan *Message[P], b.qLen),
		bus:     b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range sub.pattern {
		n = n.child(tok)
	}
	n.subs = append(n.subs, sub)

	b.collectRetained(b.root, sub.pattern, sub)
	return sub
}

func (b *Bus[P]) collectRetained(n *node[P], pattern Topic, sub *Subscription[P]) {
	if len(pattern) == 0 {
		if n.retained != nil {
			sub.deliver(n.retained)
		}
		return
	}
	switch tok := pattern[0]; tok {
	case AnyRest:
		b.walkRetained(n, sub)
	case AnyOne:
		for k, c := range n.children {
			if k == AnyOne || k == AnyRest {
				continue
			}
			b.collectRetained(c, pattern[1:], sub)
		}
	default:
		if c := n.children[tok]; c != nil {
			b.collectRetained(c, pattern[1:], sub)
		}
	}
}

func (b *Bus[P]) walkRetained(n *node[P], sub *Subscription[P]) {
	if n.retained != nil {
		sub.deliver(n.retained)
	}
	for k, c := range n.children {
		if k == AnyOne || k == AnyRest {
			continue
		}
		b.walkRetained(c, sub)
	}
}

// Publish delivers payload to every matching subscription. A retained
// publish replaces the topic's stored value. Wildcard topics are ignored.
func (b *Bus[P]) Publish(topic Topic, payload P, retained bool) {
	if topic.hasWildcard() {
		return
	}
	msg := &Message[P]{Topic: append(Topic(nil), topic...), Payload: payload, Retained: retained}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.match(b.root, msg.Topic, msg)
	if retained {
		n := b.root
		for _, tok := range msg.Topic {
			n = n.child(tok)
		}
		n.retained = msg
	}
}

func (b *Bus[P]) match(n *node[P], rest Topic, msg *Message[P]) {
	if c := n.children[AnyRest]; c != nil {
		for _, s := range c.subs {
			s.deliver(msg)
		}
	}
	if len(rest) == 0 {
		for _, s := range n.subs {
			s.deliver(msg)
		}
		return
	}
	if c := n.children[rest[0]]; c != nil {
		b.match(c, rest[1:], msg)
	}
	if c := n.children[AnyOne]; c != nil {
		b.match(c, rest[1:], msg)
	}
}

// Clear drops the retained value of topic.
func (b *Bus[P]) Clear(topic Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(topic, func(n *node[P]) { n.retained = nil })
}

func (b *Bus[P]) unsubscribe(sub *Subscription[P]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub.pattern, func(n *node[P]) {
		for i, s := range n.subs {
			if s == sub {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				break
			}
		}
	})
}

// remove applies fn at the node for topic and prunes empty nodes above it.
func (b *Bus[P]) remove(topic Topic, fn func(*node[P])) {
	n := b.root
	stack := make([]*node[P], 0, len(topic))
	for _, tok := range topic {
		c := n.children[tok]
		if c == nil {
			return
		}
		stack = append(stack, n)
		n = c
	}
	fn(n)
	for i := len(topic) - 1; i >= 0; i-- {
		parent := stack[i]
		c := parent.children[topic[i]]
		if !c.empty() {
			break
		}
		delete(parent.children, topic[i])
	}
}
