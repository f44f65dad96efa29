// Package localbus implements the same-origin broadcast bus collaborator
// from §6: intra-process fan-out standing in for a browser
// BroadcastChannel, used so multiple local Providers converge without a
// round-trip through the relay.
package localbus

import (
	"sync"

	"github.com/google/uuid"
)

// Origin is an opaque per-publisher token. A subscriber that receives a
// Message carrying the Origin it published under is expected to skip it
// (§6 "origin is an opaque token; subscribers observing the origin they
// published under MAY skip").
type Origin = uuid.UUID

// NewOrigin returns a fresh, process-unique Origin token. Each Provider
// calls this once at construction.
func NewOrigin() Origin { return uuid.New() }

// Message is one frame delivered to a channel subscriber.
type Message struct {
	Channel string
	Data    []byte
	Origin  Origin
}

// Handler receives published messages. Handlers run synchronously on the
// publisher's goroutine, in subscription order: the bus models a
// same-tick, in-order browser BroadcastChannel rather than a generic
// decoupled pub/sub, since the sync/awareness protocols depend on frames
// from one publisher being observed in send order (§5 "Ordering
// guarantees"). A slow or blocking handler therefore blocks the publisher;
// callers that need to offload work must do so inside their handler.
type Handler func(Message)

// Bus is a channel-keyed, multi-subscriber broadcast bus. The zero value
// is not ready to use; construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription
}

type subscription struct {
	channel string
	handler Handler
}

// Subscription is an opaque handle returned by Subscribe, passed back to
// Unsubscribe.
type Subscription struct {
	sub *subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

// Subscribe registers handler to receive every message published on
// channel from now on.
func (b *Bus) Subscribe(channel string, handler Handler) *Subscription {
	s := &subscription{channel: channel, handler: handler}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], s)
	b.mu.Unlock()
	return &Subscription{sub: s}
}

// Unsubscribe removes a prior subscription. Safe to call more than once or
// with a nil Subscription (no-op).
func (b *Bus) Unsubscribe(s *Subscription) {
	if b == nil || s == nil || s.sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.sub.channel]
	for i, cand := range list {
		if cand == s.sub {
			b.subs[s.sub.channel] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[s.sub.channel]) == 0 {
		delete(b.subs, s.sub.channel)
	}
}

// Publish delivers data to every subscriber of channel. Safe to call on a
// nil *Bus (no-op), matching the corpus's nil-safe event bus convention.
func (b *Bus) Publish(channel string, data []byte, origin Origin) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[channel]))
	for i, s := range b.subs[channel] {
		handlers[i] = s.handler
	}
	b.mu.RUnlock()

	msg := Message{Channel: channel, Data: data, Origin: origin}
	for _, h := range handlers {
		h(msg)
	}
}

// SubscriberCount reports how many handlers are registered on channel.
// Intended for tests and diagnostics.
func (b *Bus) SubscriberCount(channel string) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
