// Package hub implements the relayer's in-process broadcast fabric: a
// multi-producer, multi-consumer channel with a bounded per-subscriber
// buffer. Publish never blocks on a slow subscriber — the same
// send-or-drop idiom the teacher library uses for its own output
// channels, inverted here for the publish side.
package hub

import (
	"sync"
)

// BufferSize is the bounded ring depth per subscriber.
const BufferSize = 256

// EventType tags a broadcast message's variant.
type EventType string

const (
	EventCommandNew        EventType = "command_new"
	EventCommandUpdate     EventType = "command_update"
	EventFileReadRequest   EventType = "file_read_request"
	EventFileSearchRequest EventType = "file_search_request"
)

// Event is one broadcast message: a tagged type plus its JSON-ready payload.
type Event struct {
	Type    EventType
	Payload any
}

// Subscription is a single subscriber's receive channel. The events
// channel is closed if the subscriber falls behind and should disconnect — this is
// the "lag signal" spec.md §4.3 calls for; a single closed channel
// signals both conditions rather than adding a second select case to
// every caller.
type Subscription struct {
	events <-chan Event
	hub    *Hub
	id     uint64
}

// Events returns the subscriber's receive-only event channel. It is
// closed when the subscriber unsubscribes or lags.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.hub.remove(s.id)
}

// Hub is a broadcast registry. The zero value is not usable; use New.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan Event
}

// New returns a ready-to-use Hub.
func New() *Hub {
	return &Hub{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, BufferSize)
	h.subs[id] = ch
	return &Subscription{events: ch, hub: h, id: id}
}

// Publish delivers ev to every live subscriber. A subscriber whose
// buffer is full is dropped (its channel closed) rather than blocking
// the publisher — bursts cost that subscriber messages, never the
// publisher's forward progress.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			go h.dropLagging(id)
		}
	}
}

// dropLagging closes and removes a subscriber that could not keep up.
// Run async from Publish so the RLock held by the publisher is never
// upgraded mid-iteration.
func (h *Hub) dropLagging(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// SubscriberCount reports the current number of live subscribers, for
// tests and diagnostics.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
