/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventEngineState   EventType = "engine.state"
	EventPassStarted   EventType = "pass.started"
	EventPassCompleted EventType = "pass.completed"
	EventPassFailed    EventType = "pass.failed"
	EventTempoChanged  EventType = "tempo.changed"
	EventTrackChanged  EventType = "track.changed"
	EventTempoResolved EventType = "tempo.resolved"

	// EventAll subscribes to every event type. Payloads delivered to these
	// subscribers carry the concrete type under the "type" key.
	EventAll EventType = "*"
)

// Types lists the concrete event types, for relays that subscribe to each.
var Types = []EventType{
	EventEngineState,
	EventPassStarted,
	EventPassCompleted,
	EventPassFailed,
	EventTempoChanged,
	EventTrackChanged,
	EventTempoResolved,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

const defaultBuffer = 8

// Bus implements a simple in-process pubsub. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	return b.SubscribeBuffered(eventType, defaultBuffer)
}

// SubscribeBuffered is Subscribe with an explicit channel capacity.
func (b *Bus) SubscribeBuffered(eventType EventType, size int) Subscriber {
	if size < 1 {
		size = 1
	}
	ch := make(Subscriber, size)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers of eventType and of EventAll.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	wild := append([]Subscriber(nil), b.subs[EventAll]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
	if len(wild) == 0 {
		return
	}

	tagged := make(Payload, len(payload)+1)
	for k, v := range payload {
		tagged[k] = v
	}
	tagged["type"] = string(eventType)
	for _, sub := range wild {
		select {
		case sub <- tagged:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}
