// Package bus is the in-process broadcast channel between the CV worker,
// the periodic broadcasters and the WebSocket clients. Delivery is
// best-effort per subscriber: a full buffer head-drops that subscriber's
// oldest pending message, never the producer.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/peoplecounter/internal/observability"
	"github.com/your-org/peoplecounter/pkg/dto"
)

type MessageType string

const (
	TypeEvent     MessageType = "event"
	TypeStats     MessageType = "stats"
	TypeAnalytics MessageType = "analytics"
	TypeStatus    MessageType = "status"
)

// Message is one broadcast payload, shaped like the WebSocket wire format.
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// Subscription is one subscriber's view of the bus. Receive from C until it
// is closed; call Unsubscribe when done.
type Subscription struct {
	ID uuid.UUID
	C  <-chan Message

	ch         chan Message
	delivered  int64
	dropped    int64
	overflowed bool // one-shot overflow notice already queued
}

// Stats reports per-subscriber delivery counters.
type Stats struct {
	Delivered int64
	Dropped   int64
}

// Bus fans messages out to all current subscribers in publication order.
type Bus struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[uuid.UUID]*Subscription)}
}

// Subscribe registers a subscriber with the given buffer capacity.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{
		ID: uuid.New(),
		ch: make(chan Message, buffer),
	}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.ID]; ok {
		delete(b.subs, sub.ID)
		close(sub.ch)
	}
}

// Publish delivers msg to every subscriber without ever blocking. When a
// subscriber's buffer is full its oldest pending message is dropped to make
// room, and a single overflow status is queued for that subscriber.
func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		b.send(sub, msg)
	}
}

func (b *Bus) send(sub *Subscription, msg Message) {
	if b.enqueue(sub, msg) {
		sub.delivered++
		return
	}
	// Buffer full: head-drop the oldest pending message for this subscriber
	// only, then enqueue. The slot is guaranteed because only the subscriber
	// removes messages.
	b.dropOldest(sub)
	sub.ch <- msg
	sub.delivered++

	if !sub.overflowed {
		sub.overflowed = true
		notice := Message{
			Type: TypeStatus,
			Data: dto.StatusMessage{Message: "subscriber buffer overflowed, oldest messages dropped", Overflowed: true},
		}
		if !b.enqueue(sub, notice) {
			b.dropOldest(sub)
			sub.ch <- notice
		}
	}
}

func (b *Bus) enqueue(sub *Subscription, msg Message) bool {
	select {
	case sub.ch <- msg:
		return true
	default:
		return false
	}
}

func (b *Bus) dropOldest(sub *Subscription) {
	select {
	case dropped := <-sub.ch:
		sub.dropped++
		observability.BusDroppedMessages.WithLabelValues(string(dropped.Type)).Inc()
	default:
		// A concurrent receive already made room.
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// SubscriberStats returns delivery counters for one subscription.
func (b *Bus) SubscriberStats(sub *Subscription) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Delivered: sub.delivered, Dropped: sub.dropped}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
