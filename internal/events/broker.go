package events

import (
	"strings"
	"sync"
	"time"
)

// Broker manages event distribution. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Broker struct {
	subscribers map[EventType][]chan Event
	mu          sync.RWMutex
	bufferSize  int
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return NewBrokerWithBuffer(64)
}

// NewBrokerWithBuffer creates a broker whose subscriptions buffer size
// events each.
func NewBrokerWithBuffer(size int) *Broker {
	if size < 1 {
		size = 1
	}
	return &Broker{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  size,
	}
}

// Subscribe creates a subscription to specific event types
func (b *Broker) Subscribe(eventTypes ...EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)

	// If no specific types provided, subscribe to all
	if len(eventTypes) == 0 {
		eventTypes = []EventType{wildcard}
	}

	for _, eventType := range eventTypes {
		b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	}

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType := range b.subscribers {
		b.removeChannel(eventType, ch)
	}
}

// Publish sends an event to all subscribers
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			// Channel full, skip this event
		}
	}

	for _, ch := range b.subscribers[wildcard] {
		select {
		case ch <- event:
		default:
		}
	}
}

// removeChannel removes a channel from a specific event type's subscribers.
// It reports whether the channel was found; the channel is closed on its
// last removal.
func (b *Broker) removeChannel(eventType EventType, target <-chan Event) bool {
	subscribers := b.subscribers[eventType]
	found := false
	for i, ch := range subscribers {
		if ch == target {
			b.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			found = true
			if !b.stillSubscribed(ch) {
				close(ch)
			}
			break
		}
	}

	if len(b.subscribers[eventType]) == 0 {
		delete(b.subscribers, eventType)
	}
	return found
}

func (b *Broker) stillSubscribed(target chan Event) bool {
	for _, subscribers := range b.subscribers {
		for _, ch := range subscribers {
			if ch == target {
				return true
			}
		}
	}
	return false
}

// Clear removes all subscriptions
func (b *Broker) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[chan Event]bool)
	for _, subscribers := range b.subscribers {
		for _, ch := range subscribers {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
	}

	b.subscribers = make(map[EventType][]chan Event)
}

// Writer publishes everything written to it as LogLineEvent events, one per
// line. It lets a log handler feed the dashboard instead of a terminal.
type Writer struct {
	Broker *Broker
}

func (w Writer) Write(p []byte) (int, error) {
	now := time.Now()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		w.Broker.Publish(Event{Type: LogLineEvent, Time: now, Payload: LogLinePayload{Line: line}})
	}
	return len(p), nil
}
