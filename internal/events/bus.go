// Package events carries watcher notifications to in-process subscribers
// and, through publishers, to external brokers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/chis/fleetwatch/internal/model"
)

// Event types emitted by watchers
const (
	EventContainerReport  = "container.report"
	EventContainerReports = "container.reports"
	EventContainerStatus  = "container.status"
	EventWatcherStart     = "watcher.start"
	EventWatcherStop      = "watcher.stop"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

const subscriberBuffer = 100

// Event is a notification published on the bus.
type Event struct {
	Type      string      `json:"type"`
	Watcher   string      `json:"watcher,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Sink receives events. Publish never blocks.
type Sink interface {
	Publish(event Event)
}

// Subscriber is a channel that receives events
type Subscriber chan Event

// Bus fans events out to subscribers. Slow subscribers lose events instead
// of blocking publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
}

var _ Sink = (*Bus)(nil)

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]Subscriber),
	}
}

// Subscribe registers a subscriber for an event type, or Wildcard.
// The returned function unsubscribes and closes the channel.
func (b *Bus) Subscribe(eventType string) (Subscriber, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(Subscriber, subscriberBuffer)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := b.subscribers[eventType]
			for i, sub := range subs {
				if sub == ch {
					b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}

	return ch, unsubscribe
}

// Publish sends an event to the subscribers of its type and to wildcard
// subscribers. A zero timestamp is set to now.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
	if event.Type == Wildcard {
		return
	}
	for _, ch := range b.subscribers[Wildcard] {
		select {
		case ch <- event:
		default:
		}
	}
}

// MarshalEvent converts an event to JSON
func MarshalEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}

// ContainerReport builds the event emitted after resolving one container.
func ContainerReport(watcher string, report model.ContainerReport) Event {
	return Event{Type: EventContainerReport, Watcher: watcher, Payload: report}
}

// ContainerReports builds the event emitted at the end of a scan.
func ContainerReports(watcher string, reports []model.ContainerReport) Event {
	return Event{Type: EventContainerReports, Watcher: watcher, Payload: reports}
}

// ContainerStatus builds the event emitted when only a status changed.
func ContainerStatus(watcher string, c model.Container) Event {
	return Event{
		Type:    EventContainerStatus,
		Watcher: watcher,
		Payload: map[string]string{"id": c.ID, "name": c.Name, "status": c.Status},
	}
}

// WatcherLifecycle builds a watcher.start or watcher.stop event.
func WatcherLifecycle(eventType, watcher, deviceID string) Event {
	return Event{Type: eventType, Watcher: watcher, Payload: map[string]string{"deviceId": deviceID}}
}

// Discard is a sink that drops every event.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(Event) {}
