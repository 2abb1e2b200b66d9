// Package events carries command lifecycle notifications between the
// dispatcher and its observers (journal, CLI).
package events

import (
	"sync"
	"time"

	"github.com/chmouel/lazyscc/internal/log"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventCommandIssued is published when a command is handed to a worker
	// or started inline.
	EventCommandIssued EventType = "command_issued"
	// EventCommandCompleted is published once a command has finished
	// executing, before its listener is called.
	EventCommandCompleted EventType = "command_completed"
	// EventProviderState is published whenever the provider flags change.
	EventProviderState EventType = "provider_state"
)

// Event represents a system event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe bus.
// Events are delivered asynchronously via buffered channels; if a
// subscriber's channel is full the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	wg          sync.WaitGroup
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for a specific event type and returns an
// unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			deliver(fn, event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := b.subscribers[eventType]
			for i, subCh := range subs {
				if subCh == ch {
					b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}
}

func deliver(fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("event", string(event.Type)).Interface("panic", r).Msg("event subscriber panicked")
		}
	}()
	fn(event)
}

// Publish sends an event to all subscribers of the given type without
// blocking.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			log.Debug().Str("event", string(eventType)).Msg("event dropped, subscriber queue full")
		}
	}
}

// Close closes all subscriber channels and waits for in-flight deliveries
// to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
