// Package events provides an in-process event bus for conversation,
// tool and reminder activity.
package events

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrBusClosed = errors.New("event bus is closed")

// EventType represents the type of event.
type EventType string

const (
	EventUserMessage      EventType = "user.message"
	EventAssistantStream  EventType = "assistant.stream"
	EventAssistantMessage EventType = "assistant.message"
	EventToolCall         EventType = "tool.call"
	EventLLMCall          EventType = "internal.llm.call"

	EventSessionCreated EventType = "session.created"
	EventSessionClosed  EventType = "session.closed"

	EventReminderOverdue EventType = "reminder.overdue"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceAgent     EventSource = "agent"
	SourceHub       EventSource = "hub"
	SourceWS        EventSource = "ws"
	SourceReminders EventSource = "reminders"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

type subscription struct {
	eventTypes map[EventType]bool
	handler    Subscriber
}

func (s *subscription) wants(t EventType) bool {
	return len(s.eventTypes) == 0 || s.eventTypes[t]
}

// Bus fans events out to subscribers from a single dispatch goroutine, so
// every subscriber observes events in publish order. Handlers must not
// block.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextID      int
	queue       chan Event
	history     *RingBuffer
	closed      bool
	done        chan struct{}
}

// NewBus creates a new event bus. bufferSize bounds both the publish queue
// and the retained history.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	b := &Bus{
		subscribers: make(map[int]*subscription),
		queue:       make(chan Event, bufferSize),
		history:     NewRingBuffer(bufferSize),
		done:        make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for event := range b.queue {
		b.history.Add(event)

		b.mu.RLock()
		handlers := make([]Subscriber, 0, len(b.subscribers))
		for _, sub := range b.subscribers {
			if sub.wants(event.Type) {
				handlers = append(handlers, sub.handler)
			}
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			h(event)
		}
	}
}

// Publish enqueues an event. When the queue is full the event is dropped
// and logged; publishers never block on slow subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- event:
	default:
		slog.Warn("event bus full, dropping event", "type", event.Type, "id", event.ID)
	}
}

// Subscribe registers a handler for specific event types (all types when
// none are given). Returns an unsubscribe function.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	sub := &subscription{handler: handler}
	if len(eventTypes) > 0 {
		sub.eventTypes = make(map[EventType]bool, len(eventTypes))
		for _, t := range eventTypes {
			sub.eventTypes[t] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// History returns up to limit recent events, oldest first.
func (b *Bus) History(limit int) []Event {
	return b.history.Get(limit)
}

// Close stops accepting events and waits for queued ones to be dispatched.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	<-b.done
}

// RingBuffer is a circular buffer for storing recent events.
type RingBuffer struct {
	mu     sync.RWMutex
	events []Event
	pos    int
	count  int
}

// NewRingBuffer creates a new ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{events: make([]Event, size)}
}

// Add stores an event, overwriting the oldest one when full.
func (r *RingBuffer) Add(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.pos] = event
	r.pos = (r.pos + 1) % len(r.events)
	if r.count < len(r.events) {
		r.count++
	}
}

// Get returns up to n most recent events, oldest first.
func (r *RingBuffer) Get(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}

	size := len(r.events)
	result := make([]Event, n)
	start := (r.pos - n + size) % size
	for i := 0; i < n; i++ {
		result[i] = r.events[(start+i)%size]
	}
	return result
}
