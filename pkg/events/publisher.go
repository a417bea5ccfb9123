// Package events carries session events from the engine to its sinks
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

// Define event types
const (
	EventSessionCreated      EventType = "SESSION_CREATED"
	EventSessionStarted      EventType = "SESSION_STARTED"
	EventMoveApplied         EventType = "MOVE_APPLIED"
	EventClockCorrection     EventType = "CLOCK_CORRECTION"
	EventDrawOffered         EventType = "DRAW_OFFERED"
	EventDrawDeclined        EventType = "DRAW_DECLINED"
	EventSessionCompleted    EventType = "SESSION_COMPLETED"
	EventGracePeriodStarted  EventType = "GRACE_PERIOD_STARTED"
	EventGracePeriodResolved EventType = "GRACE_PERIOD_RESOLVED"
)

// Event represents an event in the system
type Event struct {
	Type    EventType
	MatchID string
	At      time.Time
	Payload interface{}
}

// Handler is a function that processes events. Handlers run on the
// publishing goroutine and must not block.
type Handler func(event Event)

const allEvents EventType = "*"

// Publisher is the central event publisher.
//
// Handlers are invoked synchronously in subscription order so that events of
// one match reach every sink in the order they were committed.
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
}

// NewPublisher creates a new event publisher
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (p *Publisher) Subscribe(eventType EventType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers[eventType] = append(p.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (p *Publisher) SubscribeAll(handler Handler) {
	p.Subscribe(allEvents, handler)
}

// Publish delivers an event to its type handlers, then to the catch-all handlers
func (p *Publisher) Publish(event Event) {
	p.mu.RLock()
	handlers := p.subscribers[event.Type]
	allHandlers := p.subscribers[allEvents]
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}

	for _, handler := range allHandlers {
		handler(event)
	}
}
