// Package events is Gobby's EventBus component (C2): an in-process pub/sub
// bus with backpressure control and priority channels, fed by the Store's
// mutating operations and fanned out to WebSocket clients and configured
// webhooks. Ring-buffer delivery and priority subscriptions are kept near
// verbatim from the teacher's internal/events/bus.go; only the event type
// catalog below is Gobby's own.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event is the base interface for all events flowing through the bus.
type Event interface {
	EventType() string
	Timestamp() time.Time
	SessionID() string
	ProjectID() string // empty for events with no natural project scope
}

// BaseEvent provides the common fields every Gobby event embeds.
type BaseEvent struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"timestamp"`
	Session string    `json:"session_id,omitempty"`
	Project string    `json:"project_id,omitempty"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) SessionID() string    { return e.Session }
func (e BaseEvent) ProjectID() string    { return e.Project }

// NewBaseEvent creates a base event stamped with the current time.
func NewBaseEvent(eventType, sessionID, projectID string) BaseEvent {
	return BaseEvent{
		Type:    eventType,
		Time:    time.Now(),
		Session: sessionID,
		Project: projectID,
	}
}

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gobby_events_published_total",
		Help: "Events published to the bus, by type.",
	}, []string{"type"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gobby_events_dropped_total",
		Help: "Events dropped from a non-priority subscriber's ring buffer.",
	})
)

// Subscriber represents an event subscription.
type Subscriber struct {
	ch        chan Event
	types     map[string]bool // empty means all types
	projectID string          // empty means no project filtering
	priority  bool
}

// EventBus provides pub/sub with backpressure control.
type EventBus struct {
	mu           sync.RWMutex
	subscribers  []*Subscriber
	prioritySubs []*Subscriber
	bufferSize   int
	droppedCount int64
	closed       bool
}

// New creates a new EventBus with the specified per-subscriber buffer size.
func New(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		subscribers:  make([]*Subscriber, 0),
		prioritySubs: make([]*Subscriber, 0),
		bufferSize:   bufferSize,
	}
}

// Subscribe creates a subscription for specific event types, all projects.
// If no types are given, subscribes to every event type.
func (eb *EventBus) Subscribe(types ...string) <-chan Event {
	return eb.SubscribeForProject("", types...)
}

// SubscribeForProject creates a subscription filtered to a single project.
// An empty projectID receives events from every project.
func (eb *EventBus) SubscribeForProject(projectID string, types ...string) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	sub := &Subscriber{
		ch:        make(chan Event, eb.bufferSize),
		types:     make(map[string]bool),
		projectID: projectID,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	eb.subscribers = append(eb.subscribers, sub)
	return sub.ch
}

// SubscribePriority creates a priority subscription that never drops events.
// Use for events that must reach the caller: workflow.failed, hook denials.
func (eb *EventBus) SubscribePriority() <-chan Event {
	return eb.SubscribeForProjectWithPriority("")
}

// SubscribeForProjectWithPriority is SubscribePriority scoped to one project.
func (eb *EventBus) SubscribeForProjectWithPriority(projectID string, types ...string) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	sub := &Subscriber{
		ch:        make(chan Event, 50),
		types:     make(map[string]bool),
		projectID: projectID,
		priority:  true,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	eb.prioritySubs = append(eb.prioritySubs, sub)
	return sub.ch
}

// Unsubscribe removes a subscription, closing its channel.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers = removeSubscriber(eb.subscribers, ch)
	eb.prioritySubs = removeSubscriber(eb.prioritySubs, ch)
}

func removeSubscriber(subs []*Subscriber, ch <-chan Event) []*Subscriber {
	result := make([]*Subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.ch != ch {
			result = append(result, sub)
		} else {
			close(sub.ch)
		}
	}
	return result
}

// Publish sends an event to every matching non-priority subscriber.
// A subscriber whose buffer is full drops its oldest queued event to make
// room (ring buffer behavior) rather than block the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	eventsPublished.WithLabelValues(event.EventType()).Inc()

	eventType := event.EventType()
	eventProject := event.ProjectID()
	for _, sub := range eb.subscribers {
		if !eb.shouldDeliver(sub, eventType, eventProject) {
			continue
		}
		eb.deliverWithRingBuffer(sub, event)
	}
}

// shouldDeliver reports whether event matches a subscriber's project/type filters.
func (eb *EventBus) shouldDeliver(sub *Subscriber, eventType, eventProject string) bool {
	if sub.projectID != "" && eventProject != sub.projectID {
		return false
	}
	if len(sub.types) > 0 && !sub.types[eventType] {
		return false
	}
	return true
}

func (eb *EventBus) deliverWithRingBuffer(sub *Subscriber, event Event) {
	select {
	case sub.ch <- event:
	default:
		select {
		case <-sub.ch:
			atomic.AddInt64(&eb.droppedCount, 1)
			eventsDropped.Inc()
		default:
		}
		select {
		case sub.ch <- event:
		default:
			atomic.AddInt64(&eb.droppedCount, 1)
			eventsDropped.Inc()
		}
	}
}

// PublishPriority sends event to regular subscribers (ring buffer, as above)
// and then to every matching priority subscriber, blocking until delivered.
func (eb *EventBus) PublishPriority(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	eventsPublished.WithLabelValues(event.EventType()).Inc()

	eventType := event.EventType()
	eventProject := event.ProjectID()
	for _, sub := range eb.subscribers {
		if !eb.shouldDeliver(sub, eventType, eventProject) {
			continue
		}
		eb.deliverWithRingBuffer(sub, event)
	}
	for _, sub := range eb.prioritySubs {
		if !eb.shouldDeliver(sub, eventType, eventProject) {
			continue
		}
		sub.ch <- event
	}
}

// DroppedCount returns the total number of events dropped from full ring
// buffers since the bus was created.
func (eb *EventBus) DroppedCount() int64 {
	return atomic.LoadInt64(&eb.droppedCount)
}

// Close closes the bus and every subscriber channel. Publish/PublishPriority
// become no-ops afterward.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, sub := range eb.subscribers {
		close(sub.ch)
	}
	for _, sub := range eb.prioritySubs {
		close(sub.ch)
	}
	eb.subscribers = nil
	eb.prioritySubs = nil
}
