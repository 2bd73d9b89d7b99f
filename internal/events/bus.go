// Package events provides the internal pub/sub bus that fans domain events
// out to the risk profile engine, autonomous agents and the websocket bridge.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event.
type EventType string

// Canonical event types. Topic-to-event mapping lives in the streaming engine.
const (
	// Transaction pipeline events
	EventTransactionReceived EventType = "transaction.received"
	EventTransactionEnriched EventType = "transaction.enriched"
	EventTransactionScored   EventType = "transaction.scored"
	EventTransactionDecided  EventType = "transaction.decided"

	// Risk events
	EventRiskEvent          EventType = "risk.event"
	EventRiskProfileUpdated EventType = "risk.profile.updated"
	EventRiskTierChanged    EventType = "risk.tier.changed"

	// Alerting and agent events
	EventAlertCreated        EventType = "alert.created"
	EventAgentAction         EventType = "agent.action"
	EventFeatureMaterialized EventType = "feature.materialized"

	// System events
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// DetectionEventType builds the "<agent>:detection" event type emitted after
// an autonomous cycle.
func DetectionEventType(agentName string) EventType {
	return EventType(agentName + ":detection")
}

// Event represents a domain event on the bus.
type Event struct {
	ID        string
	Type      EventType
	Source    string
	Topic     string
	Key       string
	Payload   interface{}
	Timestamp time.Time
	Metadata  map[string]string
}

// NewEvent creates a new event with the given type and payload.
func NewEvent(eventType EventType, source string, payload interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
		Metadata:  make(map[string]string),
	}
}

// WithTopic sets the originating topic and returns the event.
func (e *Event) WithTopic(topic string) *Event {
	e.Topic = topic
	return e
}

// WithKey sets the partitioning key and returns the event.
func (e *Event) WithKey(key string) *Event {
	e.Key = key
	return e
}

// WithMetadata adds metadata and returns the event.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Subscriber represents an event subscriber.
type Subscriber struct {
	ID      string
	Channel chan *Event
	Filter  func(*Event) bool
	Types   []EventType
	Closed  bool
	mu      sync.RWMutex
}

// Close closes the subscriber channel.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Closed {
		s.Closed = true
		close(s.Channel)
	}
}

// trySend attempts to send an event to the subscriber channel.
// Returns true if sent, false if closed or the send timed out.
func (s *Subscriber) trySend(event *Event, timeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Closed {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.Channel <- event:
		return true
	case <-timer.C:
		return false
	}
}

// BusConfig holds configuration for the event bus.
type BusConfig struct {
	BufferSize      int           // Buffer size for subscriber channels
	PublishTimeout  time.Duration // Timeout for publishing to subscribers
	CleanupInterval time.Duration // Interval for cleaning up dead subscribers
}

// DefaultBusConfig returns default bus configuration.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		BufferSize:      1000,
		PublishTimeout:  10 * time.Millisecond,
		CleanupInterval: 30 * time.Second,
	}
}

// BusMetrics tracks event bus statistics.
type BusMetrics struct {
	EventsPublished   int64
	EventsDelivered   int64
	EventsDropped     int64
	SubscribersActive int64
	SubscribersTotal  int64
}

// Bus provides pub/sub for domain events.
type Bus struct {
	subscribers map[EventType][]*Subscriber
	allSubs     []*Subscriber
	mu          sync.RWMutex
	config      *BusConfig
	metrics     *BusMetrics
	ctx         context.Context
	cancel      context.CancelFunc
	closed      bool
}

// NewBus creates a new event bus.
func NewBus(config *BusConfig) *Bus {
	if config == nil {
		config = DefaultBusConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	bus := &Bus{
		subscribers: make(map[EventType][]*Subscriber),
		allSubs:     make([]*Subscriber, 0),
		config:      config,
		metrics:     &BusMetrics{},
		ctx:         ctx,
		cancel:      cancel,
	}

	go bus.cleanupLoop()

	return bus
}

// Publish sends an event to all subscribers.
func (b *Bus) Publish(event *Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := b.subscribers[event.Type]
	allSubs := b.allSubs
	b.mu.RUnlock()

	atomic.AddInt64(&b.metrics.EventsPublished, 1)

	for _, sub := range subs {
		b.publishToSubscriber(sub, event)
	}
	for _, sub := range allSubs {
		b.publishToSubscriber(sub, event)
	}
}

// PublishAsync publishes an event asynchronously.
func (b *Bus) PublishAsync(event *Event) {
	go b.Publish(event)
}

func (b *Bus) publishToSubscriber(sub *Subscriber, event *Event) {
	if sub.Filter != nil && !sub.Filter(event) {
		return
	}

	if sub.trySend(event, b.config.PublishTimeout) {
		atomic.AddInt64(&b.metrics.EventsDelivered, 1)
	} else {
		atomic.AddInt64(&b.metrics.EventsDropped, 1)
	}
}

// Subscribe subscribes to events of a specific type.
func (b *Bus) Subscribe(eventType EventType) <-chan *Event {
	return b.SubscribeMultipleWithFilter(nil, eventType)
}

// SubscribeMultiple subscribes to multiple event types.
func (b *Bus) SubscribeMultiple(types ...EventType) <-chan *Event {
	return b.SubscribeMultipleWithFilter(nil, types...)
}

// SubscribeMultipleWithFilter subscribes to multiple event types with a filter.
func (b *Bus) SubscribeMultipleWithFilter(filter func(*Event) bool, types ...EventType) <-chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan *Event)
		close(ch)
		return ch
	}

	sub := &Subscriber{
		ID:      uuid.New().String(),
		Channel: make(chan *Event, b.config.BufferSize),
		Filter:  filter,
		Types:   types,
	}

	for _, eventType := range types {
		b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	}

	atomic.AddInt64(&b.metrics.SubscribersActive, 1)
	atomic.AddInt64(&b.metrics.SubscribersTotal, 1)

	return sub.Channel
}

// SubscribeAll subscribes to all event types.
func (b *Bus) SubscribeAll() <-chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan *Event)
		close(ch)
		return ch
	}

	sub := &Subscriber{
		ID:      uuid.New().String(),
		Channel: make(chan *Event, b.config.BufferSize),
	}

	b.allSubs = append(b.allSubs, sub)
	atomic.AddInt64(&b.metrics.SubscribersActive, 1)
	atomic.AddInt64(&b.metrics.SubscribersTotal, 1)

	return sub.Channel
}

// Unsubscribe removes a subscriber by channel.
func (b *Bus) Unsubscribe(ch <-chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for i, sub := range subs {
			if sub.Channel == ch {
				sub.Close()
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				atomic.AddInt64(&b.metrics.SubscribersActive, -1)
				return
			}
		}
	}

	for i, sub := range b.allSubs {
		if sub.Channel == ch {
			sub.Close()
			b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
			atomic.AddInt64(&b.metrics.SubscribersActive, -1)
			return
		}
	}
}

// cleanupLoop periodically removes closed subscribers.
func (b *Bus) cleanupLoop() {
	interval := b.config.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.cleanup()
		}
	}
}

func (b *Bus) cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		active := make([]*Subscriber, 0, len(subs))
		for _, sub := range subs {
			sub.mu.Lock()
			if !sub.Closed {
				active = append(active, sub)
			}
			sub.mu.Unlock()
		}
		b.subscribers[eventType] = active
	}

	active := make([]*Subscriber, 0, len(b.allSubs))
	for _, sub := range b.allSubs {
		sub.mu.Lock()
		if !sub.Closed {
			active = append(active, sub)
		}
		sub.mu.Unlock()
	}
	b.allSubs = active
}

// Metrics returns current bus metrics.
func (b *Bus) Metrics() *BusMetrics {
	return &BusMetrics{
		EventsPublished:   atomic.LoadInt64(&b.metrics.EventsPublished),
		EventsDelivered:   atomic.LoadInt64(&b.metrics.EventsDelivered),
		EventsDropped:     atomic.LoadInt64(&b.metrics.EventsDropped),
		SubscribersActive: atomic.LoadInt64(&b.metrics.SubscribersActive),
		SubscribersTotal:  atomic.LoadInt64(&b.metrics.SubscribersTotal),
	}
}

// SubscriberCount returns the number of subscribers for a given event type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}

// Close shuts down the event bus.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	b.cancel()

	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.Close()
		}
	}
	for _, sub := range b.allSubs {
		sub.Close()
	}

	return nil
}

// Wait blocks until an event of the specified type is received or the context
// is cancelled.
func (b *Bus) Wait(ctx context.Context, eventType EventType) (*Event, error) {
	ch := b.Subscribe(eventType)
	defer b.Unsubscribe(ch)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case event, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("event bus closed")
		}
		return event, nil
	}
}
