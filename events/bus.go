// Package events fans indexer notifications (checkpoint, stake and claim
// transitions) out to in-process subscribers such as the WebSocket server.
package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// SubscriptionID names a subscriber; reusing an ID replaces the old entry
type SubscriptionID string

// Subscription receives the events of the types it registered for
type Subscription struct {
	ID         SubscriptionID
	EventTypes map[EventType]bool

	// Filter is optional; nil receives every event of matching types
	Filter *Filter

	// Channel is closed on Unsubscribe and when the bus stops
	Channel chan Event

	received atomic.Uint64
	dropped  atomic.Uint64
}

// Received returns the number of events delivered to the subscription
func (s *Subscription) Received() uint64 { return s.received.Load() }

// Dropped returns the number of events lost because Channel was full
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) wants(event Event) bool {
	return s.EventTypes[event.Type()]
}

// Stats is a snapshot of bus activity
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"total_events"`
	Delivered   uint64 `json:"total_deliveries"`
	Dropped     uint64 `json:"dropped_events"`
}

// EventBus is a non-blocking publish/subscribe broker. A single goroutine
// (Run) owns registration and delivery; slow subscribers lose events
// rather than stall the indexer.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[SubscriptionID]*Subscription

	publishCh chan Event
	joinCh    chan *Subscription
	leaveCh   chan SubscriptionID

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64

	metrics *Metrics
}

// NewEventBus creates a bus. publishBuffer bounds queued events and
// subscribeBuffer bounds pending (un)subscriptions.
func NewEventBus(publishBuffer, subscribeBuffer int) *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		subscribers: make(map[SubscriptionID]*Subscription),
		publishCh:   make(chan Event, publishBuffer),
		joinCh:      make(chan *Subscription, subscribeBuffer),
		leaveCh:     make(chan SubscriptionID, subscribeBuffer),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// SetMetrics enables Prometheus metrics. Call before Run.
func (eb *EventBus) SetMetrics(metrics *Metrics) {
	eb.metrics = metrics
}

// Run processes subscriptions and events until Stop
func (eb *EventBus) Run() {
	defer close(eb.done)

	for {
		select {
		case <-eb.ctx.Done():
			eb.mu.Lock()
			for id, sub := range eb.subscribers {
				close(sub.Channel)
				delete(eb.subscribers, id)
			}
			eb.mu.Unlock()
			eb.metrics.setSubscribers(0)
			return

		case sub := <-eb.joinCh:
			eb.mu.Lock()
			if old, ok := eb.subscribers[sub.ID]; ok {
				close(old.Channel)
			}
			eb.subscribers[sub.ID] = sub
			n := len(eb.subscribers)
			eb.mu.Unlock()
			eb.metrics.setSubscribers(n)

		case id := <-eb.leaveCh:
			eb.mu.Lock()
			if sub, ok := eb.subscribers[id]; ok {
				close(sub.Channel)
				delete(eb.subscribers, id)
			}
			n := len(eb.subscribers)
			eb.mu.Unlock()
			eb.metrics.setSubscribers(n)

		case event := <-eb.publishCh:
			eb.published.Add(1)
			eb.metrics.record(event.Type(), outcomePublished)
			eb.deliver(event)
		}
	}
}

func (eb *EventBus) deliver(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, sub := range eb.subscribers {
		if !sub.wants(event) {
			continue
		}
		if sub.Filter != nil && !sub.Filter.Match(event) {
			eb.metrics.record(event.Type(), outcomeFiltered)
			continue
		}

		select {
		case sub.Channel <- event:
			sub.received.Add(1)
			eb.delivered.Add(1)
			eb.metrics.record(event.Type(), outcomeDelivered)
		default:
			sub.dropped.Add(1)
			eb.dropped.Add(1)
			eb.metrics.record(event.Type(), outcomeDropped)
		}
	}
}

// Stop closes every subscription and waits for Run to return
func (eb *EventBus) Stop() {
	eb.cancel()
	<-eb.done
}

// SubscriberCount returns the current number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Stats returns a snapshot of the bus counters
func (eb *EventBus) Stats() Stats {
	return Stats{
		Subscribers: eb.SubscriberCount(),
		Published:   eb.published.Load(),
		Delivered:   eb.delivered.Load(),
		Dropped:     eb.dropped.Load(),
	}
}

// Publish queues event for delivery. It never blocks and returns false
// when the bus is stopped or its buffer is full.
func (eb *EventBus) Publish(event Event) bool {
	if eb.ctx.Err() != nil {
		return false
	}
	select {
	case eb.publishCh <- event:
		return true
	default:
		return false
	}
}

// Subscribe registers a subscription for eventTypes. It returns nil for
// an invalid filter or a stopped bus.
func (eb *EventBus) Subscribe(id SubscriptionID, eventTypes []EventType, filter *Filter, channelSize int) *Subscription {
	if filter != nil {
		if err := filter.Validate(); err != nil {
			return nil
		}
		filter = filter.Clone()
	}

	sub := &Subscription{
		ID:         id,
		EventTypes: make(map[EventType]bool, len(eventTypes)),
		Filter:     filter,
		Channel:    make(chan Event, channelSize),
	}
	for _, et := range eventTypes {
		sub.EventTypes[et] = true
	}

	select {
	case eb.joinCh <- sub:
		return sub
	case <-eb.ctx.Done():
		close(sub.Channel)
		return nil
	}
}

// Unsubscribe removes a subscription and closes its channel
func (eb *EventBus) Unsubscribe(id SubscriptionID) {
	select {
	case eb.leaveCh <- id:
	case <-eb.ctx.Done():
	}
}
