package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/dispatch"
)

const (
	EventBatchDispatched  = "batch"
	eventHeartbeat        = "heartbeat"
	defaultSubscriberSize = 16
)

// EventHub fans dispatch events out to SSE subscribers. Slow subscribers drop events.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[int64]*eventSubscriber
	nextID      int64
	bufferSize  int
}

type eventSubscriber struct {
	id     int64
	list   string
	stream chan dispatch.BatchEvent
}

// NewEventHub constructs an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[int64]*eventSubscriber),
		bufferSize:  defaultSubscriberSize,
	}
}

// Subscribe registers a stream for list ("" receives every list) until ctx ends or cleanup runs.
func (h *EventHub) Subscribe(ctx context.Context, list string) (<-chan dispatch.BatchEvent, func()) {
	subscriber := &eventSubscriber{
		list:   list,
		stream: make(chan dispatch.BatchEvent, h.bufferSize),
	}
	h.mu.Lock()
	h.nextID++
	subscriber.id = h.nextID
	h.subscribers[subscriber.id] = subscriber
	h.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, subscriber.id)
			h.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish implements dispatch.EventPublisher.
func (h *EventHub) Publish(event dispatch.BatchEvent) {
	h.mu.RLock()
	targets := make([]*eventSubscriber, 0, len(h.subscribers))
	for _, subscriber := range h.subscribers {
		if subscriber.list == "" || subscriber.list == event.List {
			targets = append(targets, subscriber)
		}
	}
	h.mu.RUnlock()
	for _, subscriber := range targets {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of open streams.
func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
