// internal/handler/event_bus.go
package handler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"labdevice-service/internal/model"
)

const (
	eventBufferSize      = 1000
	subscriberBufferSize = 100
)

// EventBus fans device events out to subscribers. Publishing never blocks:
// a full bus or a slow subscriber drops the event.
type EventBus struct {
	subscribers map[string]*subscription
	events      chan *model.DeviceEvent
	mutex       sync.RWMutex
	logger      *zap.Logger
}

type subscription struct {
	ch    chan *model.DeviceEvent
	types map[model.EventType]bool
}

func (s *subscription) wants(eventType model.EventType) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string]*subscription),
		events:      make(chan *model.DeviceEvent, eventBufferSize),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes events until ctx is done, then closes every
// subscriber channel
func (eb *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			eb.closeAll()
			return
		case event := <-eb.events:
			eb.distributeEvent(event)
		}
	}
}

// Publish queues an event for distribution
func (eb *EventBus) Publish(event *model.DeviceEvent) {
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
		)
	}
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given
func (eb *EventBus) Subscribe(types ...model.EventType) (string, <-chan *model.DeviceEvent) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	sub := &subscription{
		ch:    make(chan *model.DeviceEvent, subscriberBufferSize),
		types: make(map[model.EventType]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	id := uuid.New().String()
	eb.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel
func (eb *EventBus) Unsubscribe(id string) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if sub, ok := eb.subscribers[id]; ok {
		delete(eb.subscribers, id)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of live subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.subscribers)
}

// distributeEvent holds the read lock while sending so Unsubscribe cannot
// close a channel mid-send
func (eb *EventBus) distributeEvent(event *model.DeviceEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for id, sub := range eb.subscribers {
		if !sub.wants(event.EventType) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			eb.logger.Debug("Subscriber is slow, dropping event",
				zap.String("subscriber", id),
				zap.String("event_type", string(event.EventType)),
			)
		}
	}
}

func (eb *EventBus) closeAll() {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	for id, sub := range eb.subscribers {
		delete(eb.subscribers, id)
		close(sub.ch)
	}
}
