package event

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler reacts to a published event
type Handler func(ctx context.Context, e Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus implements synchronous in-memory pub/sub.
// A nil *Bus is valid and drops everything, so components can be built
// without one in tests.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]subscription // eventType -> handlers
	wildcard []subscription            // handlers for all events
	logger   *zap.Logger
}

// NewBus creates a new event bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers handler for the given event types, or for every
// event when none are given. The returned func removes the subscription.
func (b *Bus) Subscribe(handler Handler, eventTypes ...string) (unsubscribe func()) {
	if b == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	sub := subscription{id: b.nextID, handler: handler}
	if len(eventTypes) == 0 {
		b.wildcard = append(b.wildcard, sub)
	}
	for _, t := range eventTypes {
		b.handlers[t] = append(b.handlers[t], sub)
	}
	b.mu.Unlock()

	b.logger.Debug("handler subscribed", zap.Strings("event_types", eventTypes))

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.wildcard = removeSubscription(b.wildcard, id)
	for t, subs := range b.handlers {
		b.handlers[t] = removeSubscription(subs, id)
		if len(b.handlers[t]) == 0 {
			delete(b.handlers, t)
		}
	}
}

// Publish delivers events to all registered handlers synchronously.
// Handler errors and panics are logged and never reach the publisher.
func (b *Bus) Publish(ctx context.Context, events ...Event) {
	if b == nil {
		return
	}
	for _, e := range events {
		for _, sub := range b.handlersFor(e.EventType()) {
			if err := b.dispatch(ctx, sub.handler, e); err != nil {
				b.logger.Error("handler failed to process event",
					zap.String("event_type", e.EventType()),
					zap.Error(err),
				)
			}
		}
	}
}

func (b *Bus) handlersFor(eventType string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	typed := b.handlers[eventType]
	out := make([]subscription, 0, len(typed)+len(b.wildcard))
	out = append(out, typed...)
	out = append(out, b.wildcard...)
	return out
}

func (b *Bus) dispatch(ctx context.Context, handler Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked",
				zap.String("event_type", e.EventType()),
				zap.Any("panic", r),
			)
		}
	}()
	return handler(ctx, e)
}

func removeSubscription(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
