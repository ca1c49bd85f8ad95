// Package eventbus provides a small in-process publish/subscribe bus used
// to decouple domain services from notification fan-out.
package eventbus

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Event is a named payload published on the bus.
type Event struct {
	Topic   string
	Payload map[string]any
}

// Handler consumes a single event. Returned errors are logged, they never
// propagate to the publisher.
type Handler func(ctx context.Context, ev Event) error

// Bus dispatches events synchronously to all subscribers of a topic.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *zap.Logger
}

func New(log *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		log:      log.Named("eventbus"),
	}
}

// Subscribe registers a handler for the given topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers the event to every subscriber in registration order.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	hs := b.handlers[ev.Topic]
	b.mu.RUnlock()

	for _, h := range hs {
		if err := h(ctx, ev); err != nil {
			b.log.Warn("event handler failed",
				zap.String("topic", ev.Topic),
				zap.Error(err),
			)
		}
	}
}

var Module = fx.Module("eventbus",
	fx.Provide(New),
)
