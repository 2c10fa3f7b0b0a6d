// Package events is an in-process publish/subscribe bus.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chihkang/PortfolioManager/internal/metrics"
	"github.com/rs/zerolog"
)

// Event is anything published on the bus
type Event interface {
	EventName() string
}

// Handler reacts to one published event
type Handler func(ctx context.Context, e Event) error

// Publisher is the producer side of the bus
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type subscription struct {
	name    string
	handler Handler
}

// Bus dispatches each event to every handler registered for its name, in
// registration order. A failing handler does not stop the others.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	log      zerolog.Logger
}

// NewBus creates an empty bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler for events named eventName. subscriber names
// the handler in logs.
func (b *Bus) Subscribe(eventName, subscriber string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], subscription{name: subscriber, handler: handler})
	b.log.Debug().Str("event", eventName).Str("subscriber", subscriber).Msg("Handler subscribed")
}

// Publish runs every handler for e and returns the joined handler errors
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[e.EventName()]...)
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(e.EventName()).Inc()
	if len(subs) == 0 {
		b.log.Debug().Str("event", e.EventName()).Msg("No handlers for event")
		return nil
	}

	var errs []error
	for _, sub := range subs {
		if err := sub.handler(ctx, e); err != nil {
			b.log.Error().Err(err).Str("event", e.EventName()).Str("subscriber", sub.name).Msg("Event handler failed")
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}
	return errors.Join(errs...)
}
