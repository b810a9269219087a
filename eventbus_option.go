package concierge

import "github.com/marigold-ai/concierge/internal/eventbus"

// WithEventBus sets the event bus component.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(c *Concierge) {
		c.eventBus = bus
	}
}
