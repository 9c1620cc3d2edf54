// Package eventbus defines pub/sub interfaces for typed protocol events.
package eventbus

import (
	"context"

	"github.com/quantfold/gatewire/internal/protocol"
)

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID string

// Bus delivers typed events to interested subscribers, decoupling the read
// loop (producer) from application consumers.
type Bus interface {
	Publish(ctx context.Context, evt protocol.Event) error
	// Subscribe registers for events of the given types; no types means every
	// event.
	Subscribe(ctx context.Context, types ...protocol.EventType) (SubscriptionID, <-chan protocol.Event, error)
	Unsubscribe(id SubscriptionID)
	Close()
}

// MemoryConfig configures the in-memory bus buffers.
type MemoryConfig struct {
	BufferSize int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	return c
}
