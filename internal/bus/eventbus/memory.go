package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quantfold/gatewire/errs"
	"github.com/quantfold/gatewire/internal/protocol"
)

// wildcard keys subscriptions that receive every event type.
const wildcard protocol.EventType = ""

// MemoryBus is an in-memory implementation of the event bus.
type MemoryBus struct {
	cfg MemoryConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	subscribers  map[protocol.EventType]map[SubscriptionID]*subscriber
	shutdownOnce sync.Once
}

type subscriber struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan protocol.Event
	once   sync.Once
}

// NewMemoryBus constructs a memory-backed event bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	bus := new(MemoryBus)
	bus.cfg = cfg
	bus.ctx = ctx
	bus.cancel = cancel
	bus.subscribers = make(map[protocol.EventType]map[SubscriptionID]*subscriber)
	return bus
}

// Publish fan-outs the event to all subscribers of its type and to wildcard
// subscribers. Delivery is non-blocking: a full subscriber buffer yields an
// error rather than stalling the read loop.
func (b *MemoryBus) Publish(ctx context.Context, evt protocol.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if evt == nil {
		return nil
	}

	// Snapshot subscribers to avoid holding the lock during delivery.
	b.mu.RLock()
	subscribers := make([]*subscriber, 0, len(b.subscribers[evt.Kind()])+len(b.subscribers[wildcard]))
	for _, sub := range b.subscribers[evt.Kind()] {
		subscribers = append(subscribers, sub)
	}
	for _, sub := range b.subscribers[wildcard] {
		subscribers = append(subscribers, sub)
	}
	b.mu.RUnlock()

	if len(subscribers) == 0 {
		return nil
	}

	var firstErr error
	for _, sub := range subscribers {
		if sub == nil {
			continue
		}
		if err := b.deliver(ctx, sub, evt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers for the given event types and returns a subscription ID
// and receive channel. No types subscribes to everything.
func (b *MemoryBus) Subscribe(ctx context.Context, types ...protocol.EventType) (SubscriptionID, <-chan protocol.Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	sub := new(subscriber)
	sub.ctx = ctx
	sub.cancel = cancel
	sub.ch = make(chan protocol.Event, b.cfg.BufferSize)

	id := SubscriptionID(uuid.NewString())

	keys := types
	if len(keys) == 0 {
		keys = []protocol.EventType{wildcard}
	}

	b.mu.Lock()
	for _, typ := range keys {
		if _, ok := b.subscribers[typ]; !ok {
			b.subscribers[typ] = make(map[SubscriptionID]*subscriber)
		}
		b.subscribers[typ][id] = sub
	}
	b.mu.Unlock()

	go b.observe(id, sub)
	return id, sub.ch, nil
}

// Unsubscribe removes the subscription and closes its channel.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	if id == "" {
		return
	}
	var found *subscriber
	b.mu.Lock()
	for typ, subs := range b.subscribers {
		if sub, ok := subs[id]; ok {
			found = sub
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, typ)
			}
		}
	}
	b.mu.Unlock()
	if found != nil {
		found.close()
	}
}

// Close shuts down the bus and all subscriptions.
func (b *MemoryBus) Close() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		for typ, subs := range b.subscribers {
			for id, sub := range subs {
				if sub != nil {
					sub.close()
				}
				delete(subs, id)
			}
			delete(b.subscribers, typ)
		}
		b.mu.Unlock()
	})
}

func (b *MemoryBus) observe(id SubscriptionID, sub *subscriber) {
	<-sub.ctx.Done()
	b.mu.Lock()
	for typ, subs := range b.subscribers {
		if stored, ok := subs[id]; ok && stored == sub {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, typ)
			}
		}
	}
	b.mu.Unlock()
	sub.close()
}

func (b *MemoryBus) deliver(ctx context.Context, sub *subscriber, evt protocol.Event) error {
	if err := sub.ctx.Err(); err != nil {
		return fmt.Errorf("subscriber context: %w", err)
	}
	select {
	case <-b.ctx.Done():
		return errs.New("eventbus/publish", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	case <-ctx.Done():
		return fmt.Errorf("deliver context: %w", ctx.Err())
	case <-sub.ctx.Done():
		return nil
	case sub.ch <- evt:
		return nil
	default:
		return errs.New("eventbus/publish", errs.CodeUnavailable, errs.WithMessage("subscriber buffer full"))
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.cancel()
		close(s.ch)
	})
}
