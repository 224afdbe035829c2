package live

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/logger"
)

// Store is durable storage for live records.
type Store interface {
	Put(ctx context.Context, r Record) error
	Delete(ctx context.Context, orderID string) error
	Get(ctx context.Context, orderID string) (*Record, error)
}

// Broadcaster carries events between service instances.
type Broadcaster interface {
	Broadcast(ctx context.Context, key string, body []byte) error
	Listen(ctx context.Context, fn func(key string, body []byte)) error
}

// Fanout is the Channel used in deployments: records are stored in a Store and
// events reach subscribers on every instance through a Broadcaster. Without a
// Broadcaster events are delivered to this instance only.
type Fanout struct {
	store Store
	bus   Broadcaster
	hub   *Hub
}

// NewFanout wires a Fanout. bus may be nil.
func NewFanout(store Store, bus Broadcaster) *Fanout {
	return &Fanout{store: store, bus: bus, hub: NewHub()}
}

func (f *Fanout) Publish(ctx context.Context, r Record) error {
	if err := f.store.Put(ctx, r); err != nil {
		return err
	}
	return f.emit(ctx, Event{Type: EventUpsert, Record: r})
}

func (f *Fanout) Remove(ctx context.Context, orderID string) error {
	r, err := f.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := f.store.Delete(ctx, orderID); err != nil {
		return err
	}
	if r == nil {
		r = &Record{OrderID: orderID}
	}
	return f.emit(ctx, Event{Type: EventRemoved, Record: *r})
}

func (f *Fanout) Get(ctx context.Context, orderID string) (*Record, error) {
	return f.store.Get(ctx, orderID)
}

func (f *Fanout) Subscribe(orderID string, fn func(Event)) func() {
	return f.hub.Subscribe(orderID, fn)
}

// Run relays broadcast events to local subscribers until ctx is done. It is a
// no-op without a Broadcaster.
func (f *Fanout) Run(ctx context.Context) error {
	if f.bus == nil {
		<-ctx.Done()
		return nil
	}
	return f.bus.Listen(ctx, func(key string, body []byte) {
		var e Event
		if err := json.Unmarshal(body, &e); err != nil {
			logger.L().Warn("drop malformed live event", zap.String("routing_key", key), zap.Error(err))
			return
		}
		f.hub.Deliver(e)
	})
}

func (f *Fanout) emit(ctx context.Context, e Event) error {
	if f.bus == nil {
		f.hub.Deliver(e)
		return nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal live event: %w", err)
	}
	if err := f.bus.Broadcast(ctx, RoutingKey(e.Record.OrderID), body); err != nil {
		return fmt.Errorf("broadcast live event: %w", err)
	}
	return nil
}

// RoutingKey is the topic key events for orderID are published under.
func RoutingKey(orderID string) string {
	return "order." + orderID
}
