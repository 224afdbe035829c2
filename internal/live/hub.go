package live

import (
	"context"
	"sync"
	"time"
)

// Hub is an in-process Channel. It is also the delivery point that Fanout uses
// for subscribers connected to this instance.
type Hub struct {
	mu      sync.RWMutex
	records map[string]Record
	subs    map[string]map[uint64]func(Event)
	nextID  uint64
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewHub returns an empty Hub whose records never expire.
func NewHub() *Hub {
	return NewExpiringHub(0)
}

// NewExpiringHub returns a Hub that forgets a record ttl after its last publish,
// the way Table's expires_at does. Expired records are swept on publish.
func NewExpiringHub(ttl time.Duration) *Hub {
	return &Hub{
		records: map[string]Record{},
		subs:    map[string]map[uint64]func(Event){},
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func (h *Hub) Publish(_ context.Context, r Record) error {
	h.mu.Lock()
	if h.ttl > 0 {
		now := h.nowFunc()
		r.ExpiresAt = now.Add(h.ttl).Unix()
		h.sweepLocked(now)
	}
	h.records[r.OrderID] = r
	h.mu.Unlock()
	h.Deliver(Event{Type: EventUpsert, Record: r})
	return nil
}

func (h *Hub) Remove(_ context.Context, orderID string) error {
	h.mu.Lock()
	r, ok := h.records[orderID]
	delete(h.records, orderID)
	h.mu.Unlock()
	if !ok {
		r = Record{OrderID: orderID}
	}
	h.Deliver(Event{Type: EventRemoved, Record: r})
	return nil
}

// Get returns (nil, nil) when no record exists.
func (h *Hub) Get(_ context.Context, orderID string) (*Record, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.records[orderID]
	if !ok || h.expired(r, h.nowFunc()) {
		return nil, nil
	}
	return &r, nil
}

// Len reports how many records are held, expired or not.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

func (h *Hub) expired(r Record, now time.Time) bool {
	return r.ExpiresAt > 0 && r.ExpiresAt < now.Unix()
}

func (h *Hub) sweepLocked(now time.Time) {
	for id, r := range h.records {
		if h.expired(r, now) {
			delete(h.records, id)
		}
	}
}

func (h *Hub) Subscribe(orderID string, fn func(Event)) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[orderID] == nil {
		h.subs[orderID] = map[uint64]func(Event){}
	}
	h.subs[orderID][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[orderID], id)
			if len(h.subs[orderID]) == 0 {
				delete(h.subs, orderID)
			}
		})
	}
}

// Deliver notifies the order's subscribers without storing anything. Callbacks run
// on the caller's goroutine, outside the lock, so they may unsubscribe.
func (h *Hub) Deliver(e Event) {
	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.subs[e.Record.OrderID]))
	for _, fn := range h.subs[e.Record.OrderID] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// Subscribers reports how many callbacks are registered for orderID.
func (h *Hub) Subscribers(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[orderID])
}
