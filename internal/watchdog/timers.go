package watchdog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/live"
	"github.com/imrishuroy/foodie-orderflow/internal/logger"
)

const defaultFireTimeout = 10 * time.Second

type timerKey struct {
	orderID string
	kind    Kind
}

type timerEntry struct {
	gen   uint64
	timer *time.Timer
	unsub func()
}

// Timers runs watchdogs in process with time.AfterFunc. When given a live
// Subscriber it disarms as soon as the order leaves the guarded status, without
// waiting for the timer.
type Timers struct {
	mu          sync.Mutex
	entries     map[timerKey]*timerEntry
	gen         uint64
	expire      ExpireFunc
	sub         live.Subscriber
	nowFunc     func() time.Time
	fireTimeout time.Duration
}

// NewTimers returns Timers. sub may be nil.
func NewTimers(sub live.Subscriber) *Timers {
	return &Timers{
		entries:     map[timerKey]*timerEntry{},
		sub:         sub,
		nowFunc:     time.Now,
		fireTimeout: defaultFireTimeout,
	}
}

// OnExpire sets what runs when a timer fires. It must be set before Arm.
func (t *Timers) OnExpire(fn ExpireFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expire = fn
}

// Arm replaces any watchdog for the same order and kind.
func (t *Timers) Arm(_ context.Context, d Deadline) error {
	k := timerKey{d.OrderID, d.Kind}
	remaining := d.Remaining(t.nowFunc())

	t.mu.Lock()
	t.stopLocked(k)
	t.gen++
	gen := t.gen
	e := &timerEntry{gen: gen}
	t.entries[k] = e
	e.timer = time.AfterFunc(remaining, func() { t.fire(k, gen) })
	t.mu.Unlock()

	if t.sub != nil {
		guarded := d.Kind.Guards()
		unsub := t.sub.Subscribe(d.OrderID, func(ev live.Event) {
			if ev.Type == live.EventRemoved || ev.Record.Status != guarded {
				t.disarmGen(k, gen)
			}
		})
		t.mu.Lock()
		if cur, ok := t.entries[k]; ok && cur.gen == gen {
			cur.unsub = unsub
			unsub = nil
		}
		t.mu.Unlock()
		if unsub != nil {
			// fired or disarmed while subscribing
			unsub()
		}
	}
	return nil
}

func (t *Timers) Disarm(orderID string, kind Kind) {
	t.mu.Lock()
	unsub := t.stopLocked(timerKey{orderID, kind})
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Armed reports whether a watchdog is pending for the order and kind.
func (t *Timers) Armed(orderID string, kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[timerKey{orderID, kind}]
	return ok
}

// Len reports how many watchdogs are pending.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stop disarms everything.
func (t *Timers) Stop() {
	t.mu.Lock()
	var unsubs []func()
	for k := range t.entries {
		if u := t.stopLocked(k); u != nil {
			unsubs = append(unsubs, u)
		}
	}
	t.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (t *Timers) disarmGen(k timerKey, gen uint64) {
	t.mu.Lock()
	var unsub func()
	if e, ok := t.entries[k]; ok && e.gen == gen {
		unsub = t.stopLocked(k)
	}
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// stopLocked removes the entry and returns its unsubscribe func, which must be
// called without t.mu held.
func (t *Timers) stopLocked(k timerKey) func() {
	e, ok := t.entries[k]
	if !ok {
		return nil
	}
	delete(t.entries, k)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e.unsub
}

func (t *Timers) fire(k timerKey, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[k]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, k)
	expire := t.expire
	t.mu.Unlock()
	if e.unsub != nil {
		e.unsub()
	}
	if expire == nil {
		logger.L().Warn("watchdog fired with no expire hook", zap.String("order_id", k.orderID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.fireTimeout)
	defer cancel()
	if err := expire(ctx, k.orderID, k.kind); err != nil {
		logger.L().Error("watchdog expire failed",
			zap.String("order_id", k.orderID),
			zap.String("kind", string(k.kind)),
			zap.Error(err))
	}
}
