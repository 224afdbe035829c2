// Package watchdog bounds how long an order may sit waiting for the seller or the
// foodie. Schedulers only decide when to fire; the guarded transition in the
// negotiation coordinator decides whether firing still matters.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/imrishuroy/foodie-orderflow/internal/orders"
)

// Kind names which party a watchdog is waiting on.
type Kind string

const (
	KindSeller Kind = "seller"
	KindFoodie Kind = "foodie"
)

// ParseKind validates s.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSeller, KindFoodie:
		return k, nil
	}
	return "", fmt.Errorf("unknown watchdog kind %q", s)
}

// Guards is the status the watchdog protects.
func (k Kind) Guards() orders.Status {
	if k == KindSeller {
		return orders.StatusCreated
	}
	return orders.StatusAccepted
}

// Action is the timeout transition the watchdog fires.
func (k Kind) Action() orders.Action {
	if k == KindSeller {
		return orders.ActionSellerTimeout
	}
	return orders.ActionFoodieTimeout
}

// Remaining is how much of window is left at now for a wait that began at
// startedAt. It never goes negative.
func Remaining(now, startedAt time.Time, window time.Duration) time.Duration {
	left := window - now.Sub(startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Deadline describes one armed wait. StartedAt is the persisted timestamp the wait
// is measured from, so a restarted process arms with the time actually left.
type Deadline struct {
	OrderID   string        `json:"order_id"`
	Kind      Kind          `json:"kind"`
	StartedAt time.Time     `json:"started_at"`
	Window    time.Duration `json:"window"`
}

// DueAt is when the deadline expires.
func (d Deadline) DueAt() time.Time {
	return d.StartedAt.Add(d.Window)
}

// Remaining is the time left at now.
func (d Deadline) Remaining(now time.Time) time.Duration {
	return Remaining(now, d.StartedAt, d.Window)
}

// Scheduler arms and disarms watchdogs.
type Scheduler interface {
	Arm(ctx context.Context, d Deadline) error
	Disarm(orderID string, kind Kind)
}

// ExpireFunc fires the timeout transition for one order.
type ExpireFunc func(ctx context.Context, orderID string, kind Kind) error
