package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/live"
	"github.com/imrishuroy/foodie-orderflow/internal/logger"
	"github.com/imrishuroy/foodie-orderflow/internal/metrics"
	"github.com/imrishuroy/foodie-orderflow/internal/orders"
	"github.com/imrishuroy/foodie-orderflow/internal/watchdog"
)

const (
	MinWaitingTimeMinutes = 1
	MaxWaitingTimeMinutes = 180
	MaxReasonLength       = 280

	targetIndex    = "index"
	targetLive     = "live"
	targetFoodItem = "food_item"
)

// OrderStore is the durable side of the dual write. *orders.Store implements it.
type OrderStore interface {
	CreateOrder(ctx context.Context, order orders.Order, idempotencyKey string) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, expected orders.Status, patch orders.Patch) (*orders.Order, error)
	SetRating(ctx context.Context, orderID string, rating int, at time.Time) (*orders.Order, error)
	UpdateIndexEntry(ctx context.Context, buyerID, entryID string, patch orders.IndexPatch) error
	ListForBuyer(ctx context.Context, buyerID string, q orders.ListQuery) (orders.Page[orders.IndexEntry], error)
	ListForSeller(ctx context.Context, sellerID string, q orders.ListQuery) (orders.Page[orders.Order], error)
}

// Actor is whoever drives a transition.
type Actor struct {
	UserID string
	Role   orders.Role
}

// System is the actor watchdogs act as.
var System = Actor{UserID: "system", Role: orders.RoleSystem}

// Windows are the response windows the watchdogs enforce.
type Windows struct {
	Seller time.Duration
	Foodie time.Duration
}

// DefaultWindow is how long each party has to respond.
const DefaultWindow = 60 * time.Second

// Payload carries action-specific input.
type Payload struct {
	WaitingTimeMinutes int
	CancellationReason string
}

// Request asks for one transition. An empty Expected is derived: the action's only
// source state, or for cancel the status currently stored.
type Request struct {
	OrderID  string
	Expected orders.Status
	Action   orders.Action
	Actor    Actor
	Payload  Payload
}

// Result is what a successful transition produced.
type Result struct {
	Status             orders.Status `json:"status"`
	WaitingTimeMinutes int           `json:"waiting_time_minutes,omitempty"`
	Token              string        `json:"token,omitempty"`
	Order              *orders.Order `json:"order"`
}

// Coordinator applies guarded transitions and mirrors them to the buyer index and
// the live channel. The conditional write on the order is the only arbitration
// point; there are no locks.
type Coordinator struct {
	store    OrderStore
	live     live.Channel
	sched    watchdog.Scheduler
	metrics  metrics.Recorder
	windows  Windows
	nowFunc  func() time.Time
	newToken func() string
}

// NewCoordinator wires a Coordinator. Zero windows default to DefaultWindow and a
// nil recorder counts nothing.
func NewCoordinator(store OrderStore, ch live.Channel, sched watchdog.Scheduler, rec metrics.Recorder, windows Windows) *Coordinator {
	if windows.Seller <= 0 {
		windows.Seller = DefaultWindow
	}
	if windows.Foodie <= 0 {
		windows.Foodie = DefaultWindow
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Coordinator{
		store:    store,
		live:     ch,
		sched:    sched,
		metrics:  rec,
		windows:  windows,
		nowFunc:  time.Now,
		newToken: NewToken,
	}
}

// Transition moves an order along one edge of the state machine.
func (c *Coordinator) Transition(ctx context.Context, req Request) (*Result, error) {
	role := orders.RoleFor(req.Action)
	if role == "" {
		return nil, c.invalid(ctx, req, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, req.Action))
	}
	if req.Actor.Role != role {
		return nil, fmt.Errorf("%w: %s may not %s", ErrForbidden, req.Actor.Role, req.Action)
	}
	if req.Expected != "" {
		if _, err := orders.Next(req.Expected, req.Action); err != nil {
			return nil, c.invalid(ctx, req, err)
		}
	}
	if err := validatePayload(req); err != nil {
		return nil, err
	}

	current, err := c.store.Get(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("read order: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, req.OrderID)
	}
	if !isParty(req.Actor, current) {
		return nil, fmt.Errorf("%w: %s is not a party to order %s", ErrForbidden, req.Actor.UserID, req.OrderID)
	}

	expected := req.Expected
	if expected == "" {
		expected = deriveExpected(req.Action, current.Status)
	}
	to, err := orders.Next(expected, req.Action)
	if err != nil {
		return nil, c.invalid(ctx, req, err)
	}
	if current.Status != expected {
		return nil, c.stale(ctx, req, expected, current.Status)
	}

	now := c.nowFunc()
	updated, err := c.store.UpdateStatus(ctx, req.OrderID, expected, c.patchFor(req, to, now))
	if errors.Is(err, orders.ErrStatusMismatch) {
		found := orders.Status("")
		if o, gerr := c.store.Get(ctx, req.OrderID); gerr == nil && o != nil {
			found = o.Status
		}
		return nil, c.stale(ctx, req, expected, found)
	}
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	c.mirror(ctx, updated, orders.IndexPatch{Status: updated.Status, UpdatedAt: updated.UpdatedAt})
	if req.Action == orders.ActionDecline {
		if err := c.live.Remove(ctx, updated.OrderID); err != nil {
			c.partial(ctx, targetLive, updated.OrderID, err)
		}
	}
	c.reschedule(ctx, expected, updated)

	c.metrics.Transition(ctx, req.Action, to)
	logger.FromCtx(ctx).Info("order transition",
		zap.String("order_id", updated.OrderID),
		zap.String("action", string(req.Action)),
		zap.String("from", string(expected)),
		zap.String("to", string(to)),
		zap.String("actor", req.Actor.UserID))

	return &Result{
		Status:             updated.Status,
		WaitingTimeMinutes: updated.WaitingTimeMinutes,
		Token:              updated.Token,
		Order:              updated,
	}, nil
}

func validatePayload(req Request) error {
	switch req.Action {
	case orders.ActionAccept:
		w := req.Payload.WaitingTimeMinutes
		if w < MinWaitingTimeMinutes || w > MaxWaitingTimeMinutes {
			return invalidInput("waiting_time_minutes must be between %d and %d", MinWaitingTimeMinutes, MaxWaitingTimeMinutes)
		}
	case orders.ActionCancel:
		if len(req.Payload.CancellationReason) > MaxReasonLength {
			return invalidInput("reason must be at most %d characters", MaxReasonLength)
		}
	}
	return nil
}

func isParty(a Actor, o *orders.Order) bool {
	switch a.Role {
	case orders.RoleSystem:
		return true
	case orders.RoleSeller:
		return a.UserID == o.SellerID
	case orders.RoleFoodie:
		return a.UserID == o.BuyerID
	}
	return false
}

func deriveExpected(action orders.Action, stored orders.Status) orders.Status {
	if sources := orders.Sources(action); len(sources) == 1 {
		return sources[0]
	}
	return stored
}

func (c *Coordinator) patchFor(req Request, to orders.Status, now time.Time) orders.Patch {
	p := orders.Patch{Status: to, UpdatedAt: now}
	switch req.Action {
	case orders.ActionAccept:
		w := req.Payload.WaitingTimeMinutes
		p.AcceptedAt = &now
		p.WaitingTimeMinutes = &w
	case orders.ActionAgree:
		token := c.newToken()
		p.Token = &token
	case orders.ActionComplete:
		p.CompletedAt = &now
	case orders.ActionCancel:
		reason := req.Payload.CancellationReason
		p.CancelledAt = &now
		p.CancellationReason = &reason
		p.ClearToken = true
	}
	return p
}

func (c *Coordinator) stale(ctx context.Context, req Request, expected, found orders.Status) error {
	c.metrics.StaleTransition(ctx, req.Action)
	return &StaleTransitionError{OrderID: req.OrderID, Expected: expected, Current: found}
}

func (c *Coordinator) invalid(ctx context.Context, req Request, err error) error {
	logger.FromCtx(ctx).Warn("invalid transition",
		zap.String("order_id", req.OrderID),
		zap.String("action", string(req.Action)),
		zap.String("actor", req.Actor.UserID),
		zap.Error(err))
	return err
}

// mirror writes the index entry and then the live record. Failures are not rolled
// back or retried.
func (c *Coordinator) mirror(ctx context.Context, o *orders.Order, patch orders.IndexPatch) {
	if err := c.store.UpdateIndexEntry(ctx, o.BuyerID, o.IndexEntryID, patch); err != nil {
		c.partial(ctx, targetIndex, o.OrderID, err)
	}
	if err := c.live.Publish(ctx, live.FromOrder(*o)); err != nil {
		c.partial(ctx, targetLive, o.OrderID, err)
	}
}

func (c *Coordinator) partial(ctx context.Context, target, orderID string, err error) {
	pw := &PartialWriteError{Target: target, OrderID: orderID, Err: err}
	c.metrics.PartialWrite(ctx, target)
	logger.FromCtx(ctx).Warn("partial write", zap.String("target", target), zap.String("order_id", orderID), zap.Error(pw))
}

func (c *Coordinator) reschedule(ctx context.Context, from orders.Status, o *orders.Order) {
	switch from {
	case watchdog.KindSeller.Guards():
		c.sched.Disarm(o.OrderID, watchdog.KindSeller)
	case watchdog.KindFoodie.Guards():
		c.sched.Disarm(o.OrderID, watchdog.KindFoodie)
	}
	if o.Status == watchdog.KindFoodie.Guards() && o.AcceptedAt != nil {
		c.arm(ctx, watchdog.Deadline{OrderID: o.OrderID, Kind: watchdog.KindFoodie, StartedAt: *o.AcceptedAt, Window: c.windows.Foodie})
	}
}

func (c *Coordinator) arm(ctx context.Context, d watchdog.Deadline) {
	if err := c.sched.Arm(ctx, d); err != nil {
		logger.FromCtx(ctx).Error("arm watchdog failed",
			zap.String("order_id", d.OrderID),
			zap.String("kind", string(d.Kind)),
			zap.Error(err))
	}
}
