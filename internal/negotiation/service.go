package negotiation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/catalog"
	"github.com/imrishuroy/foodie-orderflow/internal/live"
	"github.com/imrishuroy/foodie-orderflow/internal/logger"
	"github.com/imrishuroy/foodie-orderflow/internal/orders"
	"github.com/imrishuroy/foodie-orderflow/internal/watchdog"
)

// Catalog resolves what is being ordered and keeps item ratings. *catalog.Store
// implements it.
type Catalog interface {
	Lookup(ctx context.Context, foodItemID string) (*catalog.Listing, error)
	ApplyRating(ctx context.Context, foodItemID string, rating int) error
}

// Service exposes the client operations of the negotiation.
type Service struct {
	*Coordinator
	catalog Catalog
}

// NewService returns a Service on top of c.
func NewService(c *Coordinator, cat Catalog) *Service {
	return &Service{Coordinator: c, catalog: cat}
}

// PlaceOrderInput is what a foodie submits.
type PlaceOrderInput struct {
	FoodItemID     string
	Quantity       int
	IdempotencyKey string
}

// PlaceOrder creates an order in created, publishes its live record and arms the
// seller watchdog. A reused idempotency key returns ErrDuplicateRequest.
func (s *Service) PlaceOrder(ctx context.Context, actor Actor, in PlaceOrderInput) (*orders.Order, error) {
	if actor.Role != orders.RoleFoodie {
		return nil, fmt.Errorf("%w: only foodies place orders", ErrForbidden)
	}
	if in.FoodItemID == "" {
		return nil, invalidInput("food_item_id is required")
	}
	if in.Quantity < orders.MinQuantity || in.Quantity > orders.MaxQuantity {
		return nil, invalidInput("quantity must be between %d and %d", orders.MinQuantity, orders.MaxQuantity)
	}

	listing, err := s.catalog.Lookup(ctx, in.FoodItemID)
	if err != nil {
		return nil, err
	}
	if !listing.Available {
		return nil, fmt.Errorf("%w: %s", ErrFoodItemUnavailable, in.FoodItemID)
	}

	now := s.nowFunc()
	order := orders.Order{
		OrderID:      orders.NewID(),
		IndexEntryID: orders.NewID(),
		BuyerID:      actor.UserID,
		SellerID:     listing.SellerID,
		FoodItemID:   listing.FoodItemID,
		ItemName:     listing.Name,
		StallName:    listing.StallName,
		Quantity:     in.Quantity,
		UnitPrice:    listing.Price,
		TotalCost:    math.Round(listing.Price*float64(in.Quantity)*100) / 100,
		Status:       orders.StatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateOrder(ctx, order, in.IdempotencyKey); err != nil {
		if errors.Is(err, orders.ErrDuplicateKey) {
			return nil, ErrDuplicateRequest
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.live.Publish(ctx, live.FromOrder(order)); err != nil {
		s.partial(ctx, targetLive, order.OrderID, err)
	}
	s.arm(ctx, watchdog.Deadline{OrderID: order.OrderID, Kind: watchdog.KindSeller, StartedAt: order.CreatedAt, Window: s.windows.Seller})

	s.metrics.OrderPlaced(ctx)
	logger.FromCtx(ctx).Info("order placed",
		zap.String("order_id", order.OrderID),
		zap.String("buyer_id", order.BuyerID),
		zap.String("seller_id", order.SellerID),
		zap.Int("quantity", order.Quantity))
	return &order, nil
}

// SellerAccept accepts with a promised waiting time and starts the foodie's window.
func (s *Service) SellerAccept(ctx context.Context, actor Actor, orderID string, waitingTimeMinutes int) (*Result, error) {
	return s.Transition(ctx, Request{OrderID: orderID, Action: orders.ActionAccept, Actor: actor,
		Payload: Payload{WaitingTimeMinutes: waitingTimeMinutes}})
}

func (s *Service) SellerReject(ctx context.Context, actor Actor, orderID string) (*Result, error) {
	return s.Transition(ctx, Request{OrderID: orderID, Action: orders.ActionReject, Actor: actor})
}

// BuyerAgree agrees to the waiting time; the result carries the pickup token.
func (s *Service) BuyerAgree(ctx context.Context, actor Actor, orderID string) (*Result, error) {
	return s.Transition(ctx, Request{OrderID: orderID, Action: orders.ActionAgree, Actor: actor})
}

func (s *Service) BuyerDecline(ctx context.Context, actor Actor, orderID string) (*Result, error) {
	return s.Transition(ctx, Request{OrderID: orderID, Action: orders.ActionDecline, Actor: actor})
}

func (s *Service) SellerStartCooking(ctx context.Context, actor Actor, orderID string) (*Result, error) {
	return s.Transition(ctx, Request{OrderID: orderID, Action: orders.ActionStartCooking, Actor: actor})
}

func (s *Service) SellerCompleteOrder(ctx context.Context, actor Actor, orderID string) (*Result, error) {
	return s.Transition(ctx, Request{OrderID: orderID, Action: orders.ActionComplete, Actor: actor})
}

// BuyerCancelOrder cancels from foodie-agreed or cooking and clears the token.
func (s *Service) BuyerCancelOrder(ctx context.Context, actor Actor, orderID, reason string) (*Result, error) {
	return s.Transition(ctx, Request{OrderID: orderID, Action: orders.ActionCancel, Actor: actor,
		Payload: Payload{CancellationReason: reason}})
}

// RateOrder records the buyer's rating once, on a completed order, and folds it
// into the food item's aggregate.
func (s *Service) RateOrder(ctx context.Context, actor Actor, orderID string, rating int) (*orders.Order, error) {
	if actor.Role != orders.RoleFoodie {
		return nil, fmt.Errorf("%w: only foodies rate orders", ErrForbidden)
	}
	if rating < orders.MinRating || rating > orders.MaxRating {
		return nil, invalidInput("rating must be between %d and %d", orders.MinRating, orders.MaxRating)
	}
	current, err := s.readAsParty(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if err := ratable(current); err != nil {
		return nil, err
	}

	updated, err := s.store.SetRating(ctx, orderID, rating, s.nowFunc())
	if errors.Is(err, orders.ErrStatusMismatch) {
		o, gerr := s.store.Get(ctx, orderID)
		if gerr != nil {
			return nil, fmt.Errorf("read order: %w", gerr)
		}
		if o == nil {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if err := ratable(o); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyRated
	}
	if err != nil {
		return nil, fmt.Errorf("set rating: %w", err)
	}

	s.mirror(ctx, updated, orders.IndexPatch{Status: updated.Status, UpdatedAt: updated.UpdatedAt, Rating: &rating})
	if err := s.catalog.ApplyRating(ctx, updated.FoodItemID, rating); err != nil {
		s.partial(ctx, targetFoodItem, updated.OrderID, err)
	}
	logger.FromCtx(ctx).Info("order rated", zap.String("order_id", orderID), zap.Int("rating", rating))
	return updated, nil
}

func ratable(o *orders.Order) error {
	if o.Status != orders.StatusCompleted {
		return fmt.Errorf("%w: order is %s", ErrNotRatable, o.Status)
	}
	if o.Rating != 0 {
		return ErrAlreadyRated
	}
	return nil
}

// Expire fires a watchdog's timeout. Finding the order already moved on is the
// normal outcome of a lost race and is not an error.
func (s *Service) Expire(ctx context.Context, orderID string, kind watchdog.Kind) error {
	_, err := s.Transition(ctx, Request{OrderID: orderID, Expected: kind.Guards(), Action: kind.Action(), Actor: System})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleTransition):
		logger.FromCtx(ctx).Debug("watchdog found order already moved on",
			zap.String("order_id", orderID), zap.String("kind", string(kind)), zap.Error(err))
		return nil
	case errors.Is(err, ErrOrderNotFound):
		logger.FromCtx(ctx).Warn("watchdog fired for unknown order", zap.String("order_id", orderID))
		return nil
	}
	return err
}

// GetOrder reads the durable order for one of its parties.
func (s *Service) GetOrder(ctx context.Context, actor Actor, orderID string) (*orders.Order, error) {
	return s.readAsParty(ctx, actor, orderID)
}

// Actions lists what actor may do next, with the order it was computed from.
func (s *Service) Actions(ctx context.Context, actor Actor, orderID string) ([]orders.Action, *orders.Order, error) {
	o, err := s.readAsParty(ctx, actor, orderID)
	if err != nil {
		return nil, nil, err
	}
	return orders.ActionsFor(o.Status, actor.Role), o, nil
}

// Watch subscribes a party to an order's live events and returns the current live
// record, which may be nil once it has been removed or expired.
func (s *Service) Watch(ctx context.Context, actor Actor, orderID string, fn func(live.Event)) (*live.Record, func(), error) {
	if _, err := s.readAsParty(ctx, actor, orderID); err != nil {
		return nil, nil, err
	}
	unsub := s.live.Subscribe(orderID, fn)
	rec, err := s.live.Get(ctx, orderID)
	if err != nil {
		unsub()
		return nil, nil, fmt.Errorf("read live record: %w", err)
	}
	return rec, unsub, nil
}

// ActiveStatuses are the states listed on a buyer's current orders.
func ActiveStatuses() []orders.Status {
	var out []orders.Status
	for _, st := range orders.AllStatuses() {
		if !st.Terminal() {
			out = append(out, st)
		}
	}
	return out
}

// BuyerOrders lists the buyer's orders that are still in progress.
func (s *Service) BuyerOrders(ctx context.Context, actor Actor, after string, limit int) (orders.Page[orders.IndexEntry], error) {
	if actor.Role != orders.RoleFoodie {
		return orders.Page[orders.IndexEntry]{}, ErrForbidden
	}
	return s.store.ListForBuyer(ctx, actor.UserID, orders.ListQuery{Statuses: ActiveStatuses(), After: after, Limit: limit})
}

// OrderHistory lists completed and cancelled orders, newest first, a page at a time.
func (s *Service) OrderHistory(ctx context.Context, actor Actor, after string) (orders.Page[orders.IndexEntry], error) {
	if actor.Role != orders.RoleFoodie {
		return orders.Page[orders.IndexEntry]{}, ErrForbidden
	}
	return s.store.ListForBuyer(ctx, actor.UserID, orders.ListQuery{Statuses: orders.HistoryStatuses(), After: after, Limit: orders.DefaultPageSize})
}

// SellerOrders lists orders placed with the seller, optionally filtered by status.
func (s *Service) SellerOrders(ctx context.Context, actor Actor, statuses []orders.Status, after string, limit int) (orders.Page[orders.Order], error) {
	if actor.Role != orders.RoleSeller {
		return orders.Page[orders.Order]{}, ErrForbidden
	}
	for _, st := range statuses {
		if !st.Valid() {
			return orders.Page[orders.Order]{}, invalidInput("unknown status %q", st)
		}
	}
	return s.store.ListForSeller(ctx, actor.UserID, orders.ListQuery{Statuses: statuses, After: after, Limit: limit})
}

func (s *Service) readAsParty(ctx context.Context, actor Actor, orderID string) (*orders.Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("read order: %w", err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if actor.Role == orders.RoleSystem || !isParty(actor, o) {
		return nil, fmt.Errorf("%w: %s is not a party to order %s", ErrForbidden, actor.UserID, orderID)
	}
	return o, nil
}
