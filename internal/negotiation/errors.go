package negotiation

import (
	"errors"
	"fmt"

	"github.com/imrishuroy/foodie-orderflow/internal/catalog"
	"github.com/imrishuroy/foodie-orderflow/internal/orders"
)

var (
	// ErrStaleTransition means the order was no longer in the expected status.
	ErrStaleTransition = errors.New("stale transition")
	ErrOrderNotFound   = errors.New("order not found")
	// ErrInvalidTransition means the state machine has no such edge.
	ErrInvalidTransition = orders.ErrInvalidTransition
	// ErrForbidden covers both a wrong role and a caller who is not a party to the order.
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrFoodItemNotFound    = catalog.ErrFoodItemNotFound
	ErrFoodItemUnavailable = errors.New("food item unavailable")
	ErrAlreadyRated        = errors.New("order already rated")
	ErrNotRatable          = errors.New("order is not ratable")
	ErrDuplicateRequest    = errors.New("duplicate request")
)

// StaleTransitionError carries the status the order was actually found in, so
// clients can resync.
type StaleTransitionError struct {
	OrderID  string
	Expected orders.Status
	Current  orders.Status
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("stale transition on order %s: expected %s, found %s", e.OrderID, e.Expected, e.Current)
}

func (e *StaleTransitionError) Unwrap() error { return ErrStaleTransition }

// PartialWriteError records a mirror write that failed after the order itself was
// updated. It is logged and counted, never returned to callers.
type PartialWriteError struct {
	Target  string
	OrderID string
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write to %s for order %s: %v", e.Target, e.OrderID, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
