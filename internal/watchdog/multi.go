package watchdog

import (
	"context"
	"errors"
)

// Multi arms every scheduler it wraps.
type Multi []Scheduler

func (m Multi) Arm(ctx context.Context, d Deadline) error {
	var errs []error
	for _, s := range m {
		if err := s.Arm(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Disarm(orderID string, kind Kind) {
	for _, s := range m {
		s.Disarm(orderID, kind)
	}
}
