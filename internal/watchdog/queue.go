package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Sender sends a message that becomes visible after delay. *aws.Publisher
// implements it.
type Sender interface {
	SendDelayed(ctx context.Context, body string, delay time.Duration, attributes map[string]string) error
}

// Queue is the server-side scheduler: each Arm sends a delayed SQS message that the
// timeout worker turns into an Expire call. Sent messages cannot be withdrawn, so
// Disarm does nothing and the guarded transition makes late deliveries no-ops.
type Queue struct {
	sender  Sender
	nowFunc func() time.Time
}

// NewQueue returns a Queue sending through sender.
func NewQueue(sender Sender) *Queue {
	return &Queue{sender: sender, nowFunc: time.Now}
}

func (q *Queue) Arm(ctx context.Context, d Deadline) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deadline: %w", err)
	}
	attrs := map[string]string{"kind": string(d.Kind), "order_id": d.OrderID}
	if err := q.sender.SendDelayed(ctx, string(body), d.Remaining(q.nowFunc()), attrs); err != nil {
		return fmt.Errorf("schedule %s timeout for %s: %w", d.Kind, d.OrderID, err)
	}
	return nil
}

func (q *Queue) Disarm(string, Kind) {}

// DecodeDeadline parses a message body produced by Queue.Arm.
func DecodeDeadline(body string) (Deadline, error) {
	var d Deadline
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return Deadline{}, fmt.Errorf("decode deadline: %w", err)
	}
	if d.OrderID == "" {
		return Deadline{}, fmt.Errorf("decode deadline: missing order_id")
	}
	if _, err := ParseKind(string(d.Kind)); err != nil {
		return Deadline{}, fmt.Errorf("decode deadline: %w", err)
	}
	return d, nil
}
