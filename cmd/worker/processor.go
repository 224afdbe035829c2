package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/logger"
	"github.com/imrishuroy/foodie-orderflow/internal/watchdog"
)

// Expirer fires a watchdog timeout. *negotiation.Service implements it.
type Expirer interface {
	Expire(ctx context.Context, orderID string, kind watchdog.Kind) error
}

// Processor turns delayed timeout messages into guarded timeout transitions.
type Processor struct {
	expirer Expirer
	// rearm re-sends deadlines that are not yet due; SQS delays cap at 15 minutes.
	rearm   watchdog.Scheduler
	nowFunc func() time.Time
}

// NewProcessor creates a new worker processor.
func NewProcessor(expirer Expirer, rearm watchdog.Scheduler) *Processor {
	return &Processor{expirer: expirer, rearm: rearm, nowFunc: time.Now}
}

// Handle processes an SQS batch. Failed messages are reported individually so
// only they are redelivered; after too many attempts they go to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			logger.FromCtx(ctx).Error("timeout message failed",
				zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	d, err := watchdog.DecodeDeadline(rec.Body)
	if err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	log := logger.FromCtx(ctx).With(zap.String("order_id", d.OrderID), zap.String("kind", string(d.Kind)))

	if left := d.Remaining(p.nowFunc()); left > 0 {
		log.Debug("deadline not due, re-arming", zap.Duration("remaining", left))
		if err := p.rearm.Arm(ctx, d); err != nil {
			return fmt.Errorf("re-arm: %w", err)
		}
		return nil
	}

	if err := p.expirer.Expire(ctx, d.OrderID, d.Kind); err != nil {
		return fmt.Errorf("expire: %w", err)
	}
	log.Info("timeout processed")
	return nil
}
