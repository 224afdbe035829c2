package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/logger"
)

// DefaultExchange is the topic exchange live events are published to.
const DefaultExchange = "orders.live"

// Bus publishes to a topic exchange and listens on an exclusive, auto-deleted
// queue bound to every order key, so each instance sees every event once.
type Bus struct {
	conn           Connection
	exchange       string
	bindingKey     string
	reconnectDelay time.Duration
}

// NewBus returns a Bus on exchange. An empty exchange uses DefaultExchange.
func NewBus(conn Connection, exchange string) *Bus {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Bus{
		conn:           conn,
		exchange:       exchange,
		bindingKey:     "order.#",
		reconnectDelay: 5 * time.Second,
	}
}

func (b *Bus) declare(ch Channel) error {
	if err := ch.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

// Broadcast publishes body under key.
func (b *Bus) Broadcast(ctx context.Context, key string, body []byte) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := b.declare(ch); err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, b.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Listen delivers every event to fn until ctx is done, reconnecting after
// channel failures.
func (b *Bus) Listen(ctx context.Context, fn func(key string, body []byte)) error {
	for {
		err := b.listenOnce(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		logger.L().Warn("live bus disconnected, reconnecting",
			zap.Error(err), zap.Duration("delay", b.reconnectDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.reconnectDelay):
		}
	}
}

func (b *Bus) listenOnce(ctx context.Context, fn func(key string, body []byte)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	closeChan := ch.NotifyClose()
	if err := b.declare(ch); err != nil {
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, b.bindingKey, b.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-closeChan:
			if err != nil {
				return fmt.Errorf("channel closed: %w", err)
			}
			return fmt.Errorf("channel closed gracefully")
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("messages channel closed")
			}
			fn(msg.RoutingKey, msg.Body)
		}
	}
}
