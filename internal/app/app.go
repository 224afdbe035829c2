// Package app wires the order flow from configuration. The API and the timeout
// worker build the same graph so every transition is mirrored the same way.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/auth"
	"github.com/imrishuroy/foodie-orderflow/internal/aws"
	"github.com/imrishuroy/foodie-orderflow/internal/catalog"
	"github.com/imrishuroy/foodie-orderflow/internal/config"
	"github.com/imrishuroy/foodie-orderflow/internal/idempotency"
	"github.com/imrishuroy/foodie-orderflow/internal/live"
	"github.com/imrishuroy/foodie-orderflow/internal/logger"
	"github.com/imrishuroy/foodie-orderflow/internal/metrics"
	"github.com/imrishuroy/foodie-orderflow/internal/negotiation"
	"github.com/imrishuroy/foodie-orderflow/internal/orders"
	"github.com/imrishuroy/foodie-orderflow/internal/rabbitmq"
	"github.com/imrishuroy/foodie-orderflow/internal/watchdog"
)

const limiterSweepInterval = time.Minute

// App holds the wired components.
type App struct {
	Config      *config.Config
	Service     *negotiation.Service
	Idempotency *idempotency.Store
	Verifier    *auth.Verifier
	Limiter     *auth.Limiter
	// Queue is nil unless TIMEOUT_QUEUE_URL is set.
	Queue *watchdog.Queue

	channel live.Channel
	timers  *watchdog.Timers
	conn    rabbitmq.Connection
}

// Dial connects to a RabbitMQ broker. Tests replace it.
var Dial = rabbitmq.Dial

// New builds an App on top of the given AWS clients.
func New(cfg *config.Config, clients *aws.AWSClients) (*App, error) {
	log := logger.L()
	a := &App{
		Config:   cfg,
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Limiter:  auth.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}

	a.Idempotency = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	store := orders.NewStore(clients.DynamoDB, orders.Tables{
		Orders:      cfg.OrdersTable,
		UserOrders:  cfg.UserOrdersTable,
		SellerIndex: cfg.SellerIndexName,
	}, a.Idempotency)
	cat := catalog.NewStore(clients.DynamoDB, cfg.FoodItemsTable, cfg.StallsTable)

	switch {
	case cfg.LiveTable == "":
		if cfg.RabbitMQURL != "" {
			log.Warn("RABBITMQ_URL ignored without LIVE_TABLE; live records stay in process")
		}
		a.channel = live.NewExpiringHub(cfg.LiveRecordTTL)
	default:
		var bus live.Broadcaster
		if cfg.RabbitMQURL != "" {
			conn, err := Dial(cfg.RabbitMQURL)
			if err != nil {
				return nil, fmt.Errorf("dial rabbitmq: %w", err)
			}
			a.conn = conn
			bus = rabbitmq.NewBus(conn, cfg.LiveExchange)
		}
		a.channel = live.NewFanout(live.NewTable(clients.DynamoDB, cfg.LiveTable, cfg.LiveRecordTTL), bus)
	}

	var rec metrics.Recorder = metrics.Nop{}
	if cfg.MetricsNamespace != "" {
		rec = metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace)
	}

	// SQS is authoritative when configured. A long-running local process also
	// keeps in-process timers so timeouts land on time without a worker.
	var sched watchdog.Scheduler
	switch {
	case cfg.TimeoutQueueURL != "" && cfg.RunLocal:
		a.Queue = watchdog.NewQueue(aws.NewPublisher(clients.SQS, cfg.TimeoutQueueURL))
		a.timers = watchdog.NewTimers(a.channel)
		sched = watchdog.Multi{a.Queue, a.timers}
	case cfg.TimeoutQueueURL != "":
		a.Queue = watchdog.NewQueue(aws.NewPublisher(clients.SQS, cfg.TimeoutQueueURL))
		sched = a.Queue
	default:
		if !cfg.RunLocal {
			log.Warn("no TIMEOUT_QUEUE_URL; timeouts are lost when this process stops")
		}
		a.timers = watchdog.NewTimers(a.channel)
		sched = a.timers
	}

	coord := negotiation.NewCoordinator(store, a.channel, sched, rec, negotiation.Windows{
		Seller: cfg.SellerResponseWindow,
		Foodie: cfg.FoodieResponseWindow,
	})
	a.Service = negotiation.NewService(coord, cat)
	if a.timers != nil {
		a.timers.OnExpire(a.Service.Expire)
	}

	log.Info("order flow wired",
		zap.Bool("live_table", cfg.LiveTable != ""),
		zap.Bool("rabbitmq", a.conn != nil),
		zap.Bool("timeout_queue", a.Queue != nil),
		zap.Bool("timers", a.timers != nil),
		zap.Bool("metrics", cfg.MetricsNamespace != ""))
	return a, nil
}

// Channel is the live channel transitions are mirrored to.
func (a *App) Channel() live.Channel { return a.channel }

// Run relays live events from other instances and sweeps idle rate-limit
// buckets until ctx is done.
func (a *App) Run(ctx context.Context) {
	if f, ok := a.channel.(*live.Fanout); ok {
		go func() {
			if err := f.Run(ctx); err != nil && ctx.Err() == nil {
				logger.L().Error("live relay stopped", zap.Error(err))
			}
		}()
	}

	t := time.NewTicker(limiterSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Limiter.Sweep()
		}
	}
}

// Close stops timers and the broker connection.
func (a *App) Close() {
	if a.timers != nil {
		a.timers.Stop()
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			logger.L().Warn("close rabbitmq", zap.Error(err))
		}
	}
}
