package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  map[string]string
	bindings   map[string]string
	published  []published
	deliveries chan amqp.Delivery
	closeCh    chan *amqp.Error
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		exchanges:  map[string]string{},
		bindings:   map[string]string{},
		deliveries: make(chan amqp.Delivery, 8),
		closeCh:    make(chan *amqp.Error, 1),
	}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (Queue, error) {
	return Queue{Name: "amq.gen-test"}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[name] = exchange + ":" + key
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) NotifyClose() <-chan *amqp.Error { return f.closeCh }

type fakeConn struct {
	mu       sync.Mutex
	channels []*fakeChannel
	err      error
}

func (c *fakeConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	ch := newFakeChannel()
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) Close() error    { return nil }
func (c *fakeConn) IsClosed() bool { return false }

func (c *fakeConn) channel(i int) *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.channels) {
		return nil
	}
	return c.channels[i]
}

func TestBus_Broadcast(t *testing.T) {
	conn := &fakeConn{}
	bus := NewBus(conn, "")

	require.NoError(t, bus.Broadcast(context.Background(), "order.o1", []byte(`{"type":"upsert"}`)))

	ch := conn.channel(0)
	require.NotNil(t, ch)
	assert.Equal(t, "topic", ch.exchanges[DefaultExchange])
	require.Len(t, ch.published, 1)
	assert.Equal(t, DefaultExchange, ch.published[0].exchange)
	assert.Equal(t, "order.o1", ch.published[0].key)
	assert.Equal(t, "application/json", ch.published[0].msg.ContentType)
	assert.True(t, ch.closed, "publish channels are closed after use")
}

func TestBus_BroadcastChannelError(t *testing.T) {
	conn := &fakeConn{err: errors.New("connection is closed")}
	err := NewBus(conn, "x").Broadcast(context.Background(), "order.o1", nil)
	require.Error(t, err)
}

func TestBus_ListenDeliversAndStops(t *testing.T) {
	conn := &fakeConn{}
	bus := NewBus(conn, "live-x")

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- bus.Listen(ctx, func(key string, body []byte) { got <- key + " " + string(body) })
	}()

	require.Eventually(t, func() bool { return conn.channel(0) != nil }, time.Second, 5*time.Millisecond)
	ch := conn.channel(0)
	ch.deliveries <- amqp.Delivery{RoutingKey: "order.o9", Body: []byte("hi")}

	select {
	case v := <-got:
		assert.Equal(t, "order.o9 hi", v)
	case <-time.After(time.Second):
		t.Fatal("delivery not handled")
	}
	ch.mu.Lock()
	assert.Equal(t, "live-x:order.#", ch.bindings["amq.gen-test"])
	ch.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestBus_ListenReconnectsAfterChannelClose(t *testing.T) {
	conn := &fakeConn{}
	bus := NewBus(conn, "")
	bus.reconnectDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Listen(ctx, func(string, []byte) {}) }()

	require.Eventually(t, func() bool { return conn.channel(0) != nil }, time.Second, 5*time.Millisecond)
	conn.channel(0).closeCh <- &amqp.Error{Code: 320, Reason: "CONNECTION_FORCED"}

	require.Eventually(t, func() bool { return conn.channel(1) != nil }, time.Second, 5*time.Millisecond)
}
