package live

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/foodie-orderflow/internal/orders"
)

func TestHub_PublishGetRemove(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	got, err := h.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, h.Publish(ctx, Record{OrderID: "o1", Status: orders.StatusCreated}))
	require.NoError(t, h.Publish(ctx, Record{OrderID: "o1", Status: orders.StatusAccepted, WaitingTimeMinutes: 10}))

	got, err = h.Get(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, orders.StatusAccepted, got.Status)
	assert.Equal(t, 10, got.WaitingTimeMinutes)

	require.NoError(t, h.Remove(ctx, "o1"))
	got, err = h.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHub_SubscribeIsPerOrder(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	var seen []Event
	unsub := h.Subscribe("o1", func(e Event) { seen = append(seen, e) })

	require.NoError(t, h.Publish(ctx, Record{OrderID: "o2", Status: orders.StatusCreated}))
	require.NoError(t, h.Publish(ctx, Record{OrderID: "o1", Status: orders.StatusCreated}))
	require.NoError(t, h.Remove(ctx, "o1"))

	require.Len(t, seen, 2)
	assert.Equal(t, EventUpsert, seen[0].Type)
	assert.Equal(t, EventRemoved, seen[1].Type)
	assert.Equal(t, orders.StatusCreated, seen[1].Record.Status, "removal carries the last known record")

	unsub()
	unsub()
	assert.Equal(t, 0, h.Subscribers("o1"))
	require.NoError(t, h.Publish(ctx, Record{OrderID: "o1"}))
	assert.Len(t, seen, 2)
}

func TestHub_CallbackMayUnsubscribe(t *testing.T) {
	h := NewHub()
	calls := 0
	var unsub func()
	unsub = h.Subscribe("o1", func(Event) {
		calls++
		unsub()
	})
	require.NoError(t, h.Publish(context.Background(), Record{OrderID: "o1"}))
	require.NoError(t, h.Publish(context.Background(), Record{OrderID: "o1"}))
	assert.Equal(t, 1, calls)
}

func TestExpiringHub_ForgetsIdleRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	h := NewExpiringHub(time.Minute)
	h.nowFunc = func() time.Time { return now }

	require.NoError(t, h.Publish(ctx, Record{OrderID: "done", Status: orders.StatusCompleted}))
	require.NoError(t, h.Publish(ctx, Record{OrderID: "busy", Status: orders.StatusCreated}))

	now = now.Add(45 * time.Second)
	require.NoError(t, h.Publish(ctx, Record{OrderID: "busy", Status: orders.StatusAccepted}))

	now = now.Add(30 * time.Second)
	got, err := h.Get(ctx, "done")
	require.NoError(t, err)
	assert.Nil(t, got, "past its ttl")
	got, err = h.Get(ctx, "busy")
	require.NoError(t, err)
	require.NotNil(t, got, "publishing refreshes the ttl")
	assert.Equal(t, orders.StatusAccepted, got.Status)

	assert.Equal(t, 2, h.Len(), "nothing swept until the next publish")
	require.NoError(t, h.Publish(ctx, Record{OrderID: "new", Status: orders.StatusCreated}))
	assert.Equal(t, 2, h.Len())
}

func TestHub_WithoutTTLKeepsRecords(t *testing.T) {
	ctx := context.Background()
	h := NewHub()
	require.NoError(t, h.Publish(ctx, Record{OrderID: "o1", Status: orders.StatusCompleted}))
	got, err := h.Get(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Zero(t, got.ExpiresAt)
}

func TestFromOrder(t *testing.T) {
	o := orders.Order{OrderID: "o1", BuyerID: "b", SellerID: "s", ItemName: "Laksa", StallName: "Auntie's", Status: orders.StatusFoodieAgreed, Token: "1234", Quantity: 2}
	r := FromOrder(o)
	assert.Equal(t, "Laksa", r.ItemName)
	assert.Equal(t, "Auntie's", r.StallName)
	assert.Equal(t, "1234", r.Token)
	assert.Equal(t, 2, r.Quantity)
}
