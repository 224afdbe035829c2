package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/foodie-orderflow/internal/dynamotest"
	"github.com/imrishuroy/foodie-orderflow/internal/idempotency"
)

var testTables = Tables{
	Orders:      "orders-table",
	UserOrders:  "user-orders-table",
	SellerIndex: "seller_id-order_id-index",
}

const idempotencyTable = "idempotency-table"

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *dynamotest.Mock) {
	t.Helper()
	mock := dynamotest.New().
		CreateTable(testTables.Orders, "order_id", "").
		AddIndex(testTables.Orders, testTables.SellerIndex, "seller_id", "order_id").
		CreateTable(testTables.UserOrders, "buyer_id", "entry_id").
		CreateTable(idempotencyTable, "idempotency_key", "")
	s := NewStore(mock, testTables, idempotency.NewStore(mock, idempotencyTable, time.Hour))
	s.nowFunc = func() time.Time { return fixedNow }
	return s, mock
}

func newOrder(buyer, seller string) Order {
	return Order{
		OrderID:      NewID(),
		IndexEntryID: NewID(),
		BuyerID:      buyer,
		SellerID:     seller,
		FoodItemID:   "item-1",
		Quantity:     2,
		UnitPrice:    4.5,
		TotalCost:    9,
		Status:       StatusCreated,
	}
}

func TestCreateOrder_WritesOrderAndIndexEntry(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()
	o := newOrder("buyer-1", "seller-1")

	require.NoError(t, s.CreateOrder(ctx, o, "key-1"))

	got, err := s.Get(ctx, o.OrderID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCreated, got.Status)
	assert.True(t, fixedNow.Equal(got.CreatedAt))
	assert.Equal(t, 9.0, got.TotalCost)

	page, err := s.ListForBuyer(ctx, "buyer-1", ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, o.OrderID, page.Items[0].OrderID)
	assert.Equal(t, o.IndexEntryID, page.Items[0].EntryID)
	assert.Equal(t, 1, mock.Len(idempotencyTable))
}

func TestCreateOrder_DuplicateIdempotencyKey(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateOrder(ctx, newOrder("buyer-1", "seller-1"), "same-key"))
	err := s.CreateOrder(ctx, newOrder("buyer-1", "seller-1"), "same-key")
	require.ErrorIs(t, err, ErrDuplicateKey)

	assert.Equal(t, 1, mock.Len(testTables.Orders), "the second order must not be written")
	assert.Equal(t, 1, mock.Len(testTables.UserOrders))
}

func TestCreateOrder_WithoutKey(t *testing.T) {
	s, mock := newTestStore(t)
	require.NoError(t, s.CreateOrder(context.Background(), newOrder("b", "s"), ""))
	assert.Equal(t, 0, mock.Len(idempotencyTable))
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateStatus_GuardedPatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	o := newOrder("buyer-1", "seller-1")
	require.NoError(t, s.CreateOrder(ctx, o, ""))

	acceptedAt := fixedNow.Add(10 * time.Second)
	wait := 15
	updated, err := s.UpdateStatus(ctx, o.OrderID, StatusCreated, Patch{
		Status:             StatusAccepted,
		UpdatedAt:          acceptedAt,
		AcceptedAt:         &acceptedAt,
		WaitingTimeMinutes: &wait,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, updated.Status)
	assert.Equal(t, 15, updated.WaitingTimeMinutes)
	require.NotNil(t, updated.AcceptedAt)
	assert.True(t, acceptedAt.Equal(*updated.AcceptedAt))

	// stale expectation leaves the order untouched
	_, err = s.UpdateStatus(ctx, o.OrderID, StatusCreated, Patch{Status: StatusRejected})
	require.ErrorIs(t, err, ErrStatusMismatch)
	got, err := s.Get(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
}

func TestUpdateStatus_TokenSetAndCleared(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	o := newOrder("buyer-1", "seller-1")
	o.Status = StatusAccepted
	require.NoError(t, s.CreateOrder(ctx, o, ""))

	token := "4821"
	updated, err := s.UpdateStatus(ctx, o.OrderID, StatusAccepted, Patch{Status: StatusFoodieAgreed, Token: &token})
	require.NoError(t, err)
	assert.Equal(t, "4821", updated.Token)

	reason := "changed my mind"
	cancelledAt := fixedNow.Add(time.Minute)
	updated, err = s.UpdateStatus(ctx, o.OrderID, StatusFoodieAgreed, Patch{
		Status:             StatusCancelled,
		ClearToken:         true,
		CancelledAt:        &cancelledAt,
		CancellationReason: &reason,
	})
	require.NoError(t, err)
	assert.Empty(t, updated.Token)
	assert.Equal(t, reason, updated.CancellationReason)
	require.NotNil(t, updated.CancelledAt)
}

func TestUpdateStatus_MissingOrder(t *testing.T) {
	s, mock := newTestStore(t)
	_, err := s.UpdateStatus(context.Background(), "ghost", StatusCreated, Patch{Status: StatusAccepted})
	require.ErrorIs(t, err, ErrStatusMismatch)
	assert.Equal(t, 0, mock.Len(testTables.Orders), "a guarded update must not upsert")
}

func TestUpdateStatus_ConcurrentRacersOneWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	o := newOrder("buyer-1", "seller-1")
	require.NoError(t, s.CreateOrder(ctx, o, ""))

	targets := []Status{StatusAccepted, StatusRejected, StatusTimeoutSeller, StatusAccepted, StatusRejected}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []Status
	)
	for _, to := range targets {
		wg.Add(1)
		go func(to Status) {
			defer wg.Done()
			_, err := s.UpdateStatus(ctx, o.OrderID, StatusCreated, Patch{Status: to})
			if err == nil {
				mu.Lock()
				wins = append(wins, to)
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrStatusMismatch))
		}(to)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	got, err := s.Get(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, wins[0], got.Status)
}

func TestSetRating_OnceAndOnlyWhenCompleted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	o := newOrder("buyer-1", "seller-1")
	o.Status = StatusCooking
	require.NoError(t, s.CreateOrder(ctx, o, ""))

	_, err := s.SetRating(ctx, o.OrderID, 5, fixedNow)
	require.ErrorIs(t, err, ErrStatusMismatch, "cooking orders are not ratable")

	_, err = s.UpdateStatus(ctx, o.OrderID, StatusCooking, Patch{Status: StatusCompleted})
	require.NoError(t, err)

	rated, err := s.SetRating(ctx, o.OrderID, 4, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 4, rated.Rating)
	require.NotNil(t, rated.RatedAt)

	_, err = s.SetRating(ctx, o.OrderID, 1, fixedNow)
	require.ErrorIs(t, err, ErrStatusMismatch)
	got, err := s.Get(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Rating)
}

func TestUpdateIndexEntry(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()
	o := newOrder("buyer-1", "seller-1")
	require.NoError(t, s.CreateOrder(ctx, o, ""))

	rating := 3
	require.NoError(t, s.UpdateIndexEntry(ctx, "buyer-1", o.IndexEntryID, IndexPatch{Status: StatusCompleted, Rating: &rating}))

	item := mock.Item(testTables.UserOrders, map[string]types.AttributeValue{
		"buyer_id": &types.AttributeValueMemberS{Value: "buyer-1"},
		"entry_id": &types.AttributeValueMemberS{Value: o.IndexEntryID},
	})
	require.NotNil(t, item)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "completed"}, item["status"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "3"}, item["rating"])

	err := s.UpdateIndexEntry(ctx, "buyer-1", "missing-entry", IndexPatch{Status: StatusCompleted})
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestListForBuyer_HistoryPagination(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var completed []Order
	for i := 0; i < 25; i++ {
		o := newOrder("buyer-1", "seller-1")
		if i%2 == 0 {
			o.Status = StatusCompleted
			completed = append(completed, o)
		}
		require.NoError(t, s.CreateOrder(ctx, o, ""))
	}
	// another buyer's orders never leak in
	require.NoError(t, s.CreateOrder(ctx, withStatus(newOrder("buyer-2", "seller-1"), StatusCompleted), ""))

	q := ListQuery{Statuses: HistoryStatuses(), Limit: 10}
	first, err := s.ListForBuyer(ctx, "buyer-1", q)
	require.NoError(t, err)
	require.Len(t, first.Items, 10)
	assert.True(t, first.HasMore)
	// newest first
	assert.Equal(t, completed[len(completed)-1].OrderID, first.Items[0].OrderID)

	q.After = first.Last
	second, err := s.ListForBuyer(ctx, "buyer-1", q)
	require.NoError(t, err)
	require.Len(t, second.Items, 3)
	assert.False(t, second.HasMore)
	assert.Equal(t, completed[0].OrderID, second.Items[2].OrderID)
	for _, e := range append(first.Items, second.Items...) {
		assert.Equal(t, StatusCompleted, e.Status)
		assert.Equal(t, "buyer-1", e.BuyerID)
	}
}

func TestListForSeller(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateOrder(ctx, newOrder("buyer-1", "seller-1"), ""))
	}
	require.NoError(t, s.CreateOrder(ctx, newOrder("buyer-1", "seller-2"), ""))

	page, err := s.ListForSeller(ctx, "seller-1", ListQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.False(t, page.HasMore)
	for _, o := range page.Items {
		assert.Equal(t, "seller-1", o.SellerID)
	}
}

func withStatus(o Order, st Status) Order {
	o.Status = st
	return o
}
