package live

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/foodie-orderflow/internal/dynamotest"
	"github.com/imrishuroy/foodie-orderflow/internal/orders"
)

func newTestTable() (*Table, *dynamotest.Mock, *time.Time) {
	mock := dynamotest.New().CreateTable("live", "order_id", "")
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tbl := NewTable(mock, "live", 24*time.Hour)
	tbl.nowFunc = func() time.Time { return now }
	return tbl, mock, &now
}

func TestTable_PutSetsTTL(t *testing.T) {
	tbl, mock, now := newTestTable()
	require.NoError(t, tbl.Put(context.Background(), Record{OrderID: "o1", Status: orders.StatusCreated}))

	item := mock.Item("live", map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: "o1"}})
	require.NotNil(t, item)
	want := now.Add(24 * time.Hour).Unix()
	assert.Equal(t, &types.AttributeValueMemberN{Value: strconv.FormatInt(want, 10)}, item["expires_at"])
}

func TestTable_GetHidesExpired(t *testing.T) {
	tbl, _, now := newTestTable()
	ctx := context.Background()
	require.NoError(t, tbl.Put(ctx, Record{OrderID: "o1", Status: orders.StatusAccepted}))

	got, err := tbl.Get(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, orders.StatusAccepted, got.Status)

	*now = now.Add(25 * time.Hour)
	got, err = tbl.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTable_Delete(t *testing.T) {
	tbl, mock, _ := newTestTable()
	ctx := context.Background()
	require.NoError(t, tbl.Put(ctx, Record{OrderID: "o1"}))
	require.NoError(t, tbl.Delete(ctx, "o1"))
	require.NoError(t, tbl.Delete(ctx, "o1"))
	assert.Equal(t, 0, mock.Len("live"))
}

func TestTable_PutError(t *testing.T) {
	tbl, mock, _ := newTestTable()
	boom := errors.New("throttled")
	mock.FailOn("PutItem", "live", boom)
	err := tbl.Put(context.Background(), Record{OrderID: "o1"})
	require.ErrorIs(t, err, boom)
}
