package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/foodie-orderflow/internal/dynamotest"
)

func newTestStore(t *testing.T) (*Store, *dynamotest.Mock) {
	t.Helper()
	mock := dynamotest.New().
		CreateTable("food-items", "food_item_id", "").
		CreateTable("stalls", "seller_id", "")
	return NewStore(mock, "food-items", "stalls"), mock
}

func seed(t *testing.T, mock *dynamotest.Mock, table string, v any) {
	t.Helper()
	item, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	mock.Seed(table, item)
}

func TestLookup_JoinsStallName(t *testing.T) {
	s, mock := newTestStore(t)
	seed(t, mock, "food-items", FoodItem{FoodItemID: "f1", SellerID: "s1", Name: "Laksa", Price: 6.5, Available: true})
	seed(t, mock, "stalls", Stall{SellerID: "s1", StallName: "Auntie's"})

	got, err := s.Lookup(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "Laksa", got.Name)
	assert.Equal(t, "Auntie's", got.StallName)
	assert.True(t, got.Available)
}

func TestLookup_UnknownStall(t *testing.T) {
	s, mock := newTestStore(t)
	seed(t, mock, "food-items", FoodItem{FoodItemID: "f1", SellerID: "s9", Name: "Satay", Price: 1})

	got, err := s.Lookup(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, UnknownStall, got.StallName)
}

func TestLookup_MissingItem(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Lookup(context.Background(), "nope")
	require.ErrorIs(t, err, ErrFoodItemNotFound)
}

func TestApplyRating_Concurrent(t *testing.T) {
	s, mock := newTestStore(t)
	seed(t, mock, "food-items", FoodItem{FoodItemID: "f1", SellerID: "s1", Name: "Roti"})

	ratings := []int{5, 4, 3, 5, 1, 2}
	var wg sync.WaitGroup
	for _, r := range ratings {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			assert.NoError(t, s.ApplyRating(context.Background(), "f1", r))
		}(r)
	}
	wg.Wait()

	item, err := s.FoodItem(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, 20, item.RatingSum)
	assert.Equal(t, 6, item.TotalRatings)
	assert.InDelta(t, 20.0/6.0, item.Rating(), 1e-9)
}

func TestApplyRating_MissingItem(t *testing.T) {
	s, mock := newTestStore(t)
	require.ErrorIs(t, s.ApplyRating(context.Background(), "ghost", 4), ErrFoodItemNotFound)
	assert.Equal(t, 0, mock.Len("food-items"))
}

func TestRating_Unrated(t *testing.T) {
	assert.Equal(t, 0.0, FoodItem{}.Rating())
}
