package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/foodie-orderflow/internal/aws"
)

// ErrFoodItemNotFound is returned when a food item id is unknown.
var ErrFoodItemNotFound = errors.New("food item not found")

// Store reads food items and stalls and maintains rating aggregates.
type Store struct {
	client     aws.DynamoDBAPI
	itemsTable string
	stallTable string
}

// NewStore creates a catalog Store over the food items and stalls tables.
func NewStore(client aws.DynamoDBAPI, itemsTable, stallTable string) *Store {
	return &Store{client: client, itemsTable: itemsTable, stallTable: stallTable}
}

// FoodItem fetches one food item.
func (s *Store) FoodItem(ctx context.Context, foodItemID string) (*FoodItem, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.itemsTable,
		Key: map[string]types.AttributeValue{
			"food_item_id": &types.AttributeValueMemberS{Value: foodItemID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get food item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrFoodItemNotFound
	}
	var f FoodItem
	if err := attributevalue.UnmarshalMap(out.Item, &f); err != nil {
		return nil, fmt.Errorf("unmarshal food item: %w", err)
	}
	return &f, nil
}

// StallName returns the seller's stall name, falling back to UnknownStall.
func (s *Store) StallName(ctx context.Context, sellerID string) (string, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.stallTable,
		Key: map[string]types.AttributeValue{
			"seller_id": &types.AttributeValueMemberS{Value: sellerID},
		},
	})
	if err != nil {
		return "", fmt.Errorf("get stall: %w", err)
	}
	if len(out.Item) == 0 {
		return UnknownStall, nil
	}
	var st Stall
	if err := attributevalue.UnmarshalMap(out.Item, &st); err != nil {
		return "", fmt.Errorf("unmarshal stall: %w", err)
	}
	if st.StallName == "" {
		return UnknownStall, nil
	}
	return st.StallName, nil
}

// Lookup returns the food item joined with its seller's stall name.
func (s *Store) Lookup(ctx context.Context, foodItemID string) (*Listing, error) {
	item, err := s.FoodItem(ctx, foodItemID)
	if err != nil {
		return nil, err
	}
	stall, err := s.StallName(ctx, item.SellerID)
	if err != nil {
		return nil, err
	}
	return &Listing{FoodItem: *item, StallName: stall}, nil
}

// ApplyRating folds one rating into the item's aggregate with an atomic ADD, so
// concurrent raters never lose an update.
func (s *Store) ApplyRating(ctx context.Context, foodItemID string, rating int) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.itemsTable,
		Key: map[string]types.AttributeValue{
			"food_item_id": &types.AttributeValueMemberS{Value: foodItemID},
		},
		UpdateExpression:    awsString("ADD rating_sum :r, total_ratings :one"),
		ConditionExpression: awsString("attribute_exists(food_item_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rating)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrFoodItemNotFound
		}
		return fmt.Errorf("apply rating: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
