package live

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/foodie-orderflow/internal/aws"
)

// Table persists live records in DynamoDB. Records carry an expires_at TTL so
// orders that finish without an explicit removal are eventually cleaned up.
type Table struct {
	client    aws.DynamoDBAPI
	tableName string
	ttl       time.Duration
	nowFunc   func() time.Time
}

// NewTable returns a Table writing to tableName with the given record TTL.
func NewTable(client aws.DynamoDBAPI, tableName string, ttl time.Duration) *Table {
	return &Table{client: client, tableName: tableName, ttl: ttl, nowFunc: time.Now}
}

// Put upserts r, refreshing its expiry.
func (t *Table) Put(ctx context.Context, r Record) error {
	if t.ttl > 0 {
		r.ExpiresAt = t.nowFunc().Add(t.ttl).Unix()
	}
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("marshal live record: %w", err)
	}
	if _, err := t.client.PutItem(ctx, &dyn.PutItemInput{TableName: &t.tableName, Item: item}); err != nil {
		return fmt.Errorf("put live record: %w", err)
	}
	return nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (t *Table) Delete(ctx context.Context, orderID string) error {
	_, err := t.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &t.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return fmt.Errorf("delete live record: %w", err)
	}
	return nil
}

// Get returns (nil, nil) when the record is missing or already past its TTL but
// not yet swept.
func (t *Table) Get(ctx context.Context, orderID string) (*Record, error) {
	out, err := t.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &t.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get live record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var r Record
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal live record: %w", err)
	}
	if r.ExpiresAt > 0 && r.ExpiresAt < t.nowFunc().Unix() {
		return nil, nil
	}
	return &r, nil
}
