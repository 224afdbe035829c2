package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/foodie-orderflow/internal/aws"
	"github.com/imrishuroy/foodie-orderflow/internal/idempotency"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

var (
	// ErrStatusMismatch is returned when a guarded write finds the order in another state.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrDuplicateKey is returned when the idempotency key of a create was already used.
	ErrDuplicateKey = errors.New("idempotency key already used")
	// ErrEntryNotFound is returned when the buyer index entry does not exist.
	ErrEntryNotFound = errors.New("index entry not found")
)

// Tables names the DynamoDB tables the Store writes to.
type Tables struct {
	Orders      string
	UserOrders  string
	SellerIndex string // GSI on Orders: seller_id / order_id
}

// Store encapsulates operations on the orders table and the per-buyer index.
type Store struct {
	client  aws.DynamoDBAPI
	tables  Tables
	idem    *idempotency.Store
	nowFunc func() time.Time
}

// NewStore creates a new orders Store. idem may be nil when idempotent creation is
// not wanted.
func NewStore(client aws.DynamoDBAPI, tables Tables, idem *idempotency.Store) *Store {
	return &Store{
		client:  client,
		tables:  tables,
		idem:    idem,
		nowFunc: time.Now,
	}
}

// CreateOrder atomically writes:
//   - the idempotency reservation (when idempotencyKey is set and the store has one)
//   - the order record in the orders table
//   - the buyer's index entry in the user orders table
//
// order.OrderID and order.IndexEntryID must be set by the caller.
func (s *Store) CreateOrder(ctx context.Context, order Order, idempotencyKey string) error {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	if order.OrderID == "" || order.IndexEntryID == "" {
		return errors.New("create order: order id and index entry id are required")
	}

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	entryMap, err := attributevalue.MarshalMap(IndexEntry{
		BuyerID:   order.BuyerID,
		EntryID:   order.IndexEntryID,
		OrderID:   order.OrderID,
		Status:    order.Status,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}

	var transactItems []types.TransactWriteItem
	guarded := idempotencyKey != "" && s.idem != nil
	if guarded {
		reservation, err := s.idem.Reservation(idempotencyKey, order.OrderID)
		if err != nil {
			return err
		}
		transactItems = append(transactItems, reservation)
	}
	transactItems = append(transactItems,
		types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.tables.Orders,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
		types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.tables.UserOrders,
				Item:                entryMap,
				ConditionExpression: awsString("attribute_not_exists(entry_id)"),
			},
		},
	)

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && guarded && len(tce.CancellationReasons) > 0 &&
			tce.CancellationReasons[0].Code != nil && *tce.CancellationReasons[0].Code == "ConditionalCheckFailed" {
			return ErrDuplicateKey
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tables.Orders,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// UpdateStatus applies patch only if the stored status still equals expected and
// returns the order as written. ErrStatusMismatch means another writer got there
// first, or the order does not exist.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, expected Status, patch Patch) (*Order, error) {
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = s.nowFunc()
	}
	u := newUpdate()
	u.set("#s", ":new", &types.AttributeValueMemberS{Value: string(patch.Status)})
	u.set("updated_at", ":ua", timeValue(patch.UpdatedAt))
	if patch.AcceptedAt != nil {
		u.set("accepted_at", ":aa", timeValue(*patch.AcceptedAt))
	}
	if patch.WaitingTimeMinutes != nil {
		u.set("waiting_time_minutes", ":wt", intValue(*patch.WaitingTimeMinutes))
	}
	if patch.Token != nil {
		u.set("#tk", ":tk", &types.AttributeValueMemberS{Value: *patch.Token})
	}
	if patch.ClearToken {
		u.remove("#tk")
	}
	if patch.CompletedAt != nil {
		u.set("completed_at", ":ca", timeValue(*patch.CompletedAt))
	}
	if patch.CancelledAt != nil {
		u.set("cancelled_at", ":xa", timeValue(*patch.CancelledAt))
	}
	if patch.CancellationReason != nil {
		u.set("cancellation_reason", ":cr", &types.AttributeValueMemberS{Value: *patch.CancellationReason})
	}
	u.values[":expected"] = &types.AttributeValueMemberS{Value: string(expected)}

	names := map[string]string{"#s": "status"}
	if patch.Token != nil || patch.ClearToken {
		names["#tk"] = "token"
	}
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tables.Orders,
		Key:                       orderKey(orderID),
		UpdateExpression:          awsString(u.expression()),
		ConditionExpression:       awsString("attribute_exists(order_id) AND #s = :expected"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: u.values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// SetRating records a rating on a completed, unrated order.
// ErrStatusMismatch covers every failed guard; callers re-read to tell them apart.
func (s *Store) SetRating(ctx context.Context, orderID string, rating int, at time.Time) (*Order, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tables.Orders,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET rating = :r, rated_at = :ra, updated_at = :ra"),
		ConditionExpression:      awsString("attribute_exists(order_id) AND #s = :completed AND attribute_not_exists(rating)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r":         intValue(rating),
			":ra":        timeValue(at),
			":completed": &types.AttributeValueMemberS{Value: string(StatusCompleted)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("set rating: %w", err)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// UpdateIndexEntry mirrors a transition onto the buyer's index entry.
func (s *Store) UpdateIndexEntry(ctx context.Context, buyerID, entryID string, patch IndexPatch) error {
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = s.nowFunc()
	}
	u := newUpdate()
	if patch.Status != "" {
		u.set("#s", ":s", &types.AttributeValueMemberS{Value: string(patch.Status)})
	}
	u.set("updated_at", ":ua", timeValue(patch.UpdatedAt))
	if patch.Rating != nil {
		u.set("rating", ":r", intValue(*patch.Rating))
	}
	input := &dyn.UpdateItemInput{
		TableName: &s.tables.UserOrders,
		Key: map[string]types.AttributeValue{
			"buyer_id": &types.AttributeValueMemberS{Value: buyerID},
			"entry_id": &types.AttributeValueMemberS{Value: entryID},
		},
		UpdateExpression:          awsString(u.expression()),
		ConditionExpression:       awsString("attribute_exists(entry_id)"),
		ExpressionAttributeValues: u.values,
	}
	if patch.Status != "" {
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("update index entry: %w", err)
	}
	return nil
}

// ListForBuyer pages through the buyer's index entries, newest first. When
// q.Statuses is set only entries in those states are returned.
func (s *Store) ListForBuyer(ctx context.Context, buyerID string, q ListQuery) (Page[IndexEntry], error) {
	input := &dyn.QueryInput{
		TableName:              &s.tables.UserOrders,
		KeyConditionExpression: awsString("buyer_id = :b"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":b": &types.AttributeValueMemberS{Value: buyerID},
		},
		ScanIndexForward: awsBool(false),
	}
	if q.After != "" {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"buyer_id": &types.AttributeValueMemberS{Value: buyerID},
			"entry_id": &types.AttributeValueMemberS{Value: q.After},
		}
	}
	applyStatusFilter(input, q.Statuses)
	return queryPage(ctx, s.client, input, q.Limit, func(e IndexEntry) string { return e.EntryID })
}

// ListForSeller pages through the seller's orders via the seller GSI, newest first.
func (s *Store) ListForSeller(ctx context.Context, sellerID string, q ListQuery) (Page[Order], error) {
	input := &dyn.QueryInput{
		TableName:              &s.tables.Orders,
		IndexName:              &s.tables.SellerIndex,
		KeyConditionExpression: awsString("seller_id = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sellerID},
		},
		ScanIndexForward: awsBool(false),
	}
	if q.After != "" {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"seller_id": &types.AttributeValueMemberS{Value: sellerID},
			"order_id":  &types.AttributeValueMemberS{Value: q.After},
		}
	}
	applyStatusFilter(input, q.Statuses)
	return queryPage(ctx, s.client, input, q.Limit, func(o Order) string { return o.OrderID })
}

func applyStatusFilter(input *dyn.QueryInput, statuses []Status) {
	if len(statuses) == 0 {
		return
	}
	refs := make([]string, len(statuses))
	for i, st := range statuses {
		ref := fmt.Sprintf(":st%d", i)
		refs[i] = ref
		input.ExpressionAttributeValues[ref] = &types.AttributeValueMemberS{Value: string(st)}
	}
	input.FilterExpression = awsString("#s IN (" + strings.Join(refs, ", ") + ")")
	input.ExpressionAttributeNames = map[string]string{"#s": "status"}
}

// queryPage keeps querying until it has limit items and knows whether one more
// exists. Filter expressions run after Limit, so a single call may come back short.
func queryPage[T any](ctx context.Context, client aws.DynamoDBAPI, input *dyn.QueryInput, limit int, sortKey func(T) string) (Page[T], error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	input.Limit = awsInt32(int32(limit + 1))

	page := Page[T]{Items: []T{}}
	for {
		out, err := client.Query(ctx, input)
		if err != nil {
			return Page[T]{}, fmt.Errorf("query: %w", err)
		}
		for _, item := range out.Items {
			if len(page.Items) == limit {
				page.HasMore = true
				return page, nil
			}
			var v T
			if err := attributevalue.UnmarshalMap(item, &v); err != nil {
				return Page[T]{}, fmt.Errorf("unmarshal item: %w", err)
			}
			page.Items = append(page.Items, v)
			page.Last = sortKey(v)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return page, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// update accumulates SET and REMOVE clauses.
type update struct {
	sets    []string
	removes []string
	values  map[string]types.AttributeValue
}

func newUpdate() *update {
	return &update{values: map[string]types.AttributeValue{}}
}

func (u *update) set(path, ref string, v types.AttributeValue) {
	u.sets = append(u.sets, path+" = "+ref)
	u.values[ref] = v
}

func (u *update) remove(path string) {
	u.removes = append(u.removes, path)
}

func (u *update) expression() string {
	expr := "SET " + strings.Join(u.sets, ", ")
	if len(u.removes) > 0 {
		expr += " REMOVE " + strings.Join(u.removes, ", ")
	}
	return expr
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

// timeValue matches how attributevalue marshals time.Time.
func timeValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.Format(time.RFC3339Nano)}
}

func intValue(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
func awsInt32(n int32) *int32    { return &n }
