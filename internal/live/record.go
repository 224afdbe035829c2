// Package live keeps the low-latency view of in-flight orders that clients watch
// while a negotiation is running.
package live

import (
	"context"
	"time"

	"github.com/imrishuroy/foodie-orderflow/internal/orders"
)

// Record mirrors the mutable fields of an order plus what clients display.
type Record struct {
	OrderID            string        `dynamodbav:"order_id" json:"order_id"` // PK
	BuyerID            string        `dynamodbav:"buyer_id" json:"buyer_id"`
	SellerID           string        `dynamodbav:"seller_id" json:"seller_id"`
	FoodItemID         string        `dynamodbav:"food_item_id" json:"food_item_id"`
	ItemName           string        `dynamodbav:"item_name,omitempty" json:"item_name,omitempty"`
	StallName          string        `dynamodbav:"stall_name,omitempty" json:"stall_name,omitempty"`
	Quantity           int           `dynamodbav:"quantity" json:"quantity"`
	TotalCost          float64       `dynamodbav:"total_cost" json:"total_cost"`
	Status             orders.Status `dynamodbav:"status" json:"status"`
	WaitingTimeMinutes int           `dynamodbav:"waiting_time_minutes,omitempty" json:"waiting_time_minutes,omitempty"`
	Token              string        `dynamodbav:"token,omitempty" json:"token,omitempty"`
	CreatedAt          time.Time     `dynamodbav:"created_at" json:"created_at"`
	AcceptedAt         *time.Time    `dynamodbav:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	UpdatedAt          time.Time     `dynamodbav:"updated_at" json:"updated_at"`
	CancellationReason string        `dynamodbav:"cancellation_reason,omitempty" json:"cancellation_reason,omitempty"`
	Rating             int           `dynamodbav:"rating,omitempty" json:"rating,omitempty"`
	ExpiresAt          int64         `dynamodbav:"expires_at,omitempty" json:"-"` // TTL epoch seconds
}

// FromOrder builds the live view of o.
func FromOrder(o orders.Order) Record {
	return Record{
		OrderID:            o.OrderID,
		BuyerID:            o.BuyerID,
		SellerID:           o.SellerID,
		FoodItemID:         o.FoodItemID,
		ItemName:           o.ItemName,
		StallName:          o.StallName,
		Quantity:           o.Quantity,
		TotalCost:          o.TotalCost,
		Status:             o.Status,
		WaitingTimeMinutes: o.WaitingTimeMinutes,
		Token:              o.Token,
		CreatedAt:          o.CreatedAt,
		AcceptedAt:         o.AcceptedAt,
		UpdatedAt:          o.UpdatedAt,
		CancellationReason: o.CancellationReason,
		Rating:             o.Rating,
	}
}

// EventType says whether a record was written or removed.
type EventType string

const (
	EventUpsert  EventType = "upsert"
	EventRemoved EventType = "removed"
)

// Event is what subscribers receive.
type Event struct {
	Type   EventType `json:"type"`
	Record Record    `json:"record"`
}

// Channel is the live side of the dual write.
type Channel interface {
	Publish(ctx context.Context, r Record) error
	Remove(ctx context.Context, orderID string) error
	Get(ctx context.Context, orderID string) (*Record, error)
	Subscriber
}

// Subscriber registers a callback for one order's events. The returned func
// unsubscribes and is safe to call more than once.
type Subscriber interface {
	Subscribe(orderID string, fn func(Event)) (unsubscribe func())
}
