package orders

import "time"

// Status is the negotiation state of an order.
type Status string

const (
	StatusCreated        Status = "created"
	StatusAccepted       Status = "accepted"
	StatusRejected       Status = "rejected"
	StatusTimeoutSeller  Status = "timeout-seller"
	StatusFoodieAgreed   Status = "foodie-agreed"
	StatusFoodieDeclined Status = "foodie-declined"
	StatusTimeoutFoodie  Status = "timeout-foodie"
	StatusCooking        Status = "cooking"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

const (
	MinQuantity = 1
	MaxQuantity = 5

	MinRating = 1
	MaxRating = 5
)

// Order is the system-of-record item in the orders table.
type Order struct {
	OrderID      string `dynamodbav:"order_id" json:"order_id"` // PK
	BuyerID      string `dynamodbav:"buyer_id" json:"buyer_id"`
	SellerID     string `dynamodbav:"seller_id" json:"seller_id"` // GSI PK
	FoodItemID   string `dynamodbav:"food_item_id" json:"food_item_id"`
	IndexEntryID string `dynamodbav:"index_entry_id" json:"index_entry_id"`

	ItemName  string `dynamodbav:"item_name,omitempty" json:"item_name,omitempty"`
	StallName string `dynamodbav:"stall_name,omitempty" json:"stall_name,omitempty"`

	Quantity  int     `dynamodbav:"quantity" json:"quantity"`
	UnitPrice float64 `dynamodbav:"unit_price" json:"unit_price"`
	TotalCost float64 `dynamodbav:"total_cost" json:"total_cost"`

	Status    Status    `dynamodbav:"status" json:"status"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`

	AcceptedAt         *time.Time `dynamodbav:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	WaitingTimeMinutes int        `dynamodbav:"waiting_time_minutes,omitempty" json:"waiting_time_minutes,omitempty"`
	Token              string     `dynamodbav:"token,omitempty" json:"token,omitempty"`
	CompletedAt        *time.Time `dynamodbav:"completed_at,omitempty" json:"completed_at,omitempty"`
	CancelledAt        *time.Time `dynamodbav:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
	CancellationReason string     `dynamodbav:"cancellation_reason,omitempty" json:"cancellation_reason,omitempty"`

	Rating  int        `dynamodbav:"rating,omitempty" json:"rating,omitempty"`
	RatedAt *time.Time `dynamodbav:"rated_at,omitempty" json:"rated_at,omitempty"`
}

// IndexEntry is the per-buyer pointer stored under the buyer's partition in the
// user orders table. Status mirrors the order's status.
type IndexEntry struct {
	BuyerID   string    `dynamodbav:"buyer_id" json:"buyer_id"` // PK
	EntryID   string    `dynamodbav:"entry_id" json:"entry_id"` // SK, time ordered
	OrderID   string    `dynamodbav:"order_id" json:"order_id"`
	Status    Status    `dynamodbav:"status" json:"status"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
	Rating    int       `dynamodbav:"rating,omitempty" json:"rating,omitempty"`
}

// Patch carries the fields a transition writes. Nil pointers are left untouched.
type Patch struct {
	Status             Status
	UpdatedAt          time.Time
	AcceptedAt         *time.Time
	WaitingTimeMinutes *int
	Token              *string
	ClearToken         bool
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason *string
}

// Apply copies the patch onto o.
func (p Patch) Apply(o *Order) {
	o.Status = p.Status
	o.UpdatedAt = p.UpdatedAt
	if p.AcceptedAt != nil {
		t := *p.AcceptedAt
		o.AcceptedAt = &t
	}
	if p.WaitingTimeMinutes != nil {
		o.WaitingTimeMinutes = *p.WaitingTimeMinutes
	}
	if p.Token != nil {
		o.Token = *p.Token
	}
	if p.ClearToken {
		o.Token = ""
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		o.CompletedAt = &t
	}
	if p.CancelledAt != nil {
		t := *p.CancelledAt
		o.CancelledAt = &t
	}
	if p.CancellationReason != nil {
		o.CancellationReason = *p.CancellationReason
	}
}

// IndexPatch is what a transition mirrors onto the buyer's index entry.
type IndexPatch struct {
	Status    Status
	UpdatedAt time.Time
	Rating    *int
}

// ListQuery selects a page of orders. After is the sort key of the last item of the
// previous page.
type ListQuery struct {
	Statuses []Status
	After    string
	Limit    int
}

// Page is one page of index entries or orders, newest first.
type Page[T any] struct {
	Items   []T    `json:"items"`
	HasMore bool   `json:"has_more"`
	Last    string `json:"last,omitempty"`
}
