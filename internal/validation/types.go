package validation

// PlaceOrderRequest is the payload for POST /orders
type PlaceOrderRequest struct {
	FoodItemID string `json:"food_item_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"required,min=1,max=5"`
}

// AcceptRequest is the payload for POST /orders/:id/accept
type AcceptRequest struct {
	WaitingTimeMinutes int `json:"waiting_time_minutes" validate:"required,min=1,max=180"`
}

// CancelRequest is the optional payload for POST /orders/:id/cancel
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=280"`
}

// RateRequest is the payload for POST /orders/:id/rating
type RateRequest struct {
	Rating int `json:"rating" validate:"required,min=1,max=5"`
}

// ListQuery is the query string of the listing endpoints.
type ListQuery struct {
	Status      []string `form:"status" validate:"omitempty,dive,order_status"`
	LastOrderID string   `form:"last_order_id"`
	Limit       int      `form:"limit" validate:"omitempty,min=1,max=50"`
}
