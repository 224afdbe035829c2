package catalog

// FoodItem is a menu entry in the food items table. The displayed rating is
// derived from RatingSum / TotalRatings.
type FoodItem struct {
	FoodItemID   string  `dynamodbav:"food_item_id" json:"food_item_id"` // PK
	SellerID     string  `dynamodbav:"seller_id" json:"seller_id"`
	Name         string  `dynamodbav:"name" json:"name"`
	Description  string  `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Price        float64 `dynamodbav:"price" json:"price"`
	RatingSum    int     `dynamodbav:"rating_sum" json:"-"`
	TotalRatings int     `dynamodbav:"total_ratings" json:"total_ratings"`
	Available    bool    `dynamodbav:"available" json:"available"`
}

// Rating returns the average rating, or 0 when the item was never rated.
func (f FoodItem) Rating() float64 {
	if f.TotalRatings == 0 {
		return 0
	}
	return float64(f.RatingSum) / float64(f.TotalRatings)
}

// Stall is a seller's storefront.
type Stall struct {
	SellerID  string `dynamodbav:"seller_id" json:"seller_id"` // PK
	StallName string `dynamodbav:"stall_name" json:"stall_name"`
}

// Listing is a food item joined with its stall name, as shown to buyers.
type Listing struct {
	FoodItem
	StallName string `json:"stall_name"`
}

// UnknownStall is shown when the seller has no stall record.
const UnknownStall = "Unknown Stall"
