package orders

import "github.com/google/uuid"

// NewID returns a version 7 UUID. Ids sort by creation time, so the buyer index
// and the seller GSI page newest-first.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
