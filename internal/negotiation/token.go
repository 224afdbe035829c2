package negotiation

import (
	"math/rand"
	"strconv"
)

// NewToken returns a 4-digit pickup code in [1000, 9999].
func NewToken() string {
	return strconv.Itoa(1000 + rand.Intn(9000))
}
