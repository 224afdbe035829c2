package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/foodie-orderflow/internal/orders"
)

// New returns a configured validator. Field errors are reported under their json
// (or form) names and the order_status tag checks status filters.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	_ = v.RegisterValidation("order_status", orderStatus)

	return v
}

func orderStatus(fl validatorv10.FieldLevel) bool {
	return orders.Status(fl.Field().String()).Valid()
}

// Statuses converts validated status filters.
func (q ListQuery) Statuses() []orders.Status {
	if len(q.Status) == 0 {
		return nil
	}
	out := make([]orders.Status, 0, len(q.Status))
	for _, s := range q.Status {
		out = append(out, orders.Status(s))
	}
	return out
}
