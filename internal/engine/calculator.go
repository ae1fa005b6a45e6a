package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

const (
	DefaultCurrencyPlaces int32 = 2
	MaxCurrencyPlaces     int32 = 8
)

var one = decimal.NewFromInt(1)

// Calculator derives an order total from its line subtotals and discount fraction.
type Calculator struct {
	// Places is the currency's minor-unit precision.
	Places int32
}

func ValidateDiscount(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(one) {
		return fmt.Errorf("%w: %s not in [0,1]", orders.ErrInvalidDiscount, d.String())
	}
	return nil
}

// Recompute returns round(sum(subtotals) * (1 - discount)) floored at zero.
// The discount is validated on every call since it can change between item edits.
func (c Calculator) Recompute(o orders.Order) (decimal.Decimal, error) {
	if err := ValidateDiscount(o.Discount); err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Subtotal)
	}
	total := sum.Mul(one.Sub(o.Discount)).Round(c.Places)
	if total.IsNegative() {
		return decimal.Zero, nil
	}
	return total, nil
}

// Subtotal is unit price times quantity at full precision; rounding happens on the total.
func (c Calculator) Subtotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}
