package orders

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Order struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Discount  decimal.Decimal `json:"discount"` // fraction in [0,1]
	Total     decimal.Decimal `json:"total"`    // derived, see engine.Calculator
	Items     []LineItem      `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type LineItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Clone returns a copy whose item slice does not alias o's.
func (o Order) Clone() Order {
	o.Items = slices.Clone(o.Items)
	return o
}

func (o Order) Item(itemID string) (LineItem, int, bool) {
	for i, it := range o.Items {
		if it.ID == itemID {
			return it, i, true
		}
	}
	return LineItem{}, -1, false
}

// QtyByProduct aggregates line quantities per product.
func (o Order) QtyByProduct() map[string]int {
	out := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		out[it.ProductID] += it.Qty
	}
	return out
}

// ProductIDs returns the distinct products referenced by the order, sorted.
func (o Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for pid := range o.QtyByProduct() {
		ids = append(ids, pid)
	}
	slices.Sort(ids)
	return ids
}
