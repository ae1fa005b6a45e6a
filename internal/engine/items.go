package engine

import (
	"fmt"
	"math"
	"slices"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

// itemManager owns line item edits on a working copy of an order. Every method leaves
// the copy's total consistent with its lines, or returns an error and the caller
// discards the copy.
type itemManager struct {
	calc    Calculator
	newID   func() string
	product func(id string) (orders.Product, bool)
}

// MaxQty bounds a single line and the per-product sum of one order. It matches the
// INTEGER quantity column.
const MaxQty = math.MaxInt32

func validQty(qty int) error {
	if qty <= 0 || qty > MaxQty {
		return fmt.Errorf("%w: %d", orders.ErrInvalidQuantity, qty)
	}
	return nil
}

// validTotals rejects orders whose lines for one product add up beyond MaxQty.
func validTotals(o *orders.Order) error {
	sums := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		sums[it.ProductID] += it.Qty
		if sums[it.ProductID] > MaxQty {
			return fmt.Errorf("%w: product %s totals more than %d in order %s", orders.ErrInvalidQuantity, it.ProductID, MaxQty, o.ID)
		}
	}
	return nil
}

func (m itemManager) resolve(productID string) (orders.Product, error) {
	p, ok := m.product(productID)
	if !ok {
		return orders.Product{}, fmt.Errorf("%w: %s", orders.ErrProductUnknown, productID)
	}
	return p, nil
}

func mutable(o *orders.Order) error {
	if !o.Status.ItemsMutable() {
		return fmt.Errorf("%w: order %s is %s", orders.ErrOrderNotModifiable, o.ID, o.Status)
	}
	return nil
}

func (m itemManager) add(o *orders.Order, productID string, qty int) (orders.LineItem, error) {
	if err := validQty(qty); err != nil {
		return orders.LineItem{}, err
	}
	p, err := m.resolve(productID)
	if err != nil {
		return orders.LineItem{}, err
	}
	if err := mutable(o); err != nil {
		return orders.LineItem{}, err
	}

	it := orders.LineItem{
		ID:        m.newID(),
		OrderID:   o.ID,
		ProductID: p.ID,
		Qty:       qty,
		UnitPrice: p.Price,
		Subtotal:  m.calc.Subtotal(p.Price, qty),
	}
	o.Items = append(o.Items, it)
	if err := validTotals(o); err != nil {
		return orders.LineItem{}, err
	}
	return it, m.settle(o)
}

// update changes quantity and optionally the product of one line. Lines of a
// price-frozen order keep their unit price and cannot switch product.
func (m itemManager) update(o *orders.Order, itemID, productID string, qty int) (orders.LineItem, error) {
	if err := validQty(qty); err != nil {
		return orders.LineItem{}, err
	}
	it, idx, ok := o.Item(itemID)
	if !ok {
		return orders.LineItem{}, fmt.Errorf("%w: %s in order %s", orders.ErrItemNotFound, itemID, o.ID)
	}
	if productID == "" {
		productID = it.ProductID
	}
	p, err := m.resolve(productID)
	if err != nil {
		return orders.LineItem{}, err
	}
	if err := mutable(o); err != nil {
		return orders.LineItem{}, err
	}

	if !o.Status.PriceMutable() && p.ID != it.ProductID {
		return orders.LineItem{}, fmt.Errorf("%w: order %s is %s, product of a line cannot change", orders.ErrOrderNotModifiable, o.ID, o.Status)
	}

	it.ProductID = p.ID
	it.Qty = qty
	if o.Status.PriceMutable() {
		it.UnitPrice = p.Price
	}
	it.Subtotal = m.calc.Subtotal(it.UnitPrice, qty)
	o.Items[idx] = it
	if err := validTotals(o); err != nil {
		return orders.LineItem{}, err
	}
	return it, m.settle(o)
}

func (m itemManager) remove(o *orders.Order, itemID string) (orders.LineItem, error) {
	it, idx, ok := o.Item(itemID)
	if !ok {
		return orders.LineItem{}, fmt.Errorf("%w: %s in order %s", orders.ErrItemNotFound, itemID, o.ID)
	}
	if err := mutable(o); err != nil {
		return orders.LineItem{}, err
	}
	o.Items = slices.Delete(o.Items, idx, idx+1)
	return it, m.settle(o)
}

// reprice refreshes every line from the current catalog price.
func (m itemManager) reprice(o *orders.Order) error {
	for i, it := range o.Items {
		p, err := m.resolve(it.ProductID)
		if err != nil {
			return err
		}
		it.UnitPrice = p.Price
		it.Subtotal = m.calc.Subtotal(p.Price, it.Qty)
		o.Items[i] = it
	}
	return nil
}

// settle re-prices price-mutable orders and recomputes the total.
func (m itemManager) settle(o *orders.Order) error {
	if o.Status.PriceMutable() {
		if err := m.reprice(o); err != nil {
			return err
		}
	}
	total, err := m.calc.Recompute(*o)
	if err != nil {
		return err
	}
	o.Total = total
	return nil
}
