package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// OrderDraft describes a new order. ID is optional; Discount defaults to zero.
type OrderDraft struct {
	ID       string
	Discount decimal.Decimal
	Items    []ItemInput
}

// ItemRef addresses a line item. OrderID is optional; when set, the item must belong to it.
type ItemRef struct {
	OrderID string
	ItemID  string
}

// CreateOrder stores a PENDING order with the draft's items. Nothing is stored unless
// every item is valid.
func (e *Engine) CreateOrder(ctx context.Context, d OrderDraft) (_ orders.Order, err error) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		id = e.newID()
	}
	ctx, end := e.span(ctx, "order.create", attribute.String("order.id", id))
	defer func() { end(err) }()

	if err := ValidateDiscount(d.Discount); err != nil {
		return orders.Order{}, err
	}
	if err := ctxErr(ctx); err != nil {
		return orders.Order{}, err
	}
	o, err := e.createLocked(ctx, id, d)
	if err != nil {
		return orders.Order{}, err
	}
	snapshot := o.Clone()
	e.publish(ctx, orders.Event{Type: orders.EventOrderCreated, OrderID: id, Status: o.Status, Order: &snapshot})
	return o, nil
}

func (e *Engine) createLocked(ctx context.Context, id string, d OrderDraft) (orders.Order, error) {
	defer e.orderLocks.Lock(id)()

	if _, exists := e.arena.order(id); exists {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderExists, id)
	}

	now := e.clock()
	o := orders.Order{
		ID:        id,
		Status:    orders.StatusPending,
		Discount:  d.Discount,
		Total:     decimal.Zero,
		Items:     []orders.LineItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, in := range d.Items {
		if _, err := e.items.add(&o, in.ProductID, in.Qty); err != nil {
			return orders.Order{}, err
		}
	}
	if err := e.items.settle(&o); err != nil {
		return orders.Order{}, err
	}

	if _, err := e.apply(ctx, change{next: &o}); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

// AddLineItem appends a line priced at the product's current price. On a CONFIRMED order
// the added quantity must fit into the product's available stock.
func (e *Engine) AddLineItem(ctx context.Context, orderID, productID string, qty int) (_ orders.Order, err error) {
	ctx, end := e.span(ctx, "order.item.add",
		attribute.String("order.id", orderID),
		attribute.String("product.id", productID),
		attribute.Int("item.qty", qty),
	)
	defer func() { end(err) }()

	if err := validQty(qty); err != nil {
		return orders.Order{}, err
	}
	return e.editOrder(ctx, orderID, orders.EventItemAdded, func(o *orders.Order) error {
		_, err := e.items.add(o, productID, qty)
		return err
	})
}

// UpdateLineItem sets a line's quantity and optionally swaps its product (productID == ""
// keeps the current one). Lines of a PENDING order are re-priced; lines of a CONFIRMED
// order keep the unit price fixed at confirmation and may not change product.
func (e *Engine) UpdateLineItem(ctx context.Context, ref ItemRef, productID string, qty int) (_ orders.Order, err error) {
	ctx, end := e.span(ctx, "order.item.update",
		attribute.String("item.id", ref.ItemID),
		attribute.Int("item.qty", qty),
	)
	defer func() { end(err) }()

	if err := validQty(qty); err != nil {
		return orders.Order{}, err
	}
	orderID, err := e.ownerOf(ref)
	if err != nil {
		return orders.Order{}, err
	}
	return e.editOrder(ctx, orderID, orders.EventItemUpdated, func(o *orders.Order) error {
		_, err := e.items.update(o, ref.ItemID, strings.TrimSpace(productID), qty)
		return err
	})
}

// RemoveLineItem drops a line from its order.
func (e *Engine) RemoveLineItem(ctx context.Context, ref ItemRef) (_ orders.Order, err error) {
	ctx, end := e.span(ctx, "order.item.remove", attribute.String("item.id", ref.ItemID))
	defer func() { end(err) }()

	orderID, err := e.ownerOf(ref)
	if err != nil {
		return orders.Order{}, err
	}
	return e.editOrder(ctx, orderID, orders.EventItemRemoved, func(o *orders.Order) error {
		_, err := e.items.remove(o, ref.ItemID)
		return err
	})
}

// SetDiscount changes the discount fraction of a PENDING or CONFIRMED order. Discounts
// never move stock, so no availability check runs.
func (e *Engine) SetDiscount(ctx context.Context, orderID string, discount decimal.Decimal) (_ orders.Order, err error) {
	ctx, end := e.span(ctx, "order.discount.set",
		attribute.String("order.id", orderID),
		attribute.String("order.discount", discount.String()),
	)
	defer func() { end(err) }()

	if err := ValidateDiscount(discount); err != nil {
		return orders.Order{}, err
	}
	return e.editOrder(ctx, orderID, orders.EventDiscountChanged, func(o *orders.Order) error {
		if err := mutable(o); err != nil {
			return err
		}
		o.Discount = discount
		return e.items.settle(o)
	})
}

// DeleteOrder destroys an order together with its line items. Orders that have been
// paid for cannot be deleted. Deleting a CONFIRMED order releases its reservation.
func (e *Engine) DeleteOrder(ctx context.Context, orderID string) (_ orders.Order, err error) {
	ctx, end := e.span(ctx, "order.delete", attribute.String("order.id", orderID))
	defer func() { end(err) }()

	if err := ctxErr(ctx); err != nil {
		return orders.Order{}, err
	}
	prev, err := e.deleteLocked(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	e.publish(ctx, orders.Event{Type: orders.EventOrderDeleted, OrderID: orderID, PreviousStatus: prev.Status, Status: prev.Status})
	return prev, nil
}

func (e *Engine) deleteLocked(ctx context.Context, orderID string) (orders.Order, error) {
	defer e.orderLocks.Lock(orderID)()

	prev, ok := e.arena.order(orderID)
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID)
	}
	if !prev.Status.Deletable() {
		return orders.Order{}, fmt.Errorf("%w: order %s is %s and cannot be deleted", orders.ErrOrderNotModifiable, orderID, prev.Status)
	}
	if _, err := e.apply(ctx, change{prev: &prev}); err != nil {
		return orders.Order{}, err
	}
	return prev, nil
}

// editOrder runs edit against a working copy of the order inside its exclusive section.
// Growth of a CONFIRMED order is checked against available stock before anything is stored.
func (e *Engine) editOrder(ctx context.Context, orderID, event string, edit func(o *orders.Order) error) (orders.Order, error) {
	if err := ctxErr(ctx); err != nil {
		return orders.Order{}, err
	}
	next, err := e.editLocked(ctx, orderID, edit)
	if err != nil {
		return orders.Order{}, err
	}
	snapshot := next.Clone()
	e.publish(ctx, orders.Event{Type: event, OrderID: orderID, Status: next.Status, Order: &snapshot})
	return next, nil
}

func (e *Engine) editLocked(ctx context.Context, orderID string, edit func(o *orders.Order) error) (orders.Order, error) {
	defer e.orderLocks.Lock(orderID)()

	prev, ok := e.arena.order(orderID)
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID)
	}
	next := prev.Clone()
	if err := edit(&next); err != nil {
		return orders.Order{}, err
	}
	next.UpdatedAt = e.clock()

	c := change{prev: &prev, next: &next}
	if next.Status.Reserving() {
		c.need = next.QtyByProduct()
		c.growthOnly = true
	}
	if _, err := e.apply(ctx, c); err != nil {
		return orders.Order{}, err
	}
	return next, nil
}

// ownerOf resolves the order an item belongs to, enforcing ref.OrderID when given.
func (e *Engine) ownerOf(ref ItemRef) (string, error) {
	owner, ok := e.arena.orderOfItem(ref.ItemID)
	if ref.OrderID != "" {
		if _, exists := e.arena.order(ref.OrderID); !exists {
			return "", fmt.Errorf("%w: %s", orders.ErrOrderNotFound, ref.OrderID)
		}
		if !ok || owner != ref.OrderID {
			return "", fmt.Errorf("%w: %s in order %s", orders.ErrItemNotFound, ref.ItemID, ref.OrderID)
		}
		return ref.OrderID, nil
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", orders.ErrItemNotFound, ref.ItemID)
	}
	return owner, nil
}
