package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

// ConfirmOrder moves a PENDING order to CONFIRMED once every product it references has
// enough unreserved stock. Lines are re-priced one last time; from here on prices are frozen.
func (e *Engine) ConfirmOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return e.transition(ctx, orderID, orders.StatusConfirmed)
}

// PayOrder moves a CONFIRMED order to PAID and permanently takes its quantities out of stock.
func (e *Engine) PayOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return e.transition(ctx, orderID, orders.StatusPaid)
}

// CancelOrder voids a PENDING or CONFIRMED order, releasing any reservation it held.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return e.transition(ctx, orderID, orders.StatusCancelled)
}

func (e *Engine) ShipOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return e.transition(ctx, orderID, orders.StatusShipped)
}

func (e *Engine) DeliverOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return e.transition(ctx, orderID, orders.StatusDelivered)
}

// Transition moves an order to the status named by raw. Unrecognised names fail with
// ErrUnknownStatus before the order is looked up.
func (e *Engine) Transition(ctx context.Context, orderID, raw string) (orders.Order, error) {
	to, err := orders.ParseStatus(raw)
	if err != nil {
		return orders.Order{}, err
	}
	return e.transition(ctx, orderID, to)
}

func (e *Engine) transition(ctx context.Context, orderID string, to orders.Status) (_ orders.Order, err error) {
	ctx, end := e.span(ctx, "order.transition",
		attribute.String("order.id", orderID),
		attribute.String("order.status.to", string(to)),
	)
	defer func() { end(err) }()

	if err := ctxErr(ctx); err != nil {
		return orders.Order{}, err
	}
	next, events, err := e.transitionLocked(ctx, orderID, to)
	if err != nil {
		return orders.Order{}, err
	}
	e.publish(ctx, events...)
	return next, nil
}

func (e *Engine) transitionLocked(ctx context.Context, orderID string, to orders.Status) (_ orders.Order, _ []orders.Event, err error) {
	defer e.orderLocks.Lock(orderID)()

	prev, ok := e.arena.order(orderID)
	if !ok {
		return orders.Order{}, nil, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID)
	}
	if err := orders.CheckTransition(prev.Status, to); err != nil {
		return orders.Order{}, nil, err
	}

	next := prev.Clone()
	next.Status = to
	next.UpdatedAt = e.clock()
	c := change{prev: &prev, next: &next}

	switch to {
	case orders.StatusConfirmed:
		if err := e.items.reprice(&next); err != nil {
			return orders.Order{}, nil, err
		}
		if next.Total, err = e.calc.Recompute(next); err != nil {
			return orders.Order{}, nil, err
		}
		c.need = next.QtyByProduct()
	case orders.StatusPaid:
		// Stock was verified at confirmation, but may have been lowered since.
		c.need = prev.QtyByProduct()
		c.stockDelta = make(map[string]int, len(c.need))
		for pid, qty := range c.need {
			c.stockDelta[pid] = -qty
		}
	}

	moved, err := e.apply(ctx, c)
	if err != nil {
		return orders.Order{}, nil, err
	}

	e.log.Info("order transitioned",
		zap.String("order_id", orderID),
		zap.String("from", string(prev.Status)),
		zap.String("to", string(to)),
	)
	snapshot := next.Clone()
	events := []orders.Event{{
		Type:           orders.EventStatusChanged,
		OrderID:        orderID,
		PreviousStatus: prev.Status,
		Status:         to,
		Order:          &snapshot,
	}}
	if len(moved) > 0 {
		events = append(events, orders.Event{
			Type:         orders.EventStockAdjusted,
			OrderID:      orderID,
			Status:       to,
			Reason:       orders.StockReasonPaid,
			StockChanges: moved,
		})
	}
	return next, events, nil
}
