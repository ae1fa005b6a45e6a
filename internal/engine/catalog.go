package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

// ProductInput is a catalog edit. Nil Price or Stock keeps the current value; a new
// product needs a price.
type ProductInput struct {
	ID    string
	SKU   string
	Name  string
	Price *decimal.Decimal
	Stock *int
}

func (e *Engine) Product(_ context.Context, productID string) (orders.Product, error) {
	p, ok := e.arena.product(productID)
	if !ok {
		return orders.Product{}, fmt.Errorf("%w: %s", orders.ErrProductUnknown, productID)
	}
	return p, nil
}

// Products lists the catalog sorted by id.
func (e *Engine) Products(_ context.Context) []orders.Product {
	list := e.arena.productList()
	slices.SortFunc(list, func(a, b orders.Product) int { return strings.Compare(a.ID, b.ID) })
	return list
}

// UpsertProduct creates or edits a product. Price changes never touch confirmed lines;
// pending orders pick the new price up on their next edit or at confirmation.
func (e *Engine) UpsertProduct(ctx context.Context, in ProductInput) (_ orders.Product, err error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = e.newID()
	}
	ctx, end := e.span(ctx, "product.upsert", attribute.String("product.id", id))
	defer func() { end(err) }()

	if in.Price != nil && in.Price.IsNegative() {
		return orders.Product{}, fmt.Errorf("%w: negative price %s", orders.ErrInvalidQuantity, in.Price)
	}
	if in.Stock != nil {
		if err := validStock(*in.Stock); err != nil {
			return orders.Product{}, err
		}
	}
	if err := ctxErr(ctx); err != nil {
		return orders.Product{}, err
	}
	next, prevStock, err := e.upsertLocked(ctx, id, in)
	if err != nil {
		return orders.Product{}, err
	}

	snapshot := next
	e.publish(ctx, orders.Event{Type: orders.EventProductChanged, Product: &snapshot})
	if delta := next.Stock - prevStock; delta != 0 {
		e.publishStock(ctx, orders.StockReasonRestock, orders.StockChange{ProductID: id, Delta: delta, Stock: next.Stock})
	}
	return next, nil
}

// upsertLocked writes the product under its lock and returns it with the stock it
// replaced.
func (e *Engine) upsertLocked(ctx context.Context, id string, in ProductInput) (orders.Product, int, error) {
	defer e.productLocks.Lock(id)()

	now := e.clock()
	next, exists := e.arena.product(id)
	if !exists {
		if in.Price == nil {
			return orders.Product{}, 0, fmt.Errorf("%w: price required for new product %s", orders.ErrInvalidQuantity, id)
		}
		next = orders.Product{ID: id, CreatedAt: now}
	}
	prevStock := next.Stock

	if sku := strings.TrimSpace(in.SKU); sku != "" {
		next.SKU = sku
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		next.Name = name
	}
	if in.Price != nil {
		next.Price = *in.Price
	}
	if in.Stock != nil {
		if err := e.checkBelowReserved(id, *in.Stock); err != nil {
			return orders.Product{}, 0, err
		}
		next.Stock = *in.Stock
	}
	next.UpdatedAt = now

	if err := e.saveProduct(ctx, next); err != nil {
		return orders.Product{}, 0, err
	}
	return next, prevStock, nil
}

// SetStock replaces on-hand stock. It refuses to go below what confirmed orders reserve.
func (e *Engine) SetStock(ctx context.Context, productID string, stock int) (_ orders.Product, err error) {
	ctx, end := e.span(ctx, "product.stock.set",
		attribute.String("product.id", productID),
		attribute.Int("product.stock", stock),
	)
	defer func() { end(err) }()

	p, _, err := e.writeStock(ctx, productID, stock, orders.StockReasonRestock, true)
	return p, err
}

// ApplyStockCount records an authoritative physical count. The count is accepted even
// when it undercuts confirmed reservations; the resulting warning is returned, logged
// and published instead of failing.
func (e *Engine) ApplyStockCount(ctx context.Context, productID string, stock int) (_ orders.Product, _ *orders.ConsistencyWarning, err error) {
	ctx, end := e.span(ctx, "product.stock.count",
		attribute.String("product.id", productID),
		attribute.Int("product.stock", stock),
	)
	defer func() { end(err) }()

	return e.writeStock(ctx, productID, stock, orders.StockReasonCount, false)
}

func (e *Engine) writeStock(ctx context.Context, productID string, stock int, reason string, strict bool) (orders.Product, *orders.ConsistencyWarning, error) {
	if err := validStock(stock); err != nil {
		return orders.Product{}, nil, err
	}
	if err := ctxErr(ctx); err != nil {
		return orders.Product{}, nil, err
	}
	unlock := e.productLocks.Lock(productID)

	p, ok := e.arena.product(productID)
	if !ok {
		unlock()
		return orders.Product{}, nil, fmt.Errorf("%w: %s", orders.ErrProductUnknown, productID)
	}
	if strict {
		if err := e.checkBelowReserved(productID, stock); err != nil {
			unlock()
			return orders.Product{}, nil, err
		}
	}
	delta := stock - p.Stock
	p.Stock = stock
	p.UpdatedAt = e.clock()
	if err := e.saveProduct(ctx, p); err != nil {
		unlock()
		return orders.Product{}, nil, err
	}

	av, err := e.ledger.availabilityLocked(productID)
	unlock()
	if err != nil {
		return orders.Product{}, nil, err
	}

	if delta != 0 {
		e.publishStock(ctx, reason, orders.StockChange{ProductID: productID, Delta: delta, Stock: stock})
	}
	if av.Warning != nil {
		e.log.Warn("stock below reservations",
			zap.String("product_id", productID),
			zap.Int("stock", av.Stock),
			zap.Int("reserved", av.Reserved),
			zap.Int("available", av.Available),
		)
		e.publish(ctx, orders.Event{Type: orders.EventStockWarning, Warning: av.Warning})
	}
	return p, av.Warning, nil
}

// checkBelowReserved runs under the product's write lock.
func (e *Engine) checkBelowReserved(productID string, stock int) error {
	_, reserved, _, _ := e.arena.counts(productID)
	if stock < reserved {
		return &orders.InsufficientStockError{
			Shortfalls: []orders.StockShortfall{{ProductID: productID, Required: reserved, Available: stock}},
		}
	}
	return nil
}

func (e *Engine) saveProduct(ctx context.Context, p orders.Product) error {
	if err := e.store.SaveProduct(ctx, p); err != nil {
		e.log.Error("persist product", zap.String("product_id", p.ID), zap.Error(err))
		return fmt.Errorf("persist product %s: %w", p.ID, err)
	}
	e.arena.putProduct(p)
	return nil
}

func (e *Engine) publishStock(ctx context.Context, reason string, changes ...orders.StockChange) {
	e.publish(ctx, orders.Event{Type: orders.EventStockAdjusted, Reason: reason, StockChanges: changes})
}

func validStock(stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: negative stock %d", orders.ErrInvalidQuantity, stock)
	}
	return nil
}
