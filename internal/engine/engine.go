// Package engine implements the order lifecycle and inventory reservation core:
// the order state machine, line item edits, order totals and the stock ledger.
//
// Every order mutation runs inside that order's exclusive section. Steps that read
// or change stock (confirmation, payment, quantity growth of a confirmed order,
// catalog stock edits) additionally hold the exclusive sections of the products
// involved, acquired in id order. A mutation is persisted before it becomes visible
// in memory, so a failure at any step leaves both unchanged.
package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

const tracerName = "github.com/ariefcatur/go-order-lifecycle/internal/engine"

// Persister durably stores the outcome of a mutation. It is called while the engine
// still holds the relevant locks; a returned error aborts the mutation.
type Persister interface {
	SaveOrder(ctx context.Context, o orders.Order, stock []orders.StockChange) error
	DeleteOrder(ctx context.Context, orderID string) error
	SaveProduct(ctx context.Context, p orders.Product) error
}

type noopPersister struct{}

func (noopPersister) SaveOrder(context.Context, orders.Order, []orders.StockChange) error { return nil }
func (noopPersister) DeleteOrder(context.Context, string) error { return nil }
func (noopPersister) SaveProduct(context.Context, orders.Product) error { return nil }

// Deps bundles the engine's collaborators. All fields are optional.
type Deps struct {
	Store          Persister
	Events         orders.Publisher
	Logger         *zap.Logger
	Tracer         trace.Tracer
	Clock          func() time.Time
	IDGenerator    func() string
	// CurrencyPlaces defaults to DefaultCurrencyPlaces when nil or outside [0, MaxCurrencyPlaces].
	CurrencyPlaces *int32
}

type Engine struct {
	arena        *arena
	orderLocks   *lockSet
	productLocks *lockSet
	ledger       *Ledger
	items        itemManager
	calc         Calculator

	store  Persister
	events orders.Publisher
	log    *zap.Logger
	tracer trace.Tracer
	clock  func() time.Time
	newID  func() string
}

func New(deps Deps) *Engine {
	store := deps.Store
	if store == nil {
		store = noopPersister{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	places := DefaultCurrencyPlaces
	if p := deps.CurrencyPlaces; p != nil && *p >= 0 && *p <= MaxCurrencyPlaces {
		places = *p
	}

	a := newArena()
	productLocks := newLockSet()
	calc := Calculator{Places: places}
	return &Engine{
		arena:        a,
		orderLocks:   newLockSet(),
		productLocks: productLocks,
		ledger:       &Ledger{arena: a, locks: productLocks},
		items:        itemManager{calc: calc, newID: newID, product: a.product},
		calc:         calc,
		store:        store,
		events:       deps.Events,
		log:          logger,
		tracer:       tracer,
		clock:        func() time.Time { return clock().UTC() },
		newID:        newID,
	}
}

func (e *Engine) Ledger() *Ledger { return e.ledger }

// Restore replaces all in-memory state with a persisted snapshot. It must run before
// the engine serves requests.
func (e *Engine) Restore(products []orders.Product, list []orders.Order) {
	e.arena.reset(products, list)
	e.log.Info("engine restored", zap.Int("products", len(products)), zap.Int("orders", len(list)))
}

func (e *Engine) Order(_ context.Context, orderID string) (orders.Order, error) {
	defer e.orderLocks.RLock(orderID)()
	o, ok := e.arena.order(orderID)
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID)
	}
	return o, nil
}

func (e *Engine) Orders(_ context.Context) []orders.Order {
	return e.arena.orderList()
}

// change describes the outcome of one order mutation before it is applied.
type change struct {
	prev *orders.Order // nil when creating
	next *orders.Order // nil when deleting

	// stockDelta is added to on-hand stock per product (payment).
	stockDelta map[string]int
	// need is checked against availability under product locks.
	need       map[string]int
	growthOnly bool
}

func reserving(o *orders.Order) bool { return o != nil && o.Status.Reserving() }

// lockKeys lists the products whose stock or reservation the change can move.
func (c change) lockKeys() []string {
	var keys []string
	if reserving(c.prev) {
		keys = append(keys, c.prev.ProductIDs()...)
	}
	if reserving(c.next) {
		keys = append(keys, c.next.ProductIDs()...)
	}
	for pid := range c.stockDelta {
		keys = append(keys, pid)
	}
	return keys
}

// apply runs the stock checks, persists and commits c, returning the stock movements it
// made. The caller holds the order lock.
func (e *Engine) apply(ctx context.Context, c change) ([]orders.StockChange, error) {
	defer e.productLocks.LockAll(c.lockKeys())()

	orderID := ""
	if c.next != nil {
		orderID = c.next.ID
	} else if c.prev != nil {
		orderID = c.prev.ID
	}

	if len(c.need) > 0 {
		own := map[string]int{}
		if reserving(c.prev) {
			own = c.prev.QtyByProduct()
		}
		short, err := e.ledger.shortfallsLocked(c.need, own, c.growthOnly)
		if err != nil {
			return nil, err
		}
		if len(short) > 0 {
			e.log.Info("stock check rejected",
				zap.String("order_id", orderID),
				zap.Any("shortfalls", short),
			)
			return nil, &orders.InsufficientStockError{OrderID: orderID, Shortfalls: short}
		}
	}

	var stockChanges []orders.StockChange
	newStock := make(map[string]int, len(c.stockDelta))
	for _, pid := range sortedKeys(c.stockDelta) {
		stock, _, _, known := e.arena.counts(pid)
		if !known {
			return nil, fmt.Errorf("%w: %s", orders.ErrProductUnknown, pid)
		}
		s := stock + c.stockDelta[pid]
		if s < 0 {
			return nil, &orders.InsufficientStockError{
				OrderID:    orderID,
				Shortfalls: []orders.StockShortfall{{ProductID: pid, Required: -c.stockDelta[pid], Available: stock}},
			}
		}
		newStock[pid] = s
		stockChanges = append(stockChanges, orders.StockChange{ProductID: pid, Delta: c.stockDelta[pid], Stock: s})
	}

	var err error
	if c.next != nil {
		err = e.store.SaveOrder(ctx, *c.next, stockChanges)
	} else {
		err = e.store.DeleteOrder(ctx, c.prev.ID)
	}
	if err != nil {
		e.log.Error("persist order", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("persist order %s: %w", orderID, err)
	}

	e.arena.commit(c.prev, c.next, newStock)
	return stockChanges, nil
}

// publish hands events to the publisher. Callers release order and product locks first.
func (e *Engine) publish(ctx context.Context, evs ...orders.Event) {
	if e.events == nil {
		return
	}
	for _, ev := range evs {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = e.clock()
		}
		if err := e.events.PublishOrderEvent(ctx, ev); err != nil {
			e.log.Warn("publish order event",
				zap.String("event_type", ev.Type),
				zap.String("order_id", ev.OrderID),
				zap.Error(err),
			)
		}
	}
}

// span starts a traced operation; end records err on the span.
func (e *Engine) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, sp := e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			sp.RecordError(err)
			sp.SetStatus(codes.Error, orders.KindOf(err))
			sp.SetAttributes(attribute.String("error.kind", orders.KindOf(err)))
		}
		sp.End()
	}
}

// ctxErr stops an operation before it takes locks when the caller already gave up.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("operation aborted: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
