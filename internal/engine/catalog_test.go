package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

func TestUpsertProduct(t *testing.T) {
	e, _, events := newTestEngine(t)
	ctx := context.Background()

	p, err := e.UpsertProduct(ctx, ProductInput{ID: " sku-1 ", SKU: "SKU-1", Name: "Mug", Price: decPtr("7.25"), Stock: intPtr(4)})
	require.NoError(t, err)
	assert.Equal(t, "sku-1", p.ID)
	assert.Equal(t, "Mug", p.Name)
	assert.Equal(t, 4, p.Stock)
	assert.Equal(t, testNow, p.CreatedAt)
	assert.Equal(t, []string{orders.EventProductChanged, orders.EventStockAdjusted}, events.types())

	restock := events.ofType(orders.EventStockAdjusted)[0]
	assert.Equal(t, orders.StockReasonRestock, restock.Reason)
	assert.Equal(t, []orders.StockChange{{ProductID: "sku-1", Delta: 4, Stock: 4}}, restock.StockChanges)

	events.reset()
	p, err = e.UpsertProduct(ctx, ProductInput{ID: "sku-1", Name: "Big mug"})
	require.NoError(t, err)
	assert.Equal(t, "Big mug", p.Name)
	assert.Equal(t, "SKU-1", p.SKU)
	assertDecimal(t, "7.25", p.Price)
	assert.Equal(t, 4, p.Stock)
	assert.Equal(t, []string{orders.EventProductChanged}, events.types(), "no stock movement, no stock event")

	generated, err := e.UpsertProduct(ctx, ProductInput{Price: decPtr("1")})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)

	list := e.Products(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, generated.ID, list[0].ID)
	assert.Equal(t, "sku-1", list[1].ID)
}

func TestUpsertProductValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	seedProduct(t, e, "p1", "1.00", 1)

	cases := []struct {
		name string
		in   ProductInput
		want error
	}{
		{"new product without price", ProductInput{ID: "p2", Stock: intPtr(1)}, orders.ErrInvalidQuantity},
		{"negative price", ProductInput{ID: "p1", Price: decPtr("-0.01")}, orders.ErrInvalidQuantity},
		{"negative stock", ProductInput{ID: "p1", Stock: intPtr(-1)}, orders.ErrInvalidQuantity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.UpsertProduct(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := e.Product(ctx, "p2")
	require.ErrorIs(t, err, orders.ErrProductUnknown)
	p, err := e.Product(ctx, "p1")
	require.NoError(t, err)
	assertDecimal(t, "1.00", p.Price)
	assert.Equal(t, 1, p.Stock)
}

func TestSetStockRespectsReservations(t *testing.T) {
	e, _, events := newTestEngine(t)
	ctx := context.Background()
	seedProduct(t, e, "p1", "1.00", 5)
	o := newOrder(t, e, ItemInput{ProductID: "p1", Qty: 3})
	_, err := e.ConfirmOrder(ctx, o.ID)
	require.NoError(t, err)
	events.reset()

	_, err = e.SetStock(ctx, "p1", 2)
	require.ErrorIs(t, err, orders.ErrInsufficientStock)
	var short *orders.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, []orders.StockShortfall{{ProductID: "p1", Required: 3, Available: 2}}, short.Shortfalls)
	assert.Equal(t, 5, stockOf(t, e, "p1"))

	_, err = e.UpsertProduct(ctx, ProductInput{ID: "p1", Stock: intPtr(2)})
	require.ErrorIs(t, err, orders.ErrInsufficientStock)
	assert.Empty(t, events.types())

	p, err := e.SetStock(ctx, "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)
	av, err := e.Ledger().AvailableQuantity("p1")
	require.NoError(t, err)
	assert.Equal(t, 0, av.Available)

	adjusted := events.ofType(orders.EventStockAdjusted)
	require.Len(t, adjusted, 1)
	assert.Equal(t, []orders.StockChange{{ProductID: "p1", Delta: -2, Stock: 3}}, adjusted[0].StockChanges)

	_, err = e.SetStock(ctx, "p1", -1)
	require.ErrorIs(t, err, orders.ErrInvalidQuantity)
	_, err = e.SetStock(ctx, "nope", 1)
	require.ErrorIs(t, err, orders.ErrProductUnknown)
}

func TestStockCountBelowReservationsWarns(t *testing.T) {
	e, _, events := newTestEngine(t)
	ctx := context.Background()
	seedProduct(t, e, "a", "1.00", 4)
	seedProduct(t, e, "b", "1.00", 4)
	o := newOrder(t, e, ItemInput{ProductID: "a", Qty: 4})
	_, err := e.ConfirmOrder(ctx, o.ID)
	require.NoError(t, err)
	events.reset()

	p, warning, err := e.ApplyStockCount(ctx, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)
	require.NotNil(t, warning)
	assert.Equal(t, -3, warning.Available)

	av, err := e.Ledger().AvailableQuantity("a")
	require.NoError(t, err)
	assert.Equal(t, -3, av.Available)
	require.NotNil(t, av.Warning)

	warned := events.ofType(orders.EventStockWarning)
	require.Len(t, warned, 1)
	assert.Equal(t, *warning, *warned[0].Warning)
	counted := events.ofType(orders.EventStockAdjusted)
	require.Len(t, counted, 1)
	assert.Equal(t, orders.StockReasonCount, counted[0].Reason)

	assert.Equal(t, []orders.ConsistencyWarning{*warning}, e.Ledger().Warnings())
	report := e.Ledger().Report()
	require.Len(t, report, 2)
	assert.Equal(t, "a", report[0].ProductID)
	assert.Nil(t, report[1].Warning)
	assert.Empty(t, e.Ledger().Audit(), "a warning is not drift")

	_, warning, err = e.ApplyStockCount(ctx, "b", 4)
	require.NoError(t, err)
	assert.Nil(t, warning)
}

func TestLedgerQueries(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	seedProduct(t, e, "p1", "1.00", 10)

	assert.Equal(t, 0, e.Ledger().ReservedQuantity("unknown"))
	assert.Equal(t, 0, e.Ledger().SoftReservedQuantity("unknown"))
	_, err := e.Ledger().AvailableQuantity("unknown")
	require.ErrorIs(t, err, orders.ErrProductUnknown)

	pending := newOrder(t, e, ItemInput{ProductID: "p1", Qty: 2})
	confirmed := newOrder(t, e, ItemInput{ProductID: "p1", Qty: 3})
	_, err = e.ConfirmOrder(ctx, confirmed.ID)
	require.NoError(t, err)

	av, err := e.Ledger().AvailableQuantity("p1")
	require.NoError(t, err)
	assert.Equal(t, Availability{ProductID: "p1", Stock: 10, Reserved: 3, SoftReserved: 2, Available: 7}, av)

	_, err = e.CancelOrder(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Ledger().SoftReservedQuantity("p1"))
}

func TestFailedProductSaveKeepsCatalog(t *testing.T) {
	e, store, events := newTestEngine(t)
	ctx := context.Background()
	seedProduct(t, e, "p1", "1.00", 2)
	events.reset()

	store.saveProductFn = func(context.Context, orders.Product) error { return errors.New("disk full") }
	_, err := e.UpsertProduct(ctx, ProductInput{ID: "p1", Price: decPtr("9.00")})
	require.Error(t, err)
	assert.Equal(t, orders.KindInternal, orders.KindOf(err))
	_, _, err = e.ApplyStockCount(ctx, "p1", 0)
	require.Error(t, err)

	p, err := e.Product(ctx, "p1")
	require.NoError(t, err)
	assertDecimal(t, "1.00", p.Price)
	assert.Equal(t, 2, p.Stock)
	assert.Empty(t, events.types())
}
