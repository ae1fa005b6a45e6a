package orders

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	legal := map[[2]Status]bool{
		{StatusPending, StatusConfirmed}:   true,
		{StatusPending, StatusCancelled}:   true,
		{StatusConfirmed, StatusPaid}:      true,
		{StatusConfirmed, StatusCancelled}: true,
		{StatusPaid, StatusShipped}:        true,
		{StatusShipped, StatusDelivered}:   true,
	}
	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			want := legal[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
			err := CheckTransition(from, to)
			if want {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrIllegalTransition)
				assert.NotErrorIs(t, err, ErrUnknownStatus)
			}
		}
	}
}

func TestCheckTransitionUnknownTarget(t *testing.T) {
	err := CheckTransition(StatusPending, Status("REFUNDED"))
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.ErrorIs(t, err, ErrUnknownStatus)
	assert.Equal(t, KindUnknownStatus, KindOf(err))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("  shipped\n")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, s)

	for _, raw := range []string{"", "refunded", "PEND"} {
		_, err := ParseStatus(raw)
		assert.ErrorIs(t, err, ErrUnknownStatus, raw)
	}
}

func TestStatusPredicates(t *testing.T) {
	cases := []struct {
		status                                          Status
		itemsMutable, reserving, soft, price, deletable bool
	}{
		{StatusPending, true, false, true, true, true},
		{StatusConfirmed, true, true, false, false, true},
		{StatusPaid, false, false, false, false, false},
		{StatusShipped, false, false, false, false, false},
		{StatusDelivered, false, false, false, false, false},
		{StatusCancelled, false, false, false, false, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.itemsMutable, tc.status.ItemsMutable())
			assert.Equal(t, tc.reserving, tc.status.Reserving())
			assert.Equal(t, tc.soft, tc.status.SoftReserving())
			assert.Equal(t, tc.price, tc.status.PriceMutable())
			assert.Equal(t, tc.deletable, tc.status.Deletable())
		})
	}
	assert.False(t, Status("nope").Deletable())
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", ErrProductUnknown), KindProductUnknown},
		{fmt.Errorf("x: %w", ErrItemNotFound), KindItemNotFound},
		{fmt.Errorf("x: %w", ErrOrderNotFound), KindNotFound},
		{ErrInvalidQuantity, KindInvalidQuantity},
		{ErrInvalidDiscount, KindInvalidDiscount},
		{&InsufficientStockError{Shortfalls: []StockShortfall{{ProductID: "p"}}}, KindInsufficientStock},
		{ErrOrderNotModifiable, KindOrderNotModifiable},
		{ErrOrderExists, KindConflict},
		{fmt.Errorf("%w: SHIPPED -> PAID", ErrIllegalTransition), KindIllegalTransition},
		{context.DeadlineExceeded, KindInternal},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KindOf(tc.err), "%v", tc.err)
	}
	assert.ErrorIs(t, ErrProductUnknown, ErrNotFound)
	assert.ErrorIs(t, ErrItemNotFound, ErrNotFound)
}

func TestInsufficientStockErrorMessage(t *testing.T) {
	one := &InsufficientStockError{Shortfalls: []StockShortfall{{ProductID: "p1", Required: 3, Available: 1}}}
	assert.Equal(t, "insufficient stock: product p1 requires 3, available 1", one.Error())

	many := &InsufficientStockError{OrderID: "o1", Shortfalls: make([]StockShortfall, 2)}
	assert.Equal(t, "insufficient stock: 2 products short for order o1", many.Error())
}

type recordingPublisher struct {
	got []string
	err error
}

func (r *recordingPublisher) PublishOrderEvent(_ context.Context, ev Event) error {
	r.got = append(r.got, ev.Type)
	return r.err
}

func TestPublishersFanOut(t *testing.T) {
	first := &recordingPublisher{err: errors.New("broker down")}
	second := &recordingPublisher{}
	ps := Publishers{first, nil, second}

	err := ps.PublishOrderEvent(context.Background(), Event{Type: EventOrderCreated})
	require.ErrorContains(t, err, "broker down")
	assert.Equal(t, []string{EventOrderCreated}, first.got)
	assert.Equal(t, []string{EventOrderCreated}, second.got, "one failing publisher does not starve the rest")
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, TopicOrderCreated, TopicFor(EventOrderCreated))
	for _, typ := range []string{EventItemAdded, EventItemUpdated, EventItemRemoved, EventDiscountChanged} {
		assert.Equal(t, TopicOrderItemsChanged, TopicFor(typ))
	}
	assert.Equal(t, TopicOrderStatusChanged, TopicFor(EventStatusChanged))
	assert.Equal(t, TopicStockWarning, TopicFor(EventStockWarning))
	assert.Equal(t, TopicProductChanged, TopicFor(EventProductChanged))
	assert.Empty(t, TopicFor(EventCatalogProductUpdated))
}

func TestOrderHelpers(t *testing.T) {
	o := Order{ID: "o1", Items: []LineItem{
		{ID: "i1", ProductID: "b", Qty: 2},
		{ID: "i2", ProductID: "a", Qty: 1},
		{ID: "i3", ProductID: "b", Qty: 3},
	}}
	assert.Equal(t, map[string]int{"a": 1, "b": 5}, o.QtyByProduct())
	assert.Equal(t, []string{"a", "b"}, o.ProductIDs())

	it, idx, ok := o.Item("i3")
	require.True(t, ok)
	assert.Equal(t, 2, idx)
	assert.Equal(t, 3, it.Qty)
	_, _, ok = o.Item("nope")
	assert.False(t, ok)

	c := o.Clone()
	c.Items[0].Qty = 99
	assert.Equal(t, 2, o.Items[0].Qty)
}
