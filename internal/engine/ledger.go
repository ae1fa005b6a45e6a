package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

// Availability is the ledger view of one product at a point in time.
type Availability struct {
	ProductID    string                     `json:"product_id"`
	Stock        int                        `json:"stock"`
	Reserved     int                        `json:"reserved"`
	SoftReserved int                        `json:"soft_reserved"`
	Available    int                        `json:"available"`
	Warning      *orders.ConsistencyWarning `json:"warning,omitempty"`
}

// Drift is a product whose incrementally maintained reservation disagrees with a
// full recount over the stored orders.
type Drift struct {
	ProductID string `json:"product_id"`
	Tracked   int    `json:"tracked"`
	Recounted int    `json:"recounted"`
}

// Ledger answers reservation and availability queries. It owns no entity; every figure
// is derived from product stock and the line items of reserving orders.
type Ledger struct {
	arena *arena
	locks *lockSet
}

// ReservedQuantity sums the quantities held by confirmed orders. Unknown products
// have no reservations, which is not an error.
func (l *Ledger) ReservedQuantity(productID string) int {
	defer l.locks.RLock(productID)()
	_, reserved, _, _ := l.arena.counts(productID)
	return reserved
}

// SoftReservedQuantity sums pending orders; display only, never blocks a confirmation.
func (l *Ledger) SoftReservedQuantity(productID string) int {
	defer l.locks.RLock(productID)()
	_, _, soft, _ := l.arena.counts(productID)
	return soft
}

// AvailableQuantity is stock minus reserved. A negative figure is returned as is
// together with a ConsistencyWarning.
func (l *Ledger) AvailableQuantity(productID string) (Availability, error) {
	defer l.locks.RLock(productID)()
	return l.availabilityLocked(productID)
}

func (l *Ledger) availabilityLocked(productID string) (Availability, error) {
	stock, reserved, soft, known := l.arena.counts(productID)
	if !known {
		return Availability{}, fmt.Errorf("%w: %s", orders.ErrProductUnknown, productID)
	}
	av := Availability{
		ProductID:    productID,
		Stock:        stock,
		Reserved:     reserved,
		SoftReserved: soft,
		Available:    stock - reserved,
	}
	if av.Available < 0 {
		av.Warning = &orders.ConsistencyWarning{
			ProductID: productID,
			Stock:     stock,
			Reserved:  reserved,
			Available: av.Available,
		}
	}
	return av, nil
}

// Report lists every known product sorted by id.
func (l *Ledger) Report() []Availability {
	products := l.arena.productList()
	slices.SortFunc(products, func(a, b orders.Product) int { return strings.Compare(a.ID, b.ID) })

	out := make([]Availability, 0, len(products))
	for _, p := range products {
		av, err := l.AvailableQuantity(p.ID)
		if err != nil {
			continue
		}
		out = append(out, av)
	}
	return out
}

// Warnings filters Report down to products that are over-reserved.
func (l *Ledger) Warnings() []orders.ConsistencyWarning {
	var out []orders.ConsistencyWarning
	for _, av := range l.Report() {
		if av.Warning != nil {
			out = append(out, *av.Warning)
		}
	}
	return out
}

// Audit recounts reservations from the stored orders and compares them with the
// tracked view. An empty result means the two agree.
func (l *Ledger) Audit() []Drift {
	l.arena.mu.RLock()
	defer l.arena.mu.RUnlock()

	recount := make(map[string]int)
	for _, o := range l.arena.orders {
		if !o.Status.Reserving() {
			continue
		}
		for pid, qty := range o.QtyByProduct() {
			recount[pid] += qty
		}
	}

	seen := make(map[string]bool, len(recount))
	var out []Drift
	for pid, n := range recount {
		seen[pid] = true
		if tracked := l.arena.reserved[pid]; tracked != n {
			out = append(out, Drift{ProductID: pid, Tracked: tracked, Recounted: n})
		}
	}
	for pid, tracked := range l.arena.reserved {
		if !seen[pid] && tracked != 0 {
			out = append(out, Drift{ProductID: pid, Tracked: tracked})
		}
	}
	slices.SortFunc(out, func(a, b Drift) int { return strings.Compare(a.ProductID, b.ProductID) })
	return out
}

// shortfallsLocked checks need against availability while the caller holds the write
// locks of every product in need. own is the caller order's current reservation, which
// does not count against itself. With growthOnly, products whose quantity does not grow
// beyond own are skipped so reductions always succeed.
func (l *Ledger) shortfallsLocked(need, own map[string]int, growthOnly bool) ([]orders.StockShortfall, error) {
	pids := make([]string, 0, len(need))
	for pid := range need {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var out []orders.StockShortfall
	for _, pid := range pids {
		qty := need[pid]
		if growthOnly && qty <= own[pid] {
			continue
		}
		stock, reserved, _, known := l.arena.counts(pid)
		if !known {
			return nil, fmt.Errorf("%w: %s", orders.ErrProductUnknown, pid)
		}
		available := stock - (reserved - own[pid])
		if available < qty {
			out = append(out, orders.StockShortfall{ProductID: pid, Required: qty, Available: available})
		}
	}
	return out, nil
}
