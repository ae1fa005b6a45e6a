package engine

import (
	"sync"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

// arena holds every entity addressed by id. Its mutex only guards memory access;
// logical atomicity comes from the order and product lock sets held by the engine.
type arena struct {
	mu       sync.RWMutex
	products map[string]orders.Product
	orders   map[string]orders.Order
	itemIdx  map[string]string // line item id -> order id
	reserved map[string]int    // product id -> qty held by reserving orders
	soft     map[string]int    // product id -> qty held by soft-reserving orders
}

func newArena() *arena {
	return &arena{
		products: make(map[string]orders.Product),
		orders:   make(map[string]orders.Order),
		itemIdx:  make(map[string]string),
		reserved: make(map[string]int),
		soft:     make(map[string]int),
	}
}

func (a *arena) product(id string) (orders.Product, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.products[id]
	return p, ok
}

func (a *arena) productList() []orders.Product {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]orders.Product, 0, len(a.products))
	for _, p := range a.products {
		out = append(out, p)
	}
	return out
}

func (a *arena) putProduct(p orders.Product) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.products[p.ID] = p
}

func (a *arena) order(id string) (orders.Order, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.orders[id]
	if !ok {
		return orders.Order{}, false
	}
	return o.Clone(), true
}

func (a *arena) orderList() []orders.Order {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]orders.Order, 0, len(a.orders))
	for _, o := range a.orders {
		out = append(out, o.Clone())
	}
	return out
}

func (a *arena) orderOfItem(itemID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.itemIdx[itemID]
	return id, ok
}

func (a *arena) counts(productID string) (stock, reserved, soft int, known bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, known := a.products[productID]
	return p.Stock, a.reserved[productID], a.soft[productID], known
}

// account adds (sign=+1) or removes (sign=-1) o's contribution to the ledger views.
// Caller holds a.mu.
func (a *arena) account(o orders.Order, sign int) {
	var view map[string]int
	switch {
	case o.Status.Reserving():
		view = a.reserved
	case o.Status.SoftReserving():
		view = a.soft
	default:
		return
	}
	for pid, qty := range o.QtyByProduct() {
		view[pid] += sign * qty
		if view[pid] == 0 {
			delete(view, pid)
		}
	}
}

func (a *arena) index(o orders.Order, add bool) {
	for _, it := range o.Items {
		if add {
			a.itemIdx[it.ID] = o.ID
		} else {
			delete(a.itemIdx, it.ID)
		}
	}
}

// commit replaces prev with next in one step. A nil prev creates, a nil next deletes.
// stock holds the new on-hand figure for every product whose stock changed.
func (a *arena) commit(prev, next *orders.Order, stock map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev != nil {
		a.account(*prev, -1)
		a.index(*prev, false)
		delete(a.orders, prev.ID)
	}
	if next != nil {
		n := next.Clone()
		a.account(n, +1)
		a.index(n, true)
		a.orders[n.ID] = n
	}
	for pid, s := range stock {
		p := a.products[pid]
		p.Stock = s
		a.products[pid] = p
	}
}

// reset swaps in a full snapshot and rebuilds the derived views.
func (a *arena) reset(products []orders.Product, list []orders.Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.products = make(map[string]orders.Product, len(products))
	a.orders = make(map[string]orders.Order, len(list))
	a.itemIdx = make(map[string]string)
	a.reserved = make(map[string]int)
	a.soft = make(map[string]int)
	for _, p := range products {
		a.products[p.ID] = p
	}
	for _, o := range list {
		o = o.Clone()
		a.orders[o.ID] = o
		a.index(o, true)
		a.account(o, +1)
	}
}
