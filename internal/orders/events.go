package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated    = "OrderCreated"
	EventItemAdded       = "OrderItemAdded"
	EventItemUpdated     = "OrderItemUpdated"
	EventItemRemoved     = "OrderItemRemoved"
	EventDiscountChanged = "OrderDiscountChanged"
	EventStatusChanged   = "OrderStatusChanged"
	EventOrderDeleted    = "OrderDeleted"
	EventStockAdjusted   = "StockAdjusted"
	EventStockWarning    = "StockConsistencyWarning"
	EventProductChanged  = "ProductChanged"
)

// EventCatalogProductUpdated is consumed from the catalog feed, never emitted.
const EventCatalogProductUpdated = "CatalogProductUpdated"

// Reasons carried by EventStockAdjusted.
const (
	StockReasonPaid    = "PAID"
	StockReasonRestock = "RESTOCK"
	StockReasonCount   = "COUNT"
)

// Event is emitted by the engine after a mutation has been applied.
type Event struct {
	Type           string
	OrderID        string
	PreviousStatus Status
	Status         Status
	Order          *Order
	Product        *Product
	Reason         string
	StockChanges   []StockChange
	Warning        *ConsistencyWarning
	OccurredAt     time.Time
}

type StockChange struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
	Stock     int    `json:"stock"`
}

// Publisher delivers lifecycle events. Failures are logged by the caller, never rolled back.
type Publisher interface {
	PublishOrderEvent(ctx context.Context, ev Event) error
}

// Publishers fans one event out to several publishers.
type Publishers []Publisher

func (ps Publishers) PublishOrderEvent(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.PublishOrderEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id or product_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type OrderSnapshotPayload struct {
	OrderID        string          `json:"order_id"`
	Status         Status          `json:"status"`
	PreviousStatus Status          `json:"previous_status,omitempty"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	Items          []LineItem      `json:"items"`
}

type OrderDeletedPayload struct {
	OrderID string `json:"order_id"`
	Status  Status `json:"status"`
}

type StockAdjustedPayload struct {
	OrderID string        `json:"order_id,omitempty"`
	Reason  string        `json:"reason"`
	Changes []StockChange `json:"changes"`
}

type StockWarningPayload struct {
	Warning ConsistencyWarning `json:"warning"`
}

type ProductChangedPayload struct {
	Product Product `json:"product"`
}

// CatalogProductPayload is consumed from the catalog feed. A nil Stock leaves stock untouched.
type CatalogProductPayload struct {
	ProductID string           `json:"product_id"`
	SKU       string           `json:"sku,omitempty"`
	Name      string           `json:"name,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Stock     *int             `json:"stock,omitempty"`
}
