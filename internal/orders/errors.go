package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrProductUnknown and ErrItemNotFound also match ErrNotFound.
	ErrProductUnknown = fmt.Errorf("product %w", ErrNotFound)
	ErrItemNotFound   = fmt.Errorf("line item %w", ErrNotFound)
	ErrOrderNotFound  = fmt.Errorf("order %w", ErrNotFound)

	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidDiscount    = errors.New("invalid discount")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrOrderNotModifiable = errors.New("order not modifiable")
	ErrIllegalTransition  = errors.New("illegal transition")
	ErrOrderExists        = errors.New("order already exists")
	// ErrUnknownStatus is always wrapped together with ErrIllegalTransition.
	ErrUnknownStatus = errors.New("unknown status")
)

// Kind names used by the HTTP layer and in logs.
const (
	KindNotFound           = "NotFound"
	KindProductUnknown     = "ProductUnknown"
	KindItemNotFound       = "ItemNotFound"
	KindInvalidQuantity    = "InvalidQuantity"
	KindInvalidDiscount    = "InvalidDiscount"
	KindInsufficientStock  = "InsufficientStock"
	KindOrderNotModifiable = "OrderNotModifiable"
	KindIllegalTransition  = "IllegalTransition"
	KindUnknownStatus      = "UnknownStatus"
	KindConflict           = "Conflict"
	KindInternal           = "Internal"
)

// KindOf maps err onto the failure taxonomy, most specific kind first.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProductUnknown):
		return KindProductUnknown
	case errors.Is(err, ErrItemNotFound):
		return KindItemNotFound
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidQuantity):
		return KindInvalidQuantity
	case errors.Is(err, ErrInvalidDiscount):
		return KindInvalidDiscount
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrOrderNotModifiable):
		return KindOrderNotModifiable
	case errors.Is(err, ErrOrderExists):
		return KindConflict
	case errors.Is(err, ErrUnknownStatus):
		return KindUnknownStatus
	case errors.Is(err, ErrIllegalTransition):
		return KindIllegalTransition
	}
	return KindInternal
}

// StockShortfall details one product that failed an availability check.
type StockShortfall struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// InsufficientStockError carries every shortfall found by a single check.
type InsufficientStockError struct {
	OrderID    string
	Shortfalls []StockShortfall
}

func (e *InsufficientStockError) Error() string {
	if len(e.Shortfalls) == 1 {
		s := e.Shortfalls[0]
		return fmt.Sprintf("insufficient stock: product %s requires %d, available %d", s.ProductID, s.Required, s.Available)
	}
	return fmt.Sprintf("insufficient stock: %d products short for order %s", len(e.Shortfalls), e.OrderID)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ConsistencyWarning is surfaced, never returned as an error: an external stock edit
// pushed stock below what confirmed orders already reserve.
type ConsistencyWarning struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

func (w ConsistencyWarning) String() string {
	return fmt.Sprintf("product %s: stock %d below reserved %d (available %d)", w.ProductID, w.Stock, w.Reserved, w.Available)
}
