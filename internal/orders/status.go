package orders

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusPaid      Status = "PAID"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusPaid: true, StatusCancelled: true},
	StatusPaid:      {StatusShipped: true},
	StatusShipped:   {StatusDelivered: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

// AllStatuses lists every recognised status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled}
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// CheckTransition reports why from -> to is not allowed, or nil if it is.
func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrIllegalTransition, ErrUnknownStatus, string(to))
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// ParseStatus accepts any casing and surrounding whitespace.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %w: %q", ErrIllegalTransition, ErrUnknownStatus, raw)
	}
	return s, nil
}

// ItemsMutable is the item/discount edit predicate, kept apart from the transition table.
func (s Status) ItemsMutable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Reserving states count toward the stock ledger's reserved quantity.
func (s Status) Reserving() bool {
	return s == StatusConfirmed
}

// SoftReserving states are shown as held but do not block other orders.
func (s Status) SoftReserving() bool {
	return s == StatusPending
}

// PriceMutable states re-price every line from the catalog on each mutation.
func (s Status) PriceMutable() bool {
	return s == StatusPending
}

// Deletable is false once money has moved.
func (s Status) Deletable() bool {
	switch s {
	case StatusPaid, StatusShipped, StatusDelivered:
		return false
	}
	return s.Valid()
}
