package model

import "fmt"

type OrderStatus string

const (
	StatusOpened          OrderStatus = "OPENED"
	StatusFilled          OrderStatus = "FILLED"
	StatusFilledPrivately OrderStatus = "FILLED_PRIVATELY"
	StatusSettleForwarded OrderStatus = "SETTLE_FORWARDED"
	StatusSettled         OrderStatus = "SETTLED"
)

// Rank orders the statuses along the lifecycle. Both fill statuses share a
// rank, so neither can follow the other.
func (s OrderStatus) Rank() int {
	switch s {
	case StatusOpened:
		return 0
	case StatusFilled, StatusFilledPrivately:
		return 1
	case StatusSettleForwarded:
		return 2
	case StatusSettled:
		return 3
	default:
		return -1
	}
}

func (s OrderStatus) Valid() bool {
	return s.Rank() >= 0
}

func (s OrderStatus) IsFilled() bool {
	return s == StatusFilled || s == StatusFilledPrivately
}

func (s OrderStatus) Terminal() bool {
	return s == StatusSettled
}

// CanTransitionTo reports whether next is the immediate successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.Rank() == s.Rank()+1
}

func ParseOrderStatus(v string) (OrderStatus, error) {
	s := OrderStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("invalid order status %q", v)
	}
	return s, nil
}

// FillStatus is the status recorded after a confirmed fill of an order of type t.
func FillStatus(t OrderType) OrderStatus {
	if t.IsPrivate() {
		return StatusFilledPrivately
	}
	return StatusFilled
}
