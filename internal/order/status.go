// Package order defines the checkout order lifecycle.
//
// An order starts PENDING with a reservation window. From there it moves to
// exactly one terminal state: PAID, EXPIRED or CANCELLED.
package order

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of an order
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when a status change is not allowed
var ErrInvalidTransition = errors.New("invalid order status transition")

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusExpired, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// ReleasesStock reports whether reaching s returns reserved units to the ledger.
func (s Status) ReleasesStock() bool {
	return s == StatusExpired || s == StatusCancelled
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates a move from s to next.
func Transition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
