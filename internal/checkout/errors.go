package checkout

import (
	"errors"
	"fmt"
)

// Kind classifies every error the orchestrator returns
type Kind int

const (
	KindInternal Kind = iota
	KindEmptyCart
	KindInvalidCart
	KindInsufficientStock
	KindNoPendingOrder
	KindOrderExpired
	KindPaymentDeclined
	KindNotFound
)

var kindNames = map[Kind]string{
	KindInternal:          "internal error",
	KindEmptyCart:         "cart is empty",
	KindInvalidCart:       "cart has an invalid quantity",
	KindInsufficientStock: "insufficient stock",
	KindNoPendingOrder:    "no pending order",
	KindOrderExpired:      "order expired",
	KindPaymentDeclined:   "payment declined",
	KindNotFound:          "not found",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the typed result of a failed checkout operation
type Error struct {
	Kind Kind
	Op   string
	// Subject names what the error is about: a book title for
	// KindInsufficientStock, a SKU or order id for KindNotFound.
	Subject string
	Err     error
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrEmptyCart         = &Error{Kind: KindEmptyCart}
	ErrInvalidCart       = &Error{Kind: KindInvalidCart}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrNoPendingOrder    = &Error{Kind: KindNoPendingOrder}
	ErrOrderExpired      = &Error{Kind: KindOrderExpired}
	ErrPaymentDeclined   = &Error{Kind: KindPaymentDeclined}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInternal          = &Error{Kind: KindInternal}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Subject != "" {
		msg = fmt.Sprintf("%s: %q", msg, e.Subject)
	}
	if e.Op != "" {
		msg = "checkout " + e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, KindInternal for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, subject string) *Error {
	return &Error{Kind: kind, Subject: subject}
}

// wrap turns any error into an *Error tagged with op
func wrap(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		out := *e
		if out.Op == "" {
			out.Op = op
		}
		return &out
	}
	return &Error{Kind: KindInternal, Op: op, Err: err}
}
