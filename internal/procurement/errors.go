package procurement

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies business errors for callers and transports.
type ErrorKind string

const (
	KindInvalidTransition      ErrorKind = "InvalidTransition"
	KindOverReceipt            ErrorKind = "OverReceipt"
	KindInsufficientReturnable ErrorKind = "InsufficientReturnable"
	KindConcurrentModification ErrorKind = "ConcurrentModification"
	KindValidationFailed       ErrorKind = "ValidationFailed"
	KindNotFound               ErrorKind = "NotFound"
	KindDuplicateRequest       ErrorKind = "DuplicateRequest"
)

// BusinessError is implemented by every expected workflow error.
type BusinessError interface {
	error
	Kind() ErrorKind
	Context() map[string]any
}

var (
	// ErrNotFound indicates a missing order, line or return request.
	ErrNotFound = errors.New("procurement: not found")
	// ErrDuplicateRequest indicates an idempotency key that was already used.
	ErrDuplicateRequest = errors.New("procurement: duplicate request")
)

// Operations that are not status targets but still depend on the order status.
const (
	opReceive       = "RECEIVE"
	opRequestReturn = "REQUEST_RETURN"
	opCorrectDamage = "CORRECT_DAMAGE"
)

// InvalidTransitionError reports an illegal lifecycle move.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("procurement: invalid %s transition %s -> %s", e.Entity, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Kind() ErrorKind { return KindInvalidTransition }

func (e *InvalidTransitionError) Context() map[string]any {
	ctx := map[string]any{"entity": e.Entity, "from": e.From, "to": e.To}
	if e.Reason != "" {
		ctx["reason"] = e.Reason
	}
	return ctx
}

// OverReceiptError reports a reception exceeding ordered quantity plus tolerance.
type OverReceiptError struct {
	LineID    int64
	Attempted decimal.Decimal
	Allowed   decimal.Decimal
}

func (e *OverReceiptError) Error() string {
	return fmt.Sprintf("procurement: line %d over receipt: attempted %s, allowed %s", e.LineID, e.Attempted, e.Allowed)
}

func (e *OverReceiptError) Kind() ErrorKind { return KindOverReceipt }

func (e *OverReceiptError) Context() map[string]any {
	return map[string]any{"line": e.LineID, "attempted": e.Attempted.String(), "allowed": e.Allowed.String()}
}

// InsufficientReturnableError reports a return larger than the returnable stock.
type InsufficientReturnableError struct {
	LineID    int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientReturnableError) Error() string {
	return fmt.Sprintf("procurement: line %d insufficient returnable quantity: requested %s, available %s", e.LineID, e.Requested, e.Available)
}

func (e *InsufficientReturnableError) Kind() ErrorKind { return KindInsufficientReturnable }

func (e *InsufficientReturnableError) Context() map[string]any {
	return map[string]any{"line": e.LineID, "requested": e.Requested.String(), "available": e.Available.String()}
}

// ConcurrentModificationError reports an optimistic-lock conflict on an order.
type ConcurrentModificationError struct {
	OrderID int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("procurement: order %d was modified concurrently", e.OrderID)
}

func (e *ConcurrentModificationError) Kind() ErrorKind { return KindConcurrentModification }

func (e *ConcurrentModificationError) Context() map[string]any {
	return map[string]any{"orderId": e.OrderID}
}

// ValidationError reports malformed input detected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("procurement: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Kind() ErrorKind { return KindValidationFailed }

func (e *ValidationError) Context() map[string]any {
	return map[string]any{"field": e.Field, "reason": e.Reason}
}

// NotFoundError names the missing entity. It matches ErrNotFound with errors.Is.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("procurement: %s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Kind() ErrorKind { return KindNotFound }

func (e *NotFoundError) Context() map[string]any {
	return map[string]any{"entity": e.Entity, "id": e.ID}
}

// AsBusinessError extracts the typed error carried by err, if any.
func AsBusinessError(err error) (BusinessError, bool) {
	var be BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
