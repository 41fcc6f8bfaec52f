package procurement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReturnProcessor files and advances return requests.
type ReturnProcessor struct {
	ledger Ledger
}

// NewReturnProcessor wires the processor to the ledger.
func NewReturnProcessor(ledger Ledger) ReturnProcessor {
	return ReturnProcessor{ledger: ledger}
}

// RequestReturn files a PENDING return against received goods. Closed orders still
// accept returns.
func (p ReturnProcessor) RequestReturn(order Order, lineID int64, qty decimal.Decimal, motive string, at time.Time) (Order, ReturnRequest, error) {
	if order.Status != OrderStatusReceived && order.Status != OrderStatusClosed {
		return order, ReturnRequest{}, &InvalidTransitionError{Entity: "order", From: string(order.Status), To: opRequestReturn, Reason: "returns require received goods"}
	}
	next := order.Clone()
	request, err := p.ledger.RecordReturn(&next, lineID, qty, motive, at)
	if err != nil {
		return order, ReturnRequest{}, err
	}
	next.UpdatedAt = at
	return next, request, nil
}

// DecideReturn approves or rejects a PENDING request. Rejection releases the
// reservation immediately.
func (p ReturnProcessor) DecideReturn(order Order, returnID uuid.UUID, decision ReturnStatus, at time.Time) (Order, ReturnRequest, error) {
	if decision != ReturnStatusApproved && decision != ReturnStatusRejected {
		return order, ReturnRequest{}, &ValidationError{Field: "decision", Reason: "decision must be APPROVED or REJECTED"}
	}
	next := order.Clone()
	_, request, err := next.returnRequest(returnID)
	if err != nil {
		return order, ReturnRequest{}, err
	}
	if request.Status != ReturnStatusPending {
		return order, ReturnRequest{}, &InvalidTransitionError{Entity: "return", From: string(request.Status), To: string(decision)}
	}
	var decided ReturnRequest
	if decision == ReturnStatusRejected {
		decided, err = p.ledger.SettleReturn(&next, returnID, ReturnStatusRejected, at)
		if err != nil {
			return order, ReturnRequest{}, err
		}
	} else {
		request.Status = ReturnStatusApproved
		request.DecidedAt = &at
		decided = *request
	}
	next.UpdatedAt = at
	return next, decided, nil
}

// ProcessReturn completes an APPROVED request, committing the reserved quantity.
func (p ReturnProcessor) ProcessReturn(order Order, returnID uuid.UUID, at time.Time) (Order, ReturnRequest, error) {
	next := order.Clone()
	_, request, err := next.returnRequest(returnID)
	if err != nil {
		return order, ReturnRequest{}, err
	}
	if request.Status != ReturnStatusApproved {
		return order, ReturnRequest{}, &InvalidTransitionError{Entity: "return", From: string(request.Status), To: string(ReturnStatusProcessed)}
	}
	processed, err := p.ledger.SettleReturn(&next, returnID, ReturnStatusProcessed, at)
	if err != nil {
		return order, ReturnRequest{}, err
	}
	next.UpdatedAt = at
	return next, processed, nil
}
