package procurement

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReceptionProcessor applies delivery batches to an order.
type ReceptionProcessor struct {
	ledger  Ledger
	machine StateMachine
}

// NewReceptionProcessor wires the processor to the ledger and state machine.
func NewReceptionProcessor(ledger Ledger, machine StateMachine) ReceptionProcessor {
	return ReceptionProcessor{ledger: ledger, machine: machine}
}

func receivable(status OrderStatus) bool {
	switch status {
	case OrderStatusSent, OrderStatusAwaitingReception, OrderStatusReceived:
		return true
	default:
		return false
	}
}

// Receive records every entry of the batch or none of them. The order moves to
// RECEIVED when it is not there yet.
func (p ReceptionProcessor) Receive(order Order, entries []LineReception, rates RateTable, at time.Time) (Order, []Reception, error) {
	if !receivable(order.Status) {
		return order, nil, &InvalidTransitionError{Entity: "order", From: string(order.Status), To: opReceive, Reason: "order does not accept receptions"}
	}
	if len(entries) == 0 {
		return order, nil, &ValidationError{Field: "lines", Reason: "reception requires at least one line"}
	}
	next := order.Clone()
	recorded := make([]Reception, 0, len(entries))
	for _, entry := range entries {
		reception, err := p.ledger.RecordReception(&next, entry, rates, at)
		if err != nil {
			return order, nil, err
		}
		recorded = append(recorded, reception)
	}
	if next.Status != OrderStatusReceived {
		if err := p.machine.apply(&next, TransitionRequest{Target: OrderStatusReceived, At: at}); err != nil {
			return order, nil, err
		}
	}
	next.UpdatedAt = at
	return next, recorded, nil
}

// CorrectDamage replaces the damaged quantity of a line on a RECEIVED order.
func (p ReceptionProcessor) CorrectDamage(order Order, lineID int64, qtyDamaged decimal.Decimal, rates RateTable, at time.Time) (Order, error) {
	if order.Status != OrderStatusReceived {
		return order, &InvalidTransitionError{Entity: "order", From: string(order.Status), To: opCorrectDamage, Reason: "damage can only be corrected on received orders"}
	}
	next := order.Clone()
	if err := p.ledger.CorrectDamage(&next, lineID, qtyDamaged, rates); err != nil {
		return order, err
	}
	next.UpdatedAt = at
	return next, nil
}
