package procurement

import (
	"fmt"
	"time"
)

// TransitionRequest describes a requested status change.
type TransitionRequest struct {
	Target OrderStatus
	// PartialClose allows RECEIVED -> CLOSED while lines are not fully reconciled.
	PartialClose bool
	Reason       string
	At           time.Time
}

type guardFunc func(l Ledger, order Order, req TransitionRequest) error

type effectFunc func(l Ledger, order *Order, req TransitionRequest)

type transitionRule struct {
	guard  guardFunc
	effect effectFunc
}

// transitions is the complete lifecycle table. Any pair missing here is illegal.
var transitions = map[OrderStatus]map[OrderStatus]transitionRule{
	OrderStatusDraft: {
		OrderStatusValidated: {guard: guardLinesValid},
		OrderStatusCancelled: {guard: guardNoReception},
	},
	OrderStatusValidated: {
		OrderStatusSent:      {},
		OrderStatusCancelled: {guard: guardNoReception},
	},
	OrderStatusSent: {
		OrderStatusAwaitingReception: {},
		OrderStatusReceived:          {guard: guardHasReception, effect: effectRecomputeTotals},
	},
	OrderStatusAwaitingReception: {
		OrderStatusReceived: {guard: guardHasReception, effect: effectRecomputeTotals},
	},
	OrderStatusReceived: {
		OrderStatusClosed: {guard: guardReconciled, effect: effectClose},
	},
}

// StateMachine validates and executes order status transitions.
type StateMachine struct {
	ledger Ledger
}

// NewStateMachine builds a state machine consulting the ledger for preconditions.
func NewStateMachine(ledger Ledger) StateMachine {
	return StateMachine{ledger: ledger}
}

// CanTransition reports whether Apply would accept the target without overrides.
func (m StateMachine) CanTransition(order Order, target OrderStatus) bool {
	rule, ok := transitions[order.Status][target]
	if !ok {
		return false
	}
	if rule.guard == nil {
		return true
	}
	return rule.guard(m.ledger, order, TransitionRequest{Target: target}) == nil
}

// Targets lists the statuses reachable from the order's current status.
func (m StateMachine) Targets(order Order) []OrderStatus {
	var out []OrderStatus
	for _, status := range orderStatuses {
		if m.CanTransition(order, status) {
			out = append(out, status)
		}
	}
	return out
}

// Apply returns a copy of the order moved to the requested status. The input order
// is never modified, whether the transition succeeds or not.
func (m StateMachine) Apply(order Order, req TransitionRequest) (Order, error) {
	next := order.Clone()
	if err := m.apply(&next, req); err != nil {
		return order, err
	}
	return next, nil
}

func (m StateMachine) apply(order *Order, req TransitionRequest) error {
	rule, ok := transitions[order.Status][req.Target]
	if !ok {
		return &InvalidTransitionError{Entity: "order", From: string(order.Status), To: string(req.Target)}
	}
	if rule.guard != nil {
		if err := rule.guard(m.ledger, *order, req); err != nil {
			return err
		}
	}
	if rule.effect != nil {
		rule.effect(m.ledger, order, req)
	}
	order.Status = req.Target
	if !req.At.IsZero() {
		order.UpdatedAt = req.At
	}
	return nil
}

func guardLinesValid(_ Ledger, order Order, _ TransitionRequest) error {
	if len(order.Lines) == 0 {
		return &ValidationError{Field: "lines", Reason: "order requires at least one line"}
	}
	for i, line := range order.Lines {
		switch {
		case line.ProductRef == "":
			return &ValidationError{Field: fmt.Sprintf("lines[%d].product_ref", i), Reason: "product is required"}
		case !line.QtyOrdered.IsPositive():
			return &ValidationError{Field: fmt.Sprintf("lines[%d].qty_ordered", i), Reason: "must be greater than zero"}
		case line.UnitPrice.IsNegative():
			return &ValidationError{Field: fmt.Sprintf("lines[%d].unit_price", i), Reason: "must not be negative"}
		case line.NegotiatedPrice.IsNegative():
			return &ValidationError{Field: fmt.Sprintf("lines[%d].negotiated_price", i), Reason: "must not be negative"}
		}
	}
	return nil
}

func guardNoReception(_ Ledger, order Order, req TransitionRequest) error {
	if order.HasReception() {
		return &InvalidTransitionError{Entity: "order", From: string(order.Status), To: string(req.Target), Reason: "order already has receptions"}
	}
	return nil
}

func guardHasReception(_ Ledger, order Order, req TransitionRequest) error {
	if !order.HasReception() {
		return &InvalidTransitionError{Entity: "order", From: string(order.Status), To: string(req.Target), Reason: "no reception recorded"}
	}
	return nil
}

func guardReconciled(l Ledger, order Order, req TransitionRequest) error {
	if l.AllReconciled(order) {
		return nil
	}
	if !req.PartialClose {
		return &InvalidTransitionError{Entity: "order", From: string(order.Status), To: string(req.Target), Reason: "order lines are not fully reconciled"}
	}
	if req.Reason == "" {
		return &ValidationError{Field: "reason", Reason: "partial close requires a reason"}
	}
	return nil
}

func effectRecomputeTotals(l Ledger, order *Order, _ TransitionRequest) {
	l.RecomputeTotals(order)
}

func effectClose(l Ledger, order *Order, req TransitionRequest) {
	at := req.At
	order.ClosedAt = &at
	order.PartialClose = !l.AllReconciled(*order)
	order.CloseReason = req.Reason
}
