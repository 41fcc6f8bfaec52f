package procurement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func withStatus(order Order, status OrderStatus) Order {
	order.Status = status
	return order
}

func TestStateMachineTransitionTable(t *testing.T) {
	machine := NewStateMachine(NewLedger(decimal.Zero, nil))
	cases := []struct {
		name   string
		order  Order
		target OrderStatus
		kind   ErrorKind
	}{
		{name: "draft validated", order: withStatus(sentOrder(), OrderStatusDraft), target: OrderStatusValidated},
		{name: "draft cancelled", order: withStatus(sentOrder(), OrderStatusDraft), target: OrderStatusCancelled},
		{name: "draft sent", order: withStatus(sentOrder(), OrderStatusDraft), target: OrderStatusSent, kind: KindInvalidTransition},
		{name: "validated sent", order: withStatus(sentOrder(), OrderStatusValidated), target: OrderStatusSent},
		{name: "validated cancelled", order: withStatus(sentOrder(), OrderStatusValidated), target: OrderStatusCancelled},
		{name: "sent awaiting", order: sentOrder(), target: OrderStatusAwaitingReception},
		{name: "sent received without reception", order: sentOrder(), target: OrderStatusReceived, kind: KindInvalidTransition},
		{name: "sent cancelled", order: sentOrder(), target: OrderStatusCancelled, kind: KindInvalidTransition},
		{name: "sent draft", order: sentOrder(), target: OrderStatusDraft, kind: KindInvalidTransition},
		{name: "awaiting sent", order: withStatus(sentOrder(), OrderStatusAwaitingReception), target: OrderStatusSent, kind: KindInvalidTransition},
		{name: "received closed", order: receivedOrder(t), target: OrderStatusClosed},
		{name: "received sent", order: receivedOrder(t), target: OrderStatusSent, kind: KindInvalidTransition},
		{name: "closed received", order: withStatus(receivedOrder(t), OrderStatusClosed), target: OrderStatusReceived, kind: KindInvalidTransition},
		{name: "cancelled draft", order: withStatus(sentOrder(), OrderStatusCancelled), target: OrderStatusDraft, kind: KindInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := machine.Apply(tc.order, TransitionRequest{Target: tc.target, At: fixedNow})
			if tc.kind != "" {
				requireKind(t, err, tc.kind)
				require.Equal(t, tc.order, next)
				require.False(t, machine.CanTransition(tc.order, tc.target))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.target, next.Status)
			require.True(t, machine.CanTransition(tc.order, tc.target))
		})
	}
}

func TestStateMachineValidateChecksLines(t *testing.T) {
	machine := NewStateMachine(NewLedger(decimal.Zero, nil))

	empty := withStatus(sentOrder(), OrderStatusDraft)
	empty.Lines = nil
	_, err := machine.Apply(empty, TransitionRequest{Target: OrderStatusValidated})
	requireKind(t, err, KindValidationFailed)

	noProduct := withStatus(sentOrder(), OrderStatusDraft)
	noProduct.Lines[0].ProductRef = ""
	_, err = machine.Apply(noProduct, TransitionRequest{Target: OrderStatusValidated})
	requireKind(t, err, KindValidationFailed)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "lines[0].product_ref", verr.Field)

	zeroQty := withStatus(sentOrder(), OrderStatusDraft)
	zeroQty.Lines[0].QtyOrdered = decimal.Zero
	_, err = machine.Apply(zeroQty, TransitionRequest{Target: OrderStatusValidated})
	requireKind(t, err, KindValidationFailed)
}

func TestStateMachineCancelRejectsReceivedGoods(t *testing.T) {
	machine := NewStateMachine(NewLedger(decimal.Zero, nil))
	order := withStatus(receivedOrder(t), OrderStatusValidated)

	next, err := machine.Apply(order, TransitionRequest{Target: OrderStatusCancelled})
	requireKind(t, err, KindInvalidTransition)
	require.Equal(t, order, next)
}

func TestStateMachineCloseRequiresReconciliation(t *testing.T) {
	ledger := NewLedger(decimal.Zero, nil)
	machine := NewStateMachine(ledger)
	processor := NewReceptionProcessor(ledger, machine)
	partial, _, err := processor.Receive(sentOrder(), []LineReception{{LineID: 1, QtyReceived: dec("7")}}, nil, fixedNow)
	require.NoError(t, err)
	require.Equal(t, OrderStatusReceived, partial.Status)

	next, err := machine.Apply(partial, TransitionRequest{Target: OrderStatusClosed, At: fixedNow})
	requireKind(t, err, KindInvalidTransition)
	require.Equal(t, partial, next)
	require.False(t, machine.CanTransition(partial, OrderStatusClosed))

	_, err = machine.Apply(partial, TransitionRequest{Target: OrderStatusClosed, PartialClose: true, At: fixedNow})
	requireKind(t, err, KindValidationFailed)

	closed, err := machine.Apply(partial, TransitionRequest{Target: OrderStatusClosed, PartialClose: true, Reason: "supplier out of stock", At: fixedNow})
	require.NoError(t, err)
	require.Equal(t, OrderStatusClosed, closed.Status)
	require.True(t, closed.PartialClose)
	require.Equal(t, "supplier out of stock", closed.CloseReason)
	require.NotNil(t, closed.ClosedAt)
	require.Equal(t, OrderStatusReceived, partial.Status)
}

func TestStateMachineToleranceCountsAsReconciled(t *testing.T) {
	ledger := NewLedger(dec("1"), nil)
	machine := NewStateMachine(ledger)
	processor := NewReceptionProcessor(ledger, machine)
	order, _, err := processor.Receive(sentOrder(), []LineReception{{LineID: 1, QtyReceived: dec("11")}}, nil, fixedNow)
	require.NoError(t, err)

	closed, err := machine.Apply(order, TransitionRequest{Target: OrderStatusClosed, At: fixedNow})
	require.NoError(t, err)
	require.False(t, closed.PartialClose)
}

func TestStateMachineTargets(t *testing.T) {
	machine := NewStateMachine(NewLedger(decimal.Zero, nil))
	require.Equal(t, []OrderStatus{OrderStatusValidated, OrderStatusCancelled}, machine.Targets(withStatus(sentOrder(), OrderStatusDraft)))
	require.Equal(t, []OrderStatus{OrderStatusAwaitingReception}, machine.Targets(sentOrder()))
	require.Equal(t, []OrderStatus{OrderStatusClosed}, machine.Targets(receivedOrder(t)))
	require.Empty(t, machine.Targets(withStatus(sentOrder(), OrderStatusCancelled)))
}
