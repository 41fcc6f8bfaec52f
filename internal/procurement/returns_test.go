package procurement

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRequestReturnLimitedToReturnable(t *testing.T) {
	processor := NewReturnProcessor(NewLedger(decimal.Zero, nil))
	order := receivedOrder(t)

	next, _, err := processor.RequestReturn(order, 1, dec("9"), "damaged in transit", fixedNow)
	requireKind(t, err, KindInsufficientReturnable)
	require.Equal(t, order, next)
	var short *InsufficientReturnableError
	require.ErrorAs(t, err, &short)
	requireDecimal(t, "8", short.Available)
	requireDecimal(t, "9", short.Requested)

	next, request, err := processor.RequestReturn(order, 1, dec("8"), "damaged in transit", fixedNow)
	require.NoError(t, err)
	require.Equal(t, ReturnStatusPending, request.Status)
	requireDecimal(t, "8", next.Lines[0].QtyReserved)
	requireDecimal(t, "0", next.Lines[0].Returnable())
}

func TestRequestReturnStatusRules(t *testing.T) {
	processor := NewReturnProcessor(NewLedger(decimal.Zero, nil))

	_, _, err := processor.RequestReturn(sentOrder(), 1, dec("1"), "wrong item", fixedNow)
	requireKind(t, err, KindInvalidTransition)

	closed := withStatus(receivedOrder(t), OrderStatusClosed)
	next, _, err := processor.RequestReturn(closed, 1, dec("1"), "wrong item", fixedNow)
	require.NoError(t, err)
	require.Equal(t, OrderStatusClosed, next.Status)
}

func TestRejectReleasesReservation(t *testing.T) {
	processor := NewReturnProcessor(NewLedger(decimal.Zero, nil))
	order, request, err := processor.RequestReturn(receivedOrder(t), 1, dec("3"), "expired", fixedNow)
	require.NoError(t, err)
	requireDecimal(t, "5", order.Lines[0].Returnable())

	rejected, decided, err := processor.DecideReturn(order, request.ID, ReturnStatusRejected, fixedNow)
	require.NoError(t, err)
	require.Equal(t, ReturnStatusRejected, decided.Status)
	require.NotNil(t, decided.DecidedAt)
	requireDecimal(t, "0", rejected.Lines[0].QtyReserved)
	requireDecimal(t, "8", rejected.Lines[0].Returnable())
	requireDecimal(t, "0", rejected.Lines[0].QtyReturned)

	again, _, err := processor.DecideReturn(rejected, request.ID, ReturnStatusApproved, fixedNow)
	requireKind(t, err, KindInvalidTransition)
	require.Equal(t, rejected, again)
}

func TestApproveThenProcess(t *testing.T) {
	processor := NewReturnProcessor(NewLedger(decimal.Zero, nil))
	order, request, err := processor.RequestReturn(receivedOrder(t), 1, dec("3"), "expired", fixedNow)
	require.NoError(t, err)

	_, _, err = processor.ProcessReturn(order, request.ID, fixedNow)
	requireKind(t, err, KindInvalidTransition)

	approved, decided, err := processor.DecideReturn(order, request.ID, ReturnStatusApproved, fixedNow)
	require.NoError(t, err)
	require.Equal(t, ReturnStatusApproved, decided.Status)
	requireDecimal(t, "3", approved.Lines[0].QtyReserved)

	again, _, err := processor.DecideReturn(approved, request.ID, ReturnStatusRejected, fixedNow)
	requireKind(t, err, KindInvalidTransition)
	require.Equal(t, approved, again)

	processed, done, err := processor.ProcessReturn(approved, request.ID, fixedNow)
	require.NoError(t, err)
	require.Equal(t, ReturnStatusProcessed, done.Status)
	requireDecimal(t, "3", processed.Lines[0].QtyReturned)
	requireDecimal(t, "0", processed.Lines[0].QtyReserved)
	requireDecimal(t, "15", processed.Totals.ReturnedAmount)

	_, _, err = processor.ProcessReturn(processed, request.ID, fixedNow)
	requireKind(t, err, KindInvalidTransition)
}

func TestDecideReturnValidation(t *testing.T) {
	processor := NewReturnProcessor(NewLedger(decimal.Zero, nil))
	order, request, err := processor.RequestReturn(receivedOrder(t), 1, dec("1"), "expired", fixedNow)
	require.NoError(t, err)

	_, _, err = processor.DecideReturn(order, request.ID, ReturnStatusProcessed, fixedNow)
	requireKind(t, err, KindValidationFailed)

	_, _, err = processor.DecideReturn(order, uuid.New(), ReturnStatusApproved, fixedNow)
	require.ErrorIs(t, err, ErrNotFound)
}
