package procurement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s got %s", want, got.String())
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	be, ok := AsBusinessError(err)
	require.True(t, ok, "expected business error, got %T: %v", err, err)
	require.Equal(t, kind, be.Kind(), err.Error())
}

// sentOrder returns an order of one line (id 1) for 12 units at 5 EUR, settled in EUR.
func sentOrder() Order {
	order := Order{
		ID:                 1,
		Reference:          "PO-TEST",
		SupplierRef:        "SUP-1",
		Status:             OrderStatusSent,
		SettlementCurrency: "EUR",
		CreatedAt:          fixedNow,
		UpdatedAt:          fixedNow,
		Version:            1,
		Lines: []OrderLine{{
			ID:         1,
			ProductRef: "SKU-1",
			UnitPrice:  dec("5"),
			QtyOrdered: dec("12"),
			Currency:   "EUR",
		}},
	}
	ledger := NewLedger(decimal.Zero, nil)
	if err := ledger.PriceLines(&order, nil); err != nil {
		panic(err)
	}
	return order
}

// receivedOrder returns sentOrder after a reception of 10 good and 2 damaged units.
func receivedOrder(t *testing.T) Order {
	t.Helper()
	ledger := NewLedger(decimal.Zero, nil)
	processor := NewReceptionProcessor(ledger, NewStateMachine(ledger))
	order, _, err := processor.Receive(sentOrder(), []LineReception{{LineID: 1, QtyReceived: dec("10"), QtyDamaged: dec("2")}}, nil, fixedNow)
	require.NoError(t, err)
	return order
}
