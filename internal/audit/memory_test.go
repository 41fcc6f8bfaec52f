package audit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Dev-aquilas225/stock-sub001/internal/procurement"
)

func TestMemoryLogFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog(nil)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	events := []procurement.Event{
		{ID: uuid.New(), Type: procurement.EventOrderCreated, OrderID: 1, Reference: "PO-1", ActorID: 5, OccurredAt: base},
		{ID: uuid.New(), Type: procurement.EventReturnRequested, OrderID: 1, Reference: "PO-1", ActorID: 6, OccurredAt: base.Add(time.Hour), Data: map[string]any{"qty": "2"}},
		{ID: uuid.New(), Type: procurement.EventOrderCreated, OrderID: 2, Reference: "PO-2", ActorID: 5, OccurredAt: base.Add(2 * time.Hour)},
	}
	for _, evt := range events {
		require.NoError(t, log.Publish(ctx, evt))
	}

	rows, err := log.TimelineAll(ctx, WindowParams{EntityID: pgtype.Text{String: "1", Valid: true}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, string(procurement.EventReturnRequested), rows[0].Action)
	require.Equal(t, "2", rows[0].Meta["qty"])
	require.Equal(t, "PO-1", rows[0].Meta["reference"])
	require.Equal(t, events[1].ID.String(), rows[0].Meta["event_id"])

	rows, err = log.TimelineAll(ctx, WindowParams{Actor: pgtype.Int8{Int64: 5, Valid: true}})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = log.TimelineAll(ctx, WindowParams{
		FromAt: pgtype.Timestamptz{Time: base.Add(30 * time.Minute), Valid: true},
		ToAt:   pgtype.Timestamptz{Time: base.Add(2 * time.Hour), Valid: true},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(6), rows[0].ActorID)

	page, err := log.TimelineWindow(ctx, WindowParams{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "1", page[0].EntityID)
	require.Equal(t, string(procurement.EventReturnRequested), page[0].Action)

	page, err = log.TimelineWindow(ctx, WindowParams{Offset: 10, Limit: 5})
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestMemoryLogRecordsServiceEvents(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog(nil)
	svc := procurement.NewService(procurement.NewMemoryStore(), procurement.ServiceConfig{Audit: log})

	order, err := svc.CreateOrder(ctx, procurement.CreateOrderInput{
		SupplierRef:        "SUP-1",
		SettlementCurrency: "EUR",
		ActorID:            3,
		Lines: []procurement.OrderLineInput{{
			ProductRef: "SKU-1",
			UnitPrice:  decimal.NewFromInt(5),
			Quantity:   decimal.NewFromInt(2),
			Currency:   "EUR",
		}},
	})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, procurement.TransitionInput{OrderID: order.ID, Target: procurement.OrderStatusValidated, ActorID: 3})
	require.NoError(t, err)

	result, err := NewService(log).Timeline(ctx, TimelineFilters{Entity: EntityOrder, EntityID: strconv.FormatInt(order.ID, 10)})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.Equal(t, string(procurement.EventOrderTransitioned), result.Rows[0].Action)
	require.Equal(t, string(procurement.EventOrderCreated), result.Rows[1].Action)
	require.Equal(t, int64(3), result.Rows[1].ActorID)
	require.Equal(t, "SUP-1", result.Rows[1].Meta["supplier_ref"])
}
