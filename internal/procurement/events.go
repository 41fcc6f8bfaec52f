package procurement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a workflow event published after a successful commit.
type EventType string

const (
	EventOrderCreated      EventType = "OrderCreated"
	EventOrderTransitioned EventType = "OrderTransitioned"
	EventReceptionRecorded EventType = "ReceptionRecorded"
	EventDamageCorrected   EventType = "DamageCorrected"
	EventReturnRequested   EventType = "ReturnRequested"
	EventReturnDecided     EventType = "ReturnDecided"
	EventReturnProcessed   EventType = "ReturnProcessed"
)

// Event is the structured record handed to the audit collaborator.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"type"`
	OrderID    int64          `json:"order_id"`
	Reference  string         `json:"reference"`
	ActorID    int64          `json:"actor_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// AuditPublisher receives events. Failures never fail the workflow operation.
type AuditPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

func newEvent(typ EventType, order Order, actorID int64, at time.Time, data map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       typ,
		OrderID:    order.ID,
		Reference:  order.Reference,
		ActorID:    actorID,
		OccurredAt: at,
		Data:       data,
	}
}

func receptionEventData(entries []LineReception, recorded []Reception) map[string]any {
	lines := make([]map[string]any, 0, len(recorded))
	for i, rec := range recorded {
		lines = append(lines, map[string]any{
			"line_id":      entries[i].LineID,
			"reception_id": rec.ID.String(),
			"qty_received": rec.QtyReceived.String(),
			"qty_damaged":  rec.QtyDamaged.String(),
			"received_at":  rec.ReceivedAt,
		})
	}
	return map[string]any{"lines": lines}
}

func returnEventData(request ReturnRequest) map[string]any {
	return map[string]any{
		"return_id": request.ID.String(),
		"line_id":   request.LineID,
		"quantity":  request.Quantity.String(),
		"motive":    request.Motive,
		"status":    string(request.Status),
	}
}
