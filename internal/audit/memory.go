package audit

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/Dev-aquilas225/stock-sub001/internal/procurement"
)

// EntityOrder is the audit_logs entity of purchase orders.
const EntityOrder = "purchase_order"

// MemoryLog keeps workflow events in process memory. It serves as both the audit
// publisher and the timeline repository of the memory store driver.
type MemoryLog struct {
	mu     sync.Mutex
	rows   []TimelineRow
	logger *slog.Logger
}

// NewMemoryLog membuat log audit in-memory.
func NewMemoryLog(logger *slog.Logger) *MemoryLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryLog{logger: logger}
}

// Publish implements procurement.AuditPublisher.
func (m *MemoryLog) Publish(ctx context.Context, evt procurement.Event) error {
	meta := make(map[string]any, len(evt.Data)+2)
	for k, v := range evt.Data {
		meta[k] = v
	}
	meta["event_id"] = evt.ID.String()
	meta["reference"] = evt.Reference
	m.mu.Lock()
	m.rows = append(m.rows, TimelineRow{
		ID:       int64(len(m.rows) + 1),
		At:       evt.OccurredAt,
		ActorID:  evt.ActorID,
		Action:   string(evt.Type),
		Entity:   EntityOrder,
		EntityID: strconv.FormatInt(evt.OrderID, 10),
		Meta:     meta,
	})
	m.mu.Unlock()
	m.logger.LogAttrs(ctx, slog.LevelInfo, "audit event",
		slog.String("type", string(evt.Type)),
		slog.Int64("order_id", evt.OrderID),
		slog.Int64("actor_id", evt.ActorID),
	)
	return nil
}

// TimelineWindow implements Repository.
func (m *MemoryLog) TimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	rows, _ := m.TimelineAll(ctx, arg)
	start := int(arg.Offset)
	if start >= len(rows) {
		return nil, nil
	}
	end := len(rows)
	if arg.Limit > 0 && start+int(arg.Limit) < end {
		end = start + int(arg.Limit)
	}
	return rows[start:end], nil
}

// TimelineAll implements Repository.
func (m *MemoryLog) TimelineAll(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TimelineRow
	for _, row := range m.rows {
		if matches(row, arg) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID > out[j].ID
		}
		return out[i].At.After(out[j].At)
	})
	return out, nil
}

func matches(row TimelineRow, arg WindowParams) bool {
	switch {
	case arg.FromAt.Valid && row.At.Before(arg.FromAt.Time):
		return false
	case arg.ToAt.Valid && !row.At.Before(arg.ToAt.Time):
		return false
	case arg.Actor.Valid && row.ActorID != arg.Actor.Int64:
		return false
	case arg.Entity.Valid && row.Entity != arg.Entity.String:
		return false
	case arg.EntityID.Valid && row.EntityID != arg.EntityID.String:
		return false
	case arg.Action.Valid && row.Action != arg.Action.String:
		return false
	}
	return true
}
