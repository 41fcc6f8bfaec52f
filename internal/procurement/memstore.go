package procurement

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps orders in process memory. It backs the memory store driver and
// tests; every read and write copies the aggregate.
type MemoryStore struct {
	mu         sync.Mutex
	orders     map[int64]Order
	versions   map[int64]int64
	nextOrder  int64
	nextLineID int64
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[int64]Order),
		versions: make(map[int64]int64),
	}
}

// CreateOrder assigns identifiers and stores the order at version 1.
func (m *MemoryStore) CreateOrder(ctx context.Context, order Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.Reference == order.Reference {
			return Order{}, &ValidationError{Field: "reference", Reason: "reference already used"}
		}
	}
	stored := order.Clone()
	m.nextOrder++
	stored.ID = m.nextOrder
	for i := range stored.Lines {
		m.nextLineID++
		stored.Lines[i].ID = m.nextLineID
	}
	stored.Version = 1
	m.orders[stored.ID] = stored
	m.versions[stored.ID] = 1
	return stored.Clone(), nil
}

// LoadOrder returns a copy of the order and its version.
func (m *MemoryStore) LoadOrder(ctx context.Context, id int64) (Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return Order{}, 0, &NotFoundError{Entity: "order", ID: formatID(id)}
	}
	version := m.versions[id]
	out := order.Clone()
	out.Version = version
	return out, version, nil
}

// SaveOrder replaces the order when expectedVersion is still current.
func (m *MemoryStore) SaveOrder(ctx context.Context, order Order, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.versions[order.ID]
	if !ok {
		return 0, &NotFoundError{Entity: "order", ID: formatID(order.ID)}
	}
	if current != expectedVersion {
		return 0, &ConcurrentModificationError{OrderID: order.ID}
	}
	next := current + 1
	stored := order.Clone()
	stored.Version = next
	m.orders[order.ID] = stored
	m.versions[order.ID] = next
	return next, nil
}

// ListOrders filters, sorts and pages order summaries.
func (m *MemoryStore) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]OrderSummary, int, error) {
	m.mu.Lock()
	items := make([]OrderSummary, 0, len(m.orders))
	search := strings.ToLower(filters.Search)
	for _, order := range m.orders {
		if filters.Status != "" && string(order.Status) != filters.Status {
			continue
		}
		if filters.SupplierRef != "" && order.SupplierRef != filters.SupplierRef {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(order.Reference), search) {
			continue
		}
		items = append(items, order.Summary())
	}
	m.mu.Unlock()

	sort.SliceStable(items, summaryLess(items, filters.SortBy, filters.SortDir))
	total := len(items)
	if offset >= total {
		return []OrderSummary{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return items[offset:end], total, nil
}

func summaryLess(items []OrderSummary, sortBy, sortDir string) func(i, j int) bool {
	asc := sortDir == "asc"
	switch sortBy {
	case "reference", "supplier", "status", "estimated_delivery", "total":
	default:
		asc = false
	}
	less := func(i, j int) bool {
		switch sortBy {
		case "reference":
			return items[i].Reference < items[j].Reference
		case "supplier":
			return items[i].SupplierRef < items[j].SupplierRef
		case "status":
			return items[i].Status < items[j].Status
		case "estimated_delivery":
			return items[i].EstimatedDelivery.Before(items[j].EstimatedDelivery)
		case "total":
			return items[i].OrderedAmount.LessThan(items[j].OrderedAmount)
		default:
			if items[i].CreatedAt.Equal(items[j].CreatedAt) {
				return items[i].ID < items[j].ID
			}
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
	}
	return func(i, j int) bool {
		if asc {
			return less(i, j)
		}
		return less(j, i)
	}
}
