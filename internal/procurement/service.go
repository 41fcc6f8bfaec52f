package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dev-aquilas225/stock-sub001/internal/shared"
)

// DefaultMaxCommitAttempts bounds optimistic-concurrency retries per operation.
const DefaultMaxCommitAttempts = 3

// Store persists order aggregates with optimistic concurrency.
type Store interface {
	CreateOrder(ctx context.Context, order Order) (Order, error)
	LoadOrder(ctx context.Context, id int64) (Order, int64, error)
	// SaveOrder commits the order only when the stored version equals expectedVersion
	// and returns *ConcurrentModificationError otherwise.
	SaveOrder(ctx context.Context, order Order, expectedVersion int64) (int64, error)
	ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]OrderSummary, int, error)
}

// IdempotencyPort guards reception batches against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// OrderCache serves read-only order snapshots.
type OrderCache interface {
	Get(ctx context.Context, id int64, load func(context.Context) (Order, error)) (Order, error)
	Invalidate(ctx context.Context, id int64) error
}

// MetricsPort records workflow outcomes.
type MetricsPort interface {
	ObserveOperation(operation, outcome string)
	ObserveConflict(operation string)
}

// ServiceConfig carries tunables and optional collaborators of the Service.
type ServiceConfig struct {
	Tolerance         decimal.Decimal
	MaxCommitAttempts int
	Converter         Converter
	Audit             AuditPublisher
	Idempotency       IdempotencyPort
	Cache             OrderCache
	Metrics           MetricsPort
	Logger            *slog.Logger
	Clock             func() time.Time
}

// Service is the workflow engine: every public order operation goes through it.
type Service struct {
	store       Store
	audit       AuditPublisher
	idempotency IdempotencyPort
	cache       OrderCache
	metrics     MetricsPort
	logger      *slog.Logger
	now         func() time.Time
	maxAttempts int

	ledger     Ledger
	machine    StateMachine
	receptions ReceptionProcessor
	returns    ReturnProcessor
}

// NewService constructs the workflow engine.
func NewService(store Store, cfg ServiceConfig) *Service {
	ledger := NewLedger(cfg.Tolerance, cfg.Converter)
	machine := NewStateMachine(ledger)
	attempts := cfg.MaxCommitAttempts
	if attempts <= 0 {
		attempts = DefaultMaxCommitAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:       store,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         clock,
		maxAttempts: attempts,
		ledger:      ledger,
		machine:     machine,
		receptions:  NewReceptionProcessor(ledger, machine),
		returns:     NewReturnProcessor(ledger),
	}
}

// CreateOrderInput describes a new DRAFT order.
type CreateOrderInput struct {
	Reference          string
	SupplierRef        string
	Note               string
	EstimatedDelivery  time.Time
	SettlementCurrency string
	Lines              []OrderLineInput
	Rates              RateTable
	ActorID            int64
}

// OrderLineInput describes one line of a new order.
type OrderLineInput struct {
	ProductRef      string
	UnitPrice       decimal.Decimal
	NegotiatedPrice decimal.Decimal
	Quantity        decimal.Decimal
	Currency        string
	Packaging       string
	LotID           string
}

// TransitionInput requests a status change.
type TransitionInput struct {
	OrderID      int64
	Target       OrderStatus
	PartialClose bool
	Reason       string
	ActorID      int64
}

// ReceiveInput carries a reception batch.
type ReceiveInput struct {
	OrderID        int64
	Lines          []LineReception
	Rates          RateTable
	IdempotencyKey string
	ActorID        int64
}

// DamageInput replaces the damaged quantity of a line.
type DamageInput struct {
	OrderID    int64
	LineID     int64
	QtyDamaged decimal.Decimal
	Rates      RateTable
	ActorID    int64
}

// ReturnInput files a return request.
type ReturnInput struct {
	OrderID  int64
	LineID   int64
	Quantity decimal.Decimal
	Motive   string
	ActorID  int64
}

// DecisionInput approves or rejects a return request.
type DecisionInput struct {
	OrderID  int64
	ReturnID uuid.UUID
	Decision ReturnStatus
	Note     string
	ActorID  int64
}

// ProcessInput completes an approved return request.
type ProcessInput struct {
	OrderID  int64
	ReturnID uuid.UUID
	ActorID  int64
}

// ReconciliationReport is the reconciliation view of an order.
type ReconciliationReport struct {
	OrderID         int64                `json:"order_id"`
	Reference       string               `json:"reference"`
	Status          OrderStatus          `json:"status"`
	FullyReconciled bool                 `json:"fully_reconciled"`
	Totals          OrderTotals          `json:"totals"`
	Lines           []LineReconciliation `json:"lines"`
}

// CreateOrder validates and stores a DRAFT order.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (Order, error) {
	const op = "create_order"
	order, err := s.buildOrder(input)
	if err != nil {
		s.observe(op, err)
		return Order{}, err
	}
	created, err := s.store.CreateOrder(ctx, order)
	if err != nil {
		s.observe(op, err)
		return Order{}, err
	}
	s.observe(op, nil)
	s.publish(ctx, newEvent(EventOrderCreated, created, input.ActorID, created.CreatedAt, map[string]any{
		"supplier_ref": created.SupplierRef,
		"lines":        len(created.Lines),
		"amount":       created.Totals.OrderedAmount.String(),
		"currency":     created.SettlementCurrency,
	}))
	return created, nil
}

func (s *Service) buildOrder(input CreateOrderInput) (Order, error) {
	if input.SupplierRef == "" {
		return Order{}, &ValidationError{Field: "supplier_ref", Reason: "supplier is required"}
	}
	settlement, err := NormalizeCurrency("settlement_currency", input.SettlementCurrency)
	if err != nil {
		return Order{}, err
	}
	if len(input.Lines) == 0 {
		return Order{}, &ValidationError{Field: "lines", Reason: "order requires at least one line"}
	}
	now := s.now()
	order := Order{
		Reference:          defaultString(input.Reference, generateNumber("PO", now)),
		SupplierRef:        input.SupplierRef,
		Status:             OrderStatusDraft,
		Note:               input.Note,
		EstimatedDelivery:  input.EstimatedDelivery,
		SettlementCurrency: settlement,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for i, in := range input.Lines {
		lineCurrency, err := NormalizeCurrency(fmt.Sprintf("lines[%d].currency", i), defaultString(in.Currency, settlement))
		if err != nil {
			return Order{}, err
		}
		switch {
		case in.Quantity.IsNegative():
			return Order{}, &ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Reason: "must not be negative"}
		case in.UnitPrice.IsNegative():
			return Order{}, &ValidationError{Field: fmt.Sprintf("lines[%d].unit_price", i), Reason: "must not be negative"}
		case in.NegotiatedPrice.IsNegative():
			return Order{}, &ValidationError{Field: fmt.Sprintf("lines[%d].negotiated_price", i), Reason: "must not be negative"}
		}
		order.Lines = append(order.Lines, OrderLine{
			ProductRef:      in.ProductRef,
			UnitPrice:       in.UnitPrice,
			NegotiatedPrice: in.NegotiatedPrice,
			QtyOrdered:      in.Quantity,
			Currency:        lineCurrency,
			Packaging:       in.Packaging,
			LotID:           in.LotID,
		})
	}
	if err := s.ledger.PriceLines(&order, input.Rates); err != nil {
		return Order{}, err
	}
	return order, nil
}

// GetOrder returns the order with its current version, served from cache when configured.
func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	load := func(ctx context.Context) (Order, error) {
		order, version, err := s.store.LoadOrder(ctx, id)
		if err != nil {
			return Order{}, err
		}
		order.Version = version
		return order, nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.Get(ctx, id, load)
}

// ListOrders returns order summaries and the total match count.
func (s *Service) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]OrderSummary, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if filters.Status != "" {
		status, err := ParseOrderStatus(filters.Status)
		if err != nil {
			return nil, 0, err
		}
		filters.Status = string(status)
	}
	return s.store.ListOrders(ctx, limit, offset, filters)
}

// CanTransition reports whether the order could move to target right now.
func (s *Service) CanTransition(ctx context.Context, orderID int64, target OrderStatus) (bool, error) {
	order, _, err := s.store.LoadOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	return s.machine.CanTransition(order, target), nil
}

// Reconciliation builds the reconciliation report of an order.
func (s *Service) Reconciliation(ctx context.Context, orderID int64) (ReconciliationReport, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	return ReconciliationReport{
		OrderID:         order.ID,
		Reference:       order.Reference,
		Status:          order.Status,
		FullyReconciled: s.ledger.AllReconciled(order),
		Totals:          order.Totals,
		Lines:           s.ledger.Reconcile(order),
	}, nil
}

// Transition moves the order to the requested status.
func (s *Service) Transition(ctx context.Context, input TransitionInput) (Order, error) {
	return s.mutate(ctx, "transition", input.OrderID, func(current Order, at time.Time) (Order, []Event, error) {
		next, err := s.machine.Apply(current, TransitionRequest{
			Target:       input.Target,
			PartialClose: input.PartialClose,
			Reason:       input.Reason,
			At:           at,
		})
		if err != nil {
			return Order{}, nil, err
		}
		data := map[string]any{"from": string(current.Status), "to": string(next.Status)}
		if next.PartialClose {
			data["partial_close"] = true
			data["reason"] = next.CloseReason
		}
		return next, []Event{newEvent(EventOrderTransitioned, next, input.ActorID, at, data)}, nil
	})
}

// Receive applies a reception batch. A non-empty idempotency key is accepted once.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (Order, error) {
	inserted := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		key := receptionKey(input.OrderID, input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.reception"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				s.observe("receive", ErrDuplicateRequest)
				return Order{}, fmt.Errorf("%w: %s", ErrDuplicateRequest, input.IdempotencyKey)
			}
			return Order{}, err
		}
		inserted = true
	}
	order, err := s.mutate(ctx, "receive", input.OrderID, func(current Order, at time.Time) (Order, []Event, error) {
		next, recorded, err := s.receptions.Receive(current, input.Lines, input.Rates, at)
		if err != nil {
			return Order{}, nil, err
		}
		events := []Event{newEvent(EventReceptionRecorded, next, input.ActorID, at, receptionEventData(input.Lines, recorded))}
		if current.Status != next.Status {
			events = append(events, newEvent(EventOrderTransitioned, next, input.ActorID, at, map[string]any{
				"from": string(current.Status),
				"to":   string(next.Status),
			}))
		}
		return next, events, nil
	})
	if err != nil && inserted {
		if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), receptionKey(input.OrderID, input.IdempotencyKey)); delErr != nil {
			s.logger.Warn("release idempotency key", slog.Int64("order_id", input.OrderID), slog.Any("error", delErr))
		}
	}
	return order, err
}

// PreviewReception applies the batch to a copy of the stored order without committing it.
func (s *Service) PreviewReception(ctx context.Context, input ReceiveInput) (Order, error) {
	current, version, err := s.store.LoadOrder(ctx, input.OrderID)
	if err != nil {
		return Order{}, err
	}
	current.Version = version
	next, _, err := s.receptions.Receive(current, input.Lines, input.Rates, s.now())
	if err != nil {
		return Order{}, err
	}
	return next, nil
}

// CorrectDamage replaces the damaged quantity of a line before any return exists.
func (s *Service) CorrectDamage(ctx context.Context, input DamageInput) (Order, error) {
	return s.mutate(ctx, "correct_damage", input.OrderID, func(current Order, at time.Time) (Order, []Event, error) {
		next, err := s.receptions.CorrectDamage(current, input.LineID, input.QtyDamaged, input.Rates, at)
		if err != nil {
			return Order{}, nil, err
		}
		return next, []Event{newEvent(EventDamageCorrected, next, input.ActorID, at, map[string]any{
			"line_id":     input.LineID,
			"qty_damaged": input.QtyDamaged.String(),
		})}, nil
	})
}

// RequestReturn files a return request and reserves its quantity.
func (s *Service) RequestReturn(ctx context.Context, input ReturnInput) (Order, ReturnRequest, error) {
	var request ReturnRequest
	order, err := s.mutate(ctx, "request_return", input.OrderID, func(current Order, at time.Time) (Order, []Event, error) {
		next, req, err := s.returns.RequestReturn(current, input.LineID, input.Quantity, input.Motive, at)
		if err != nil {
			return Order{}, nil, err
		}
		request = req
		return next, []Event{newEvent(EventReturnRequested, next, input.ActorID, at, returnEventData(req))}, nil
	})
	if err != nil {
		return Order{}, ReturnRequest{}, err
	}
	return order, request, nil
}

// DecideReturn approves or rejects a PENDING return request.
func (s *Service) DecideReturn(ctx context.Context, input DecisionInput) (Order, ReturnRequest, error) {
	var request ReturnRequest
	order, err := s.mutate(ctx, "decide_return", input.OrderID, func(current Order, at time.Time) (Order, []Event, error) {
		next, req, err := s.returns.DecideReturn(current, input.ReturnID, input.Decision, at)
		if err != nil {
			return Order{}, nil, err
		}
		request = req
		data := returnEventData(req)
		if input.Note != "" {
			data["note"] = input.Note
		}
		return next, []Event{newEvent(EventReturnDecided, next, input.ActorID, at, data)}, nil
	})
	if err != nil {
		return Order{}, ReturnRequest{}, err
	}
	return order, request, nil
}

// ProcessReturn completes an APPROVED return request.
func (s *Service) ProcessReturn(ctx context.Context, input ProcessInput) (Order, ReturnRequest, error) {
	var request ReturnRequest
	order, err := s.mutate(ctx, "process_return", input.OrderID, func(current Order, at time.Time) (Order, []Event, error) {
		next, req, err := s.returns.ProcessReturn(current, input.ReturnID, at)
		if err != nil {
			return Order{}, nil, err
		}
		request = req
		return next, []Event{newEvent(EventReturnProcessed, next, input.ActorID, at, returnEventData(req))}, nil
	})
	if err != nil {
		return Order{}, ReturnRequest{}, err
	}
	return order, request, nil
}

type mutation func(current Order, at time.Time) (Order, []Event, error)

// mutate runs load, compute, compare-and-save on one order, retrying without backoff
// while the stored version moves underneath.
func (s *Service) mutate(ctx context.Context, op string, orderID int64, fn mutation) (Order, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			s.observe(op, err)
			return Order{}, err
		}
		current, version, err := s.store.LoadOrder(ctx, orderID)
		if err != nil {
			s.observe(op, err)
			return Order{}, err
		}
		current.Version = version
		next, events, err := fn(current, s.now())
		if err != nil {
			s.observe(op, err)
			return Order{}, err
		}
		newVersion, err := s.store.SaveOrder(ctx, next, version)
		if err != nil {
			var conflict *ConcurrentModificationError
			if errors.As(err, &conflict) {
				if s.metrics != nil {
					s.metrics.ObserveConflict(op)
				}
				s.logger.Debug("order commit conflict", slog.String("operation", op), slog.Int64("order_id", orderID), slog.Int("attempt", attempt))
				continue
			}
			s.observe(op, err)
			return Order{}, err
		}
		next.Version = newVersion
		s.observe(op, nil)
		s.afterCommit(ctx, next, events)
		return next, nil
	}
	err := &ConcurrentModificationError{OrderID: orderID}
	s.observe(op, err)
	return Order{}, err
}

func (s *Service) afterCommit(ctx context.Context, order Order, events []Event) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, order.ID); err != nil {
			s.logger.Warn("invalidate order cache", slog.Int64("order_id", order.ID), slog.Any("error", err))
		}
	}
	for _, evt := range events {
		s.publish(ctx, evt)
	}
}

// publish hands the event to the audit collaborator and swallows its failure.
func (s *Service) publish(ctx context.Context, evt Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish audit event", slog.String("type", string(evt.Type)), slog.Int64("order_id", evt.OrderID), slog.Any("error", err))
	}
}

func (s *Service) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if be, ok := AsBusinessError(err); ok {
			outcome = string(be.Kind())
		} else if errors.Is(err, ErrDuplicateRequest) {
			outcome = string(KindDuplicateRequest)
		}
	}
	s.metrics.ObserveOperation(op, outcome)
}

func receptionKey(orderID int64, key string) string {
	return fmt.Sprintf("ORDER:%d:%s", orderID, key)
}

func generateNumber(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, at.UnixNano())
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
