package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dev-aquilas225/stock-sub001/internal/platform/httpx"
	"github.com/Dev-aquilas225/stock-sub001/internal/shared"
)

// ActorHeader carries the numeric identity of the caller for audit purposes.
const ActorHeader = "X-Actor-ID"

// IdempotencyHeader deduplicates reception batches.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes the workflow engine over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.handleListOrders)
		r.Post("/", h.handleCreateOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetOrder)
			r.Get("/reconciliation", h.handleReconciliation)
			r.Post("/transitions", h.handleTransition)
			r.Get("/transitions/{target}", h.handleCanTransition)
			r.Post("/receptions", h.handleReceive)
			r.Post("/lines/{lineID}/damage", h.handleCorrectDamage)
			r.Post("/returns", h.handleRequestReturn)
			r.Post("/returns/{returnID}/decision", h.handleDecideReturn)
			r.Post("/returns/{returnID}/process", h.handleProcessReturn)
		})
	})
}

type createOrderRequest struct {
	Reference          string                     `json:"reference"`
	SupplierRef        string                     `json:"supplier_ref" validate:"required"`
	Note               string                     `json:"note"`
	EstimatedDelivery  string                     `json:"estimated_delivery" validate:"omitempty,datetime=2006-01-02"`
	SettlementCurrency string                     `json:"settlement_currency" validate:"required,len=3"`
	Lines              []orderLineRequest         `json:"lines" validate:"required,min=1,dive"`
	Rates              map[string]decimal.Decimal `json:"rates"`
}

type orderLineRequest struct {
	ProductRef      string          `json:"product_ref" validate:"required"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	NegotiatedPrice decimal.Decimal `json:"negotiated_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	Currency        string          `json:"currency" validate:"omitempty,len=3"`
	Packaging       string          `json:"packaging"`
	LotID           string          `json:"lot_id"`
}

type transitionRequest struct {
	Target       string `json:"target" validate:"required"`
	PartialClose bool   `json:"partial_close"`
	Reason       string `json:"reason"`
}

type receiveRequest struct {
	Lines []receptionLineRequest     `json:"lines" validate:"required,min=1,dive"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

type receptionLineRequest struct {
	LineID      int64           `json:"line_id" validate:"required,gt=0"`
	QtyReceived decimal.Decimal `json:"qty_received"`
	QtyDamaged  decimal.Decimal `json:"qty_damaged"`
	ReceivedAt  *time.Time      `json:"received_at"`
	Comment     string          `json:"comment"`
}

type damageRequest struct {
	QtyDamaged decimal.Decimal            `json:"qty_damaged"`
	Rates      map[string]decimal.Decimal `json:"rates"`
}

type returnRequestBody struct {
	LineID   int64           `json:"line_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
	Motive   string          `json:"motive" validate:"required"`
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVED REJECTED approved rejected"`
	Note     string `json:"note"`
}

type returnResponse struct {
	Order  Order         `json:"order"`
	Return ReturnRequest `json:"return"`
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(query.Get("offset"))
	filters := ListFilters{
		Status:      query.Get("status"),
		SupplierRef: query.Get("supplier"),
		Search:      query.Get("search"),
		SortBy:      query.Get("sort"),
		SortDir:     query.Get("dir"),
	}
	items, total, err := h.service.ListOrders(r.Context(), limit, offset, filters)
	if err != nil {
		h.respondError(w, "list orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
		"pagination": shared.NewPagination(shared.PageFromOffset(offset, limit), limit, total),
	})
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := CreateOrderInput{
		Reference:          req.Reference,
		SupplierRef:        req.SupplierRef,
		Note:               req.Note,
		SettlementCurrency: req.SettlementCurrency,
		Rates:              RateTable(req.Rates),
		ActorID:            actorID(r),
	}
	if req.EstimatedDelivery != "" {
		input.EstimatedDelivery, _ = time.Parse("2006-01-02", req.EstimatedDelivery)
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, OrderLineInput{
			ProductRef:      line.ProductRef,
			UnitPrice:       line.UnitPrice,
			NegotiatedPrice: line.NegotiatedPrice,
			Quantity:        line.Quantity,
			Currency:        line.Currency,
			Packaging:       line.Packaging,
			LotID:           line.LotID,
		})
	}
	order, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		h.respondError(w, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	report, err := h.service.Reconciliation(r.Context(), id)
	if err != nil {
		h.respondError(w, "reconcile order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

type transitionCheck struct {
	OrderID int64       `json:"order_id"`
	Target  OrderStatus `json:"target"`
	Allowed bool        `json:"allowed"`
}

func (h *Handler) handleCanTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	target, err := ParseOrderStatus(chi.URLParam(r, "target"))
	if err != nil {
		h.respondError(w, "check transition", err)
		return
	}
	allowed, err := h.service.CanTransition(r.Context(), id, target)
	if err != nil {
		h.respondError(w, "check transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, transitionCheck{OrderID: id, Target: target, Allowed: allowed})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	target, err := ParseOrderStatus(req.Target)
	if err != nil {
		h.respondError(w, "transition order", err)
		return
	}
	order, err := h.service.Transition(r.Context(), TransitionInput{
		OrderID:      id,
		Target:       target,
		PartialClose: req.PartialClose,
		Reason:       req.Reason,
		ActorID:      actorID(r),
	})
	if err != nil {
		h.respondError(w, "transition order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]LineReception, 0, len(req.Lines))
	for _, line := range req.Lines {
		entry := LineReception{
			LineID:      line.LineID,
			QtyReceived: line.QtyReceived,
			QtyDamaged:  line.QtyDamaged,
			Comment:     line.Comment,
		}
		if line.ReceivedAt != nil {
			entry.ReceivedAt = line.ReceivedAt.UTC()
		}
		lines = append(lines, entry)
	}
	order, err := h.service.Receive(r.Context(), ReceiveInput{
		OrderID:        id,
		Lines:          lines,
		Rates:          RateTable(req.Rates),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		ActorID:        actorID(r),
	})
	if err != nil {
		h.respondError(w, "receive order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleCorrectDamage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil || lineID <= 0 {
		h.respondError(w, "correct damage", &ValidationError{Field: "lineID", Reason: "invalid line id"})
		return
	}
	var req damageRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.CorrectDamage(r.Context(), DamageInput{
		OrderID:    id,
		LineID:     lineID,
		QtyDamaged: req.QtyDamaged,
		Rates:      RateTable(req.Rates),
		ActorID:    actorID(r),
	})
	if err != nil {
		h.respondError(w, "correct damage", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleRequestReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req returnRequestBody
	if !h.decode(w, r, &req) {
		return
	}
	order, request, err := h.service.RequestReturn(r.Context(), ReturnInput{
		OrderID:  id,
		LineID:   req.LineID,
		Quantity: req.Quantity,
		Motive:   req.Motive,
		ActorID:  actorID(r),
	})
	if err != nil {
		h.respondError(w, "request return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, returnResponse{Order: order, Return: request})
}

func (h *Handler) handleDecideReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	returnID, ok := h.returnID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	decision, err := ParseReturnStatus(req.Decision)
	if err != nil {
		h.respondError(w, "decide return", err)
		return
	}
	order, request, err := h.service.DecideReturn(r.Context(), DecisionInput{
		OrderID:  id,
		ReturnID: returnID,
		Decision: decision,
		Note:     req.Note,
		ActorID:  actorID(r),
	})
	if err != nil {
		h.respondError(w, "decide return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, returnResponse{Order: order, Return: request})
}

func (h *Handler) handleProcessReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	returnID, ok := h.returnID(w, r)
	if !ok {
		return
	}
	order, request, err := h.service.ProcessReturn(r.Context(), ProcessInput{
		OrderID:  id,
		ReturnID: returnID,
		ActorID:  actorID(r),
	})
	if err != nil {
		h.respondError(w, "process return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, returnResponse{Order: order, Return: request})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondTyped(w, http.StatusBadRequest, string(KindValidationFailed), err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondValidation(w, err)
		return false
	}
	return true
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, "parse order id", &ValidationError{Field: "id", Reason: "invalid order id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) returnID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "returnID"))
	if err != nil {
		h.respondError(w, "parse return id", &ValidationError{Field: "returnID", Reason: "invalid return id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrDuplicateRequest) {
		httpx.RespondTyped(w, http.StatusConflict, string(KindDuplicateRequest), err)
		return
	}
	be, ok := AsBusinessError(err)
	if !ok {
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.RespondTyped(w, StatusFor(be.Kind()), string(be.Kind()), err)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind ErrorKind) int {
	switch kind {
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition, KindConcurrentModification, KindDuplicateRequest:
		return http.StatusConflict
	case KindOverReceipt, KindInsufficientReturnable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get(ActorHeader), 10, 64)
	return id
}
