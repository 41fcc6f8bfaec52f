package procurement

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle status of a purchase order.
type OrderStatus string

const (
	OrderStatusDraft             OrderStatus = "DRAFT"
	OrderStatusValidated         OrderStatus = "VALIDATED"
	OrderStatusSent              OrderStatus = "SENT"
	OrderStatusAwaitingReception OrderStatus = "AWAITING_RECEPTION"
	OrderStatusReceived          OrderStatus = "RECEIVED"
	OrderStatusClosed            OrderStatus = "CLOSED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
)

var orderStatuses = []OrderStatus{
	OrderStatusDraft,
	OrderStatusValidated,
	OrderStatusSent,
	OrderStatusAwaitingReception,
	OrderStatusReceived,
	OrderStatusClosed,
	OrderStatusCancelled,
}

// OrderStatuses lists every known order status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return append([]OrderStatus(nil), orderStatuses...)
}

// ParseOrderStatus converts user input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range orderStatuses {
		if status == candidate {
			return status, nil
		}
	}
	return "", &ValidationError{Field: "status", Reason: "unknown order status " + value}
}

// Terminal reports whether no transition leaves the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusClosed || s == OrderStatusCancelled
}

// ReturnStatus is the lifecycle status of a return request.
type ReturnStatus string

const (
	ReturnStatusPending   ReturnStatus = "PENDING"
	ReturnStatusApproved  ReturnStatus = "APPROVED"
	ReturnStatusRejected  ReturnStatus = "REJECTED"
	ReturnStatusProcessed ReturnStatus = "PROCESSED"
)

// ParseReturnStatus converts user input into a ReturnStatus.
func ParseReturnStatus(value string) (ReturnStatus, error) {
	switch candidate := ReturnStatus(strings.ToUpper(strings.TrimSpace(value))); candidate {
	case ReturnStatusPending, ReturnStatusApproved, ReturnStatusRejected, ReturnStatusProcessed:
		return candidate, nil
	default:
		return "", &ValidationError{Field: "status", Reason: "unknown return status " + value}
	}
}

// Order is a purchase order to one supplier.
type Order struct {
	ID                 int64       `json:"id"`
	Reference          string      `json:"reference"`
	SupplierRef        string      `json:"supplier_ref"`
	Status             OrderStatus `json:"status"`
	Note               string      `json:"note,omitempty"`
	EstimatedDelivery  time.Time   `json:"estimated_delivery"`
	SettlementCurrency string      `json:"settlement_currency"`
	Lines              []OrderLine `json:"lines"`
	Totals             OrderTotals `json:"totals"`
	PartialClose       bool        `json:"partial_close"`
	CloseReason        string      `json:"close_reason,omitempty"`
	ClosedAt           *time.Time  `json:"closed_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	Version            int64       `json:"version"`
}

// OrderTotals are expressed in the order's settlement currency.
type OrderTotals struct {
	OrderedAmount  decimal.Decimal `json:"ordered_amount"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	DamagedAmount  decimal.Decimal `json:"damaged_amount"`
	ReturnedAmount decimal.Decimal `json:"returned_amount"`
	NetAmount      decimal.Decimal `json:"net_amount"`
}

// OrderLine is one product within an order together with its reconciliation state.
type OrderLine struct {
	ID              int64           `json:"id"`
	ProductRef      string          `json:"product_ref"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	NegotiatedPrice decimal.Decimal `json:"negotiated_price"`
	QtyOrdered      decimal.Decimal `json:"qty_ordered"`
	Currency        string          `json:"currency"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	ConversionRate  decimal.Decimal `json:"conversion_rate"`
	Packaging       string          `json:"packaging,omitempty"`
	LotID           string          `json:"lot_id,omitempty"`

	QtyReceived    decimal.Decimal `json:"qty_received"`
	QtyDamaged     decimal.Decimal `json:"qty_damaged"`
	QtyReturned    decimal.Decimal `json:"qty_returned"`
	QtyReserved    decimal.Decimal `json:"qty_reserved"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	DamagedAmount  decimal.Decimal `json:"damaged_amount"`
	ReturnedAmount decimal.Decimal `json:"returned_amount"`

	Receptions []Reception     `json:"receptions"`
	Returns    []ReturnRequest `json:"returns"`
}

// EffectivePrice is the negotiated price when one was agreed, otherwise the unit price.
func (l OrderLine) EffectivePrice() decimal.Decimal {
	if l.NegotiatedPrice.IsPositive() {
		return l.NegotiatedPrice
	}
	return l.UnitPrice
}

// Returnable is the quantity still available for new return requests.
func (l OrderLine) Returnable() decimal.Decimal {
	available := l.QtyReceived.Sub(l.QtyDamaged).Sub(l.QtyReturned).Sub(l.QtyReserved)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// LastReception returns the most recent reception of the line.
func (l OrderLine) LastReception() (Reception, bool) {
	if len(l.Receptions) == 0 {
		return Reception{}, false
	}
	return l.Receptions[len(l.Receptions)-1], true
}

// Reception records what arrived for a line in one delivery.
type Reception struct {
	ID          uuid.UUID       `json:"id"`
	QtyReceived decimal.Decimal `json:"qty_received"`
	QtyDamaged  decimal.Decimal `json:"qty_damaged"`
	ReceivedAt  time.Time       `json:"received_at"`
	Comment     string          `json:"comment,omitempty"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// ReturnRequest asks the supplier to take product back.
type ReturnRequest struct {
	ID          uuid.UUID       `json:"id"`
	LineID      int64           `json:"line_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Motive      string          `json:"motive"`
	Status      ReturnStatus    `json:"status"`
	RequestedAt time.Time       `json:"requested_at"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// HasReception reports whether any line of the order received goods.
func (o Order) HasReception() bool {
	for _, line := range o.Lines {
		if len(line.Receptions) > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (o Order) Clone() Order {
	out := o
	out.ClosedAt = cloneTime(o.ClosedAt)
	if o.Lines != nil {
		out.Lines = make([]OrderLine, len(o.Lines))
		for i, line := range o.Lines {
			copied := line
			if line.Receptions != nil {
				copied.Receptions = append([]Reception(nil), line.Receptions...)
			}
			if line.Returns != nil {
				copied.Returns = make([]ReturnRequest, len(line.Returns))
				for j, ret := range line.Returns {
					ret.DecidedAt = cloneTime(ret.DecidedAt)
					ret.ProcessedAt = cloneTime(ret.ProcessedAt)
					copied.Returns[j] = ret
				}
			}
			out.Lines[i] = copied
		}
	}
	return out
}

func (o *Order) line(lineID int64) (*OrderLine, error) {
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			return &o.Lines[i], nil
		}
	}
	return nil, &NotFoundError{Entity: "line", ID: formatID(lineID)}
}

func (o *Order) returnRequest(returnID uuid.UUID) (*OrderLine, *ReturnRequest, error) {
	for i := range o.Lines {
		line := &o.Lines[i]
		for j := range line.Returns {
			if line.Returns[j].ID == returnID {
				return line, &line.Returns[j], nil
			}
		}
	}
	return nil, nil, &NotFoundError{Entity: "return", ID: returnID.String()}
}

// OrderSummary is the list projection of an order.
type OrderSummary struct {
	ID                 int64           `json:"id"`
	Reference          string          `json:"reference"`
	SupplierRef        string          `json:"supplier_ref"`
	Status             OrderStatus     `json:"status"`
	SettlementCurrency string          `json:"settlement_currency"`
	EstimatedDelivery  time.Time       `json:"estimated_delivery"`
	OrderedAmount      decimal.Decimal `json:"ordered_amount"`
	NetAmount          decimal.Decimal `json:"net_amount"`
	LineCount          int             `json:"line_count"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Summary projects the order for listings.
func (o Order) Summary() OrderSummary {
	return OrderSummary{
		ID:                 o.ID,
		Reference:          o.Reference,
		SupplierRef:        o.SupplierRef,
		Status:             o.Status,
		SettlementCurrency: o.SettlementCurrency,
		EstimatedDelivery:  o.EstimatedDelivery,
		OrderedAmount:      o.Totals.OrderedAmount,
		NetAmount:          o.Totals.NetAmount,
		LineCount:          len(o.Lines),
		CreatedAt:          o.CreatedAt,
	}
}

// ListFilters narrows order listings.
type ListFilters struct {
	Status      string
	SupplierRef string
	Search      string
	SortBy      string
	SortDir     string
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
