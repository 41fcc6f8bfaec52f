package procurement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// amountPlaces is the scale of every monetary amount stored on an order.
const amountPlaces = 2

// Ledger is the single place where line quantities and amounts are computed.
// Its methods mutate the order they are given; callers pass a clone.
type Ledger struct {
	Tolerance decimal.Decimal
	Converter Converter
}

// NewLedger builds a ledger with the tolerated over-receipt quantity.
func NewLedger(tolerance decimal.Decimal, converter Converter) Ledger {
	if converter == nil {
		converter = NewRateConverter()
	}
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}
	return Ledger{Tolerance: tolerance, Converter: converter}
}

// LineReception is one entry of a reception batch.
type LineReception struct {
	LineID      int64
	QtyReceived decimal.Decimal
	QtyDamaged  decimal.Decimal
	ReceivedAt  time.Time
	Comment     string
}

// RecordReception appends a reception to the line and refreshes its amounts at the
// order's settlement currency using the supplied rates.
func (l Ledger) RecordReception(order *Order, entry LineReception, rates RateTable, recordedAt time.Time) (Reception, error) {
	line, err := order.line(entry.LineID)
	if err != nil {
		return Reception{}, err
	}
	if entry.QtyReceived.IsNegative() {
		return Reception{}, &ValidationError{Field: "qty_received", Reason: "must not be negative"}
	}
	if entry.QtyDamaged.IsNegative() {
		return Reception{}, &ValidationError{Field: "qty_damaged", Reason: "must not be negative"}
	}
	if entry.QtyReceived.IsZero() && entry.QtyDamaged.IsZero() {
		return Reception{}, &ValidationError{Field: "qty_received", Reason: "reception must carry a quantity"}
	}
	received := line.QtyReceived.Add(entry.QtyReceived)
	damaged := line.QtyDamaged.Add(entry.QtyDamaged)
	if attempted, allowed := received.Add(damaged), l.allowed(*line); attempted.GreaterThan(allowed) {
		return Reception{}, &OverReceiptError{LineID: line.ID, Attempted: attempted, Allowed: allowed}
	}
	// Damaged units must not eat into quantity already reserved or returned.
	if committed := line.QtyReturned.Add(line.QtyReserved); received.Sub(damaged).LessThan(committed) {
		return Reception{}, &ValidationError{Field: "qty_damaged", Reason: "damaged quantity exceeds what remains after returns"}
	}
	rate, err := l.rate(*line, order.SettlementCurrency, rates)
	if err != nil {
		return Reception{}, err
	}
	receivedAt := entry.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = recordedAt
	}
	reception := Reception{
		ID:          uuid.New(),
		QtyReceived: entry.QtyReceived,
		QtyDamaged:  entry.QtyDamaged,
		ReceivedAt:  receivedAt,
		Comment:     entry.Comment,
		RecordedAt:  recordedAt,
	}
	line.QtyReceived = received
	line.QtyDamaged = damaged
	line.ConversionRate = rate
	line.Receptions = append(line.Receptions, reception)
	refreshLineAmounts(line)
	l.RecomputeTotals(order)
	return reception, nil
}

// CorrectDamage replaces the damaged quantity of a line. It is only allowed while
// no return has been filed against the line.
func (l Ledger) CorrectDamage(order *Order, lineID int64, qtyDamaged decimal.Decimal, rates RateTable) error {
	line, err := order.line(lineID)
	if err != nil {
		return err
	}
	if qtyDamaged.IsNegative() {
		return &ValidationError{Field: "qty_damaged", Reason: "must not be negative"}
	}
	if len(line.Returns) > 0 {
		return &ValidationError{Field: "qty_damaged", Reason: "damage cannot be corrected once a return is filed"}
	}
	if attempted, allowed := line.QtyReceived.Add(qtyDamaged), l.allowed(*line); attempted.GreaterThan(allowed) {
		return &OverReceiptError{LineID: line.ID, Attempted: attempted, Allowed: allowed}
	}
	rate, err := l.rate(*line, order.SettlementCurrency, rates)
	if err != nil {
		return err
	}
	line.QtyDamaged = qtyDamaged
	line.ConversionRate = rate
	refreshLineAmounts(line)
	l.RecomputeTotals(order)
	return nil
}

// RecordReturn files a PENDING return request and reserves its quantity in the same
// step, so the availability check and the reservation can never diverge.
func (l Ledger) RecordReturn(order *Order, lineID int64, qty decimal.Decimal, motive string, at time.Time) (ReturnRequest, error) {
	line, err := order.line(lineID)
	if err != nil {
		return ReturnRequest{}, err
	}
	if !qty.IsPositive() {
		return ReturnRequest{}, &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	if motive == "" {
		return ReturnRequest{}, &ValidationError{Field: "motive", Reason: "motive is required"}
	}
	available := line.Returnable()
	if qty.GreaterThan(available) {
		return ReturnRequest{}, &InsufficientReturnableError{LineID: line.ID, Requested: qty, Available: available}
	}
	request := ReturnRequest{
		ID:          uuid.New(),
		LineID:      line.ID,
		Quantity:    qty,
		Motive:      motive,
		Status:      ReturnStatusPending,
		RequestedAt: at,
	}
	line.QtyReserved = line.QtyReserved.Add(qty)
	line.Returns = append(line.Returns, request)
	return request, nil
}

// SettleReturn moves a reservation out of the reserved counter: PROCESSED commits it
// into the returned quantity, REJECTED releases it.
func (l Ledger) SettleReturn(order *Order, returnID uuid.UUID, status ReturnStatus, at time.Time) (ReturnRequest, error) {
	line, request, err := order.returnRequest(returnID)
	if err != nil {
		return ReturnRequest{}, err
	}
	switch status {
	case ReturnStatusProcessed:
		line.QtyReturned = line.QtyReturned.Add(request.Quantity)
		request.ProcessedAt = &at
	case ReturnStatusRejected:
		request.DecidedAt = &at
	default:
		return ReturnRequest{}, &ValidationError{Field: "status", Reason: "settlement requires PROCESSED or REJECTED"}
	}
	line.QtyReserved = line.QtyReserved.Sub(request.Quantity)
	if line.QtyReserved.IsNegative() {
		line.QtyReserved = decimal.Zero
	}
	request.Status = status
	refreshLineAmounts(line)
	l.RecomputeTotals(order)
	return *request, nil
}

// IsFullyReconciled reports whether everything ordered was accounted for.
func (l Ledger) IsFullyReconciled(line OrderLine) bool {
	return line.QtyReceived.Add(line.QtyDamaged).GreaterThanOrEqual(line.QtyOrdered.Sub(l.Tolerance))
}

// AllReconciled reports whether every line of the order is fully reconciled.
func (l Ledger) AllReconciled(order Order) bool {
	for _, line := range order.Lines {
		if !l.IsFullyReconciled(line) {
			return false
		}
	}
	return true
}

// PriceLines computes converted ordered amounts for every line.
func (l Ledger) PriceLines(order *Order, rates RateTable) error {
	for i := range order.Lines {
		line := &order.Lines[i]
		rate, err := l.rate(*line, order.SettlementCurrency, rates)
		if err != nil {
			return err
		}
		line.ConversionRate = rate
		refreshLineAmounts(line)
	}
	l.RecomputeTotals(order)
	return nil
}

// RecomputeTotals sums line amounts into the order totals.
func (l Ledger) RecomputeTotals(order *Order) {
	var totals OrderTotals
	for _, line := range order.Lines {
		totals.OrderedAmount = totals.OrderedAmount.Add(line.ConvertedAmount)
		totals.ReceivedAmount = totals.ReceivedAmount.Add(line.ReceivedAmount)
		totals.DamagedAmount = totals.DamagedAmount.Add(line.DamagedAmount)
		totals.ReturnedAmount = totals.ReturnedAmount.Add(line.ReturnedAmount)
	}
	totals.NetAmount = totals.ReceivedAmount.Sub(totals.ReturnedAmount)
	order.Totals = totals
}

// LineReconciliation is the read model of one line's reconciliation state.
type LineReconciliation struct {
	LineID          int64           `json:"line_id"`
	ProductRef      string          `json:"product_ref"`
	Ordered         decimal.Decimal `json:"ordered"`
	Received        decimal.Decimal `json:"received"`
	Damaged         decimal.Decimal `json:"damaged"`
	Returned        decimal.Decimal `json:"returned"`
	Reserved        decimal.Decimal `json:"reserved"`
	Returnable      decimal.Decimal `json:"returnable"`
	Outstanding     decimal.Decimal `json:"outstanding"`
	FullyReconciled bool            `json:"fully_reconciled"`
}

// Reconcile builds the reconciliation view of each line.
func (l Ledger) Reconcile(order Order) []LineReconciliation {
	out := make([]LineReconciliation, 0, len(order.Lines))
	for _, line := range order.Lines {
		outstanding := line.QtyOrdered.Sub(line.QtyReceived).Sub(line.QtyDamaged)
		if outstanding.IsNegative() {
			outstanding = decimal.Zero
		}
		out = append(out, LineReconciliation{
			LineID:          line.ID,
			ProductRef:      line.ProductRef,
			Ordered:         line.QtyOrdered,
			Received:        line.QtyReceived,
			Damaged:         line.QtyDamaged,
			Returned:        line.QtyReturned,
			Reserved:        line.QtyReserved,
			Returnable:      line.Returnable(),
			Outstanding:     outstanding,
			FullyReconciled: l.IsFullyReconciled(line),
		})
	}
	return out
}

func (l Ledger) allowed(line OrderLine) decimal.Decimal {
	return line.QtyOrdered.Add(l.Tolerance)
}

func (l Ledger) rate(line OrderLine, settlement string, rates RateTable) (decimal.Decimal, error) {
	return l.Converter.Convert(decimal.NewFromInt(1), line.Currency, settlement, rates)
}

// refreshLineAmounts derives every settlement amount of the line from its quantities,
// effective price and last conversion rate.
func refreshLineAmounts(line *OrderLine) {
	price := line.EffectivePrice()
	rate := line.ConversionRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	amount := func(qty decimal.Decimal) decimal.Decimal {
		return qty.Mul(price).Mul(rate).Round(amountPlaces)
	}
	line.ConvertedAmount = amount(line.QtyOrdered)
	line.ReceivedAmount = amount(line.QtyReceived)
	line.DamagedAmount = amount(line.QtyDamaged)
	line.ReturnedAmount = amount(line.QtyReturned)
}
