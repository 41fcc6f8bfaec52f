package procurement

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// rateDivisionPrecision bounds the scale of inverted rates.
const rateDivisionPrecision = 12

// RateTable holds conversion rates keyed by pair, e.g. "USDEUR" means 1 USD = rate EUR.
// Rates are resolved by the caller before invoking the workflow.
type RateTable map[string]decimal.Decimal

// Rate returns the rate converting one unit of from into to. Same-currency pairs are
// at parity and an inverse pair is accepted when the direct one is missing.
func (t RateTable) Rate(from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := t[from+to]; ok {
		if !rate.IsPositive() {
			return decimal.Zero, &ValidationError{Field: "rates." + from + to, Reason: "rate must be positive"}
		}
		return rate, nil
	}
	if inverse, ok := t[to+from]; ok {
		if !inverse.IsPositive() {
			return decimal.Zero, &ValidationError{Field: "rates." + to + from, Reason: "rate must be positive"}
		}
		return decimal.NewFromInt(1).DivRound(inverse, rateDivisionPrecision), nil
	}
	return decimal.Zero, &MissingRateError{Pair: from + to}
}

// MissingRateError indicates the rate table lacks the requested pair.
type MissingRateError struct {
	Pair string
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("procurement: missing conversion rate for %s", e.Pair)
}

func (e *MissingRateError) Kind() ErrorKind { return KindValidationFailed }

func (e *MissingRateError) Context() map[string]any {
	return map[string]any{"field": "rates", "pair": e.Pair, "reason": "missing conversion rate"}
}

// Converter maps an amount between currencies using caller supplied rates.
type Converter interface {
	Convert(amount decimal.Decimal, from, to string, rates RateTable) (decimal.Decimal, error)
}

// RateConverter converts with a RateTable lookup. It performs no rounding; amounts
// are rounded by the ledger once they are final.
type RateConverter struct{}

// NewRateConverter constructs the default converter.
func NewRateConverter() RateConverter {
	return RateConverter{}
}

// Convert implements Converter.
func (RateConverter) Convert(amount decimal.Decimal, from, to string, rates RateTable) (decimal.Decimal, error) {
	rate, err := rates.Rate(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

// NormalizeCurrency validates an ISO 4217 code and returns its canonical form.
func NormalizeCurrency(field, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", &ValidationError{Field: field, Reason: "currency is required"}
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("unknown currency %q", code)}
	}
	return unit.String(), nil
}
