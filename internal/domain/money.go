// Package domain holds value types shared by the ledger, staging, mapping
// and import packages, plus the error taxonomy surfaced to callers.
package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FlowDirection is the side of the ledger a movement of money belongs to.
type FlowDirection string

const (
	// Inflow is money arriving in the bank account.
	Inflow FlowDirection = "INFLOW"
	// Outflow is money leaving the bank account.
	Outflow FlowDirection = "OUTFLOW"
)

// Directions lists both flow directions in a stable order.
var Directions = []FlowDirection{Inflow, Outflow}

// Valid reports whether d is one of the known directions.
func (d FlowDirection) Valid() bool {
	return d == Inflow || d == Outflow
}

// ParseFlowDirection accepts INFLOW/OUTFLOW (and the IN/OUT, CREDIT/DEBIT
// shorthands banks tend to export) in any case.
func ParseFlowDirection(s string) (FlowDirection, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFLOW", "IN", "CREDIT":
		return Inflow, nil
	case "OUTFLOW", "OUT", "DEBIT":
		return Outflow, nil
	default:
		return "", fmt.Errorf("unknown flow direction %q", s)
	}
}

// Money is an exact amount in a single currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney builds a Money value with a normalized currency code.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: NormalizeCurrency(currency)}
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return NewMoney(decimal.Zero, currency)
}

// NormalizeCurrency upper-cases and trims an ISO currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// Add returns m + o. Both values are assumed to share a currency.
func (m Money) Add(o Money) Money {
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency}
}

// Sub returns m - o. Both values are assumed to share a currency.
func (m Money) Sub(o Money) Money {
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.Currency}
}

// Abs returns the absolute value of m.
func (m Money) Abs() Money {
	return Money{Amount: m.Amount.Abs(), Currency: m.Currency}
}

// Equal compares amount and currency.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

// Signed returns the amount as it affects the balance: positive for inflows,
// negative for outflows.
func Signed(amount decimal.Decimal, direction FlowDirection) decimal.Decimal {
	if direction == Outflow {
		return amount.Abs().Neg()
	}
	return amount.Abs()
}
