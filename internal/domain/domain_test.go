package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYearMonth(t *testing.T) {
	dec := NewYearMonth(2023, time.December)

	assert.Equal(t, NewYearMonth(2024, time.January), dec.Next())
	assert.Equal(t, NewYearMonth(2023, time.November), dec.Prev())
	assert.True(t, dec.Before(dec.Next()))
	assert.False(t, dec.Before(dec))
	assert.True(t, dec.Next().After(dec))
	assert.Equal(t, "2023-12", dec.String())
	assert.True(t, dec.Contains(time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, dec.Contains(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	parsed, err := ParseYearMonth("2024-03")
	require.NoError(t, err)
	assert.Equal(t, NewYearMonth(2024, time.March), parsed)

	_, err = ParseYearMonth("March 2024")
	assert.Error(t, err)
}

func TestYearMonth_Text(t *testing.T) {
	var ym YearMonth
	require.NoError(t, ym.UnmarshalText([]byte("2022-07")))
	assert.Equal(t, NewYearMonth(2022, time.July), ym)

	out, err := ym.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2022-07", string(out))
}

func TestParseFlowDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    FlowDirection
		wantErr bool
	}{
		{"INFLOW", Inflow, false},
		{"outflow", Outflow, false},
		{" credit ", Inflow, false},
		{"DEBIT", Outflow, false},
		{"sideways", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFlowDirection(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSigned(t *testing.T) {
	amt := decimal.RequireFromString("12.50")
	assert.True(t, Signed(amt, Inflow).Equal(amt))
	assert.True(t, Signed(amt, Outflow).Equal(amt.Neg()))
	assert.True(t, Signed(amt.Neg(), Inflow).Equal(amt))
}

func TestMoney(t *testing.T) {
	a := NewMoney(decimal.RequireFromString("10.10"), "gbp")
	b := NewMoney(decimal.RequireFromString("0.40"), "GBP")

	assert.Equal(t, "GBP", a.Currency)
	assert.True(t, a.Add(b).Equal(NewMoney(decimal.RequireFromString("10.5"), "GBP")))
	assert.True(t, b.Sub(a).Abs().Equal(NewMoney(decimal.RequireFromString("9.70"), "GBP")))
	assert.Equal(t, "10.10 GBP", a.String())
	assert.True(t, Zero("GBP").IsZero())
}

func TestErrorKinds(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NotFound("ledger", "l-1"))
	assert.True(t, errors.Is(wrapped, ErrNotFound))

	var nf *NotFoundError
	require.True(t, errors.As(wrapped, &nf))
	assert.Equal(t, "ledger", nf.Resource)

	assert.True(t, errors.Is(InvalidState("rollback", "OPEN", ""), ErrInvalidState))

	err := Invalid(ReasonPaidDateInFuture, "paid date %s is in the future", "2030-01-01")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, ReasonPaidDateInFuture, ReasonOf(fmt.Errorf("wrap: %w", err)))
	assert.Empty(t, ReasonOf(errors.New("plain")))

	rec := &ReconciliationError{
		Confirmed:  NewMoney(decimal.NewFromInt(100), "GBP"),
		Calculated: NewMoney(decimal.NewFromInt(90), "GBP"),
		Difference: NewMoney(decimal.NewFromInt(10), "GBP"),
	}
	assert.True(t, errors.Is(rec, ErrReconciliation))
	assert.Contains(t, rec.Error(), "10.00 GBP")
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "cafe groceries", NormalizeLabel("  Café   GROCERIES "))
	assert.Equal(t, NormalizeLabel("GROC"), NormalizeLabel("groc"))
}
