package domain

import (
	"fmt"
	"time"
)

// YearMonth identifies a calendar month. The zero value is not a valid month.
type YearMonth struct {
	Year  int
	Month time.Month
}

const yearMonthLayout = "2006-01"

// NewYearMonth builds a YearMonth, normalizing out-of-range months.
func NewYearMonth(year int, month time.Month) YearMonth {
	return YearMonthOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

// YearMonthOf returns the month t falls into, evaluated in UTC.
func YearMonthOf(t time.Time) YearMonth {
	u := t.UTC()
	return YearMonth{Year: u.Year(), Month: u.Month()}
}

// ParseYearMonth parses the "2006-01" form.
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse(yearMonthLayout, s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("parse year-month %q: %w", s, err)
	}
	return YearMonthOf(t), nil
}

// IsZero reports whether ym is unset.
func (ym YearMonth) IsZero() bool {
	return ym.Year == 0 && ym.Month == 0
}

// Start is the first instant of the month in UTC.
func (ym YearMonth) Start() time.Time {
	return time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Next returns the following month.
func (ym YearMonth) Next() YearMonth {
	return YearMonthOf(ym.Start().AddDate(0, 1, 0))
}

// Prev returns the preceding month.
func (ym YearMonth) Prev() YearMonth {
	return YearMonthOf(ym.Start().AddDate(0, -1, 0))
}

// Before reports whether ym is strictly earlier than o.
func (ym YearMonth) Before(o YearMonth) bool {
	if ym.Year != o.Year {
		return ym.Year < o.Year
	}
	return ym.Month < o.Month
}

// After reports whether ym is strictly later than o.
func (ym YearMonth) After(o YearMonth) bool {
	return o.Before(ym)
}

// Contains reports whether t falls inside the month.
func (ym YearMonth) Contains(t time.Time) bool {
	return YearMonthOf(t) == ym
}

func (ym YearMonth) String() string {
	if ym.IsZero() {
		return ""
	}
	return ym.Start().Format(yearMonthLayout)
}

// MarshalText implements encoding.TextMarshaler.
func (ym YearMonth) MarshalText() ([]byte, error) {
	return []byte(ym.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ym *YearMonth) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*ym = YearMonth{}
		return nil
	}
	parsed, err := ParseYearMonth(string(b))
	if err != nil {
		return err
	}
	*ym = parsed
	return nil
}
