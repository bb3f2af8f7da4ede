package parser

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/shopspring/decimal"
)

// CSVParser reads header-led CSV exports. Columns are matched by name and
// may appear in any order; amounts may be signed or paired with a
// direction column.
type CSVParser struct {
	DefaultCurrency string
}

var headerAliases = map[string][]string{
	"date":        {"date", "paid at", "paid date", "transaction date", "booking date"},
	"name":        {"name", "payee", "counterparty", "merchant"},
	"description": {"description", "memo", "details", "reference"},
	"category":    {"category", "bank category", "category label"},
	"amount":      {"amount", "value"},
	"currency":    {"currency"},
	"direction":   {"direction", "type", "flow"},
	"id":          {"id", "transaction id", "source transaction id", "fitid"},
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2006/01/02",
	"02.01.2006",
	time.RFC3339,
}

// Name returns the parser identifier
func (p *CSVParser) Name() string {
	return "csv"
}

// Parse reads every record. Unreadable rows are reported in Result.Errors
// and left out of Result.Rows.
func (p *CSVParser) Parse(ctx context.Context, r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV content: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	columns := mapColumns(records[0])
	for _, required := range []string{"date", "amount"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("CSV header has no %s column", required)
		}
	}
	_, hasName := columns["name"]
	_, hasDescription := columns["description"]
	if !hasName && !hasDescription {
		return nil, fmt.Errorf("CSV header has neither a name nor a description column")
	}

	result := &Result{}
	for i, record := range records[1:] {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		result.TotalRows++
		rowNumber := i + 1

		row, err := p.parseRecord(record, columns)
		if err != nil {
			result.Errors = append(result.Errors, RowError{RowNumber: rowNumber, Message: err.Error()})
			continue
		}
		row.RowNumber = rowNumber
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func mapColumns(header []string) map[string]int {
	columns := make(map[string]int)
	for i, h := range header {
		key := domain.NormalizeLabel(strings.ReplaceAll(strings.TrimPrefix(h, "\ufeff"), "_", " "))
		for field, aliases := range headerAliases {
			if _, taken := columns[field]; taken {
				continue
			}
			for _, alias := range aliases {
				if key == alias {
					columns[field] = i
				}
			}
		}
	}
	return columns
}

func (p *CSVParser) parseRecord(record []string, columns map[string]int) (staging.ParsedRow, error) {
	get := func(field string) string {
		i, ok := columns[field]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	paidAt, err := parseDate(get("date"))
	if err != nil {
		return staging.ParsedRow{}, err
	}
	amount, err := parseAmount(get("amount"))
	if err != nil {
		return staging.ParsedRow{}, err
	}

	direction := domain.Outflow
	if amount.IsPositive() {
		direction = domain.Inflow
	}
	if raw := get("direction"); raw != "" {
		if direction, err = domain.ParseFlowDirection(raw); err != nil {
			return staging.ParsedRow{}, err
		}
	}

	name, description := get("name"), get("description")
	if name == "" {
		name = description
	}
	currency := get("currency")
	if currency == "" {
		currency = p.DefaultCurrency
	}

	return staging.ParsedRow{
		SourceTransactionID: get("id"),
		Name:                name,
		Description:         description,
		CategoryLabel:       get("category"),
		Amount:              amount.Abs(),
		Currency:            currency,
		Direction:           direction,
		PaidAt:              paidAt,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// parseAmount accepts "1,234.56", "-12.00", "(12.00)" and a currency
// symbol on either side of the sign, as in "-£12.00" or "£-12.00".
func parseAmount(s string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		negative = true
		clean = strings.Trim(clean, "()")
	}
	clean, minus := cutSign(clean)
	clean = strings.TrimLeft(clean, "£$€ ")
	if !minus {
		clean, minus = cutSign(clean)
	}
	negative = negative != minus
	clean = strings.ReplaceAll(clean, ",", "")
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func cutSign(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		return rest, true
	}
	return strings.TrimPrefix(s, "+"), false
}
