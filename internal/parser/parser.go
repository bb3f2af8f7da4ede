// Package parser turns bank statement files into rows ready for staging.
package parser

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dvloznov/cashflow-ledger/internal/staging"
)

// RowError is a line that could not be turned into a row.
type RowError struct {
	RowNumber int    `json:"row_number"`
	Message   string `json:"message"`
}

// Result is the output of parsing one file.
type Result struct {
	Rows      []staging.ParsedRow `json:"rows"`
	Errors    []RowError          `json:"errors,omitempty"`
	TotalRows int                 `json:"total_rows"`
}

// Parser reads one statement format.
type Parser interface {
	Name() string
	Parse(ctx context.Context, r io.Reader) (*Result, error)
}

// ForFilename picks a parser from the file extension. defaultCurrency is
// used by formats that do not carry a currency per row.
func ForFilename(name, defaultCurrency string) (Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv":
		return &CSVParser{DefaultCurrency: defaultCurrency}, nil
	case ".ofx", ".qfx":
		return &OFXParser{DefaultCurrency: defaultCurrency}, nil
	default:
		return nil, fmt.Errorf("unsupported statement format %q", ext)
	}
}
