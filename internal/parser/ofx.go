package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/shopspring/decimal"
)

// OFXParser reads OFX/QFX bank and credit card statements. The bank's
// FITID becomes the source transaction id and the transaction type
// (POS, ATM, DIRECTDEBIT...) the category label.
type OFXParser struct {
	DefaultCurrency string
}

// Name returns the parser identifier
func (p *OFXParser) Name() string {
	return "ofx"
}

// Parse extracts rows from every bank and credit card statement in the file.
func (p *OFXParser) Parse(ctx context.Context, r io.Reader) (*Result, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX content: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	response, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file (%d bytes): %w", len(content), err)
	}

	result := &Result{}
	for _, msg := range response.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		p.appendTransactions(result, stmt.BankTranList.Transactions, p.currency(stmt.CurDef.String()))
	}
	for _, msg := range response.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		p.appendTransactions(result, stmt.BankTranList.Transactions, p.currency(stmt.CurDef.String()))
	}
	if result.TotalRows == 0 && len(response.Bank) == 0 && len(response.CreditCard) == 0 {
		return nil, fmt.Errorf("no bank or credit card statement found in OFX file")
	}
	return result, nil
}

func (p *OFXParser) currency(curDef string) string {
	if strings.TrimSpace(curDef) == "" {
		return p.DefaultCurrency
	}
	return curDef
}

func (p *OFXParser) appendTransactions(result *Result, txns []ofxgo.Transaction, currency string) {
	for _, txn := range txns {
		result.TotalRows++
		rowNumber := result.TotalRows

		id := txn.FiTID.String()
		date := txn.DtPosted.Time
		if date.IsZero() {
			result.Errors = append(result.Errors, RowError{RowNumber: rowNumber, Message: fmt.Sprintf("transaction %s has no date", id)})
			continue
		}

		name := strings.TrimSpace(txn.Name.String())
		memo := strings.TrimSpace(txn.Memo.String())
		if name == "" {
			name = memo
		}
		if name == "" {
			result.Errors = append(result.Errors, RowError{RowNumber: rowNumber, Message: fmt.Sprintf("transaction %s has neither name nor memo", id)})
			continue
		}

		f, _ := txn.TrnAmt.Float64()
		amount := decimal.NewFromFloat(f).Round(2)
		direction := domain.Outflow
		if amount.IsPositive() {
			direction = domain.Inflow
		}

		result.Rows = append(result.Rows, staging.ParsedRow{
			RowNumber:           rowNumber,
			SourceTransactionID: id,
			Name:                name,
			Description:         memo,
			CategoryLabel:       txn.TrnType.String(),
			Amount:              amount.Abs(),
			Currency:            currency,
			Direction:           direction,
			PaidAt:              date.UTC(),
		})
	}
}
