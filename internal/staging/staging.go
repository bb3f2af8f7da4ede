// Package staging holds parsed bank rows between upload and import. Rows
// are grouped into sessions, validated against the owning ledger and expire
// after a configurable TTL.
package staging

import (
	"context"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// ValidationStatus classifies a staged row.
type ValidationStatus string

const (
	StatusValid     ValidationStatus = "VALID"
	StatusInvalid   ValidationStatus = "INVALID"
	StatusDuplicate ValidationStatus = "DUPLICATE"
)

// Validation is the outcome of checking one row.
type Validation struct {
	Status ValidationStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

// SessionStatus summarizes the rows of a session.
type SessionStatus string

const (
	SessionReadyForImport SessionStatus = "READY_FOR_IMPORT"
	SessionAllInvalid     SessionStatus = "ALL_INVALID"
	SessionPartiallyValid SessionStatus = "PARTIALLY_VALID"
	SessionPendingReview  SessionStatus = "PENDING_REVIEW"
)

// ParsedRow is what a parser hands over: a StagedTransaction minus
// validation and session metadata.
type ParsedRow struct {
	RowNumber           int                  `json:"row_number,omitempty"`
	SourceTransactionID string               `json:"source_transaction_id,omitempty"`
	Name                string               `json:"name"`
	Description         string               `json:"description,omitempty"`
	CategoryLabel       string               `json:"category_label"`
	Amount              decimal.Decimal      `json:"amount"`
	Currency            string               `json:"currency"`
	Direction           domain.FlowDirection `json:"direction"`
	PaidAt              time.Time            `json:"paid_at"`
}

// StagedTransaction is one candidate ledger entry awaiting commit.
type StagedTransaction struct {
	ID                  string               `json:"id"`
	SessionID           string               `json:"session_id"`
	LedgerID            string               `json:"ledger_id"`
	RowNumber           int                  `json:"row_number"`
	SourceTransactionID string               `json:"source_transaction_id"`
	Name                string               `json:"name"`
	Description         string               `json:"description,omitempty"`
	CategoryLabel       string               `json:"category_label"`
	Money               domain.Money         `json:"money"`
	Direction           domain.FlowDirection `json:"direction"`
	PaidAt              time.Time            `json:"paid_at"`
	Validation          Validation           `json:"validation"`
	SourceFile          string               `json:"source_file,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	ExpiresAt           time.Time            `json:"expires_at"`
}

// Expired reports whether the row's TTL has elapsed at now.
func (r *StagedTransaction) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Session is the derived view of one staging session.
type Session struct {
	ID         string        `json:"session_id"`
	LedgerID   string        `json:"ledger_id"`
	Status     SessionStatus `json:"status"`
	Total      int           `json:"total"`
	Valid      int           `json:"valid"`
	Invalid    int           `json:"invalid"`
	Duplicate  int           `json:"duplicate"`
	SourceFile string        `json:"source_file,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// DeriveStatus maps row counts to a session status. PENDING_REVIEW is the
// catch-all for sessions with no valid rows that are not entirely invalid,
// e.g. all duplicates.
func DeriveStatus(total, valid, invalid int) SessionStatus {
	switch {
	case total > 0 && valid == total:
		return SessionReadyForImport
	case total > 0 && valid == 0 && invalid == total:
		return SessionAllInvalid
	case valid > 0:
		return SessionPartiallyValid
	default:
		return SessionPendingReview
	}
}

// summarize builds a Session from its live rows.
func summarize(rows []*StagedTransaction) Session {
	s := Session{Total: len(rows)}
	for i, r := range rows {
		if i == 0 {
			s.ID = r.SessionID
			s.LedgerID = r.LedgerID
			s.SourceFile = r.SourceFile
			s.CreatedAt = r.CreatedAt
			s.ExpiresAt = r.ExpiresAt
		}
		if r.CreatedAt.Before(s.CreatedAt) {
			s.CreatedAt = r.CreatedAt
		}
		if r.ExpiresAt.Before(s.ExpiresAt) {
			s.ExpiresAt = r.ExpiresAt
		}
		switch r.Validation.Status {
		case StatusValid:
			s.Valid++
		case StatusInvalid:
			s.Invalid++
		case StatusDuplicate:
			s.Duplicate++
		}
	}
	s.Status = DeriveStatus(s.Total, s.Valid, s.Invalid)
	return s
}

// Repository persists staged rows. Implementations return every stored row
// including expired ones; the Store applies TTL filtering.
type Repository interface {
	InsertRows(ctx context.Context, rows []*StagedTransaction) error
	UpdateRows(ctx context.Context, rows []*StagedTransaction) error
	RowsBySession(ctx context.Context, sessionID string) ([]*StagedTransaction, error)
	RowsByLedger(ctx context.Context, ledgerID string) ([]*StagedTransaction, error)
	DeleteSession(ctx context.Context, sessionID string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
