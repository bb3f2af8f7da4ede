package ledger

import (
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// CommandType names a command family in the handler table.
type CommandType string

const (
	CmdCreateLedger           CommandType = "CreateLedger"
	CmdCreateCategory         CommandType = "CreateCategory"
	CmdImportHistoricalEntry  CommandType = "ImportHistoricalEntry"
	CmdAttestHistoricalImport CommandType = "AttestHistoricalImport"
	CmdActivateLedger         CommandType = "ActivateLedger"
	CmdRollbackImport         CommandType = "RollbackImport"
	CmdRevertImportJob        CommandType = "RevertImportJob"
	CmdAddEntry               CommandType = "AddEntry"
	CmdRolloverMonth          CommandType = "RolloverMonth"
)

// Command is anything the handler table can decide on.
type Command interface {
	CommandType() CommandType
}

// CreateLedger opens a new ledger in SETUP.
type CreateLedger struct {
	LedgerID          string           `json:"ledger_id"`
	OwnerID           string           `json:"owner_id"`
	Name              string           `json:"name"`
	Description       string           `json:"description"`
	Currency          string           `json:"currency"`
	BankAccountNumber string           `json:"bank_account_number"`
	InitialBalance    decimal.Decimal  `json:"initial_balance"`
	StartPeriod       domain.YearMonth `json:"start_period"`
	ActivePeriod      domain.YearMonth `json:"active_period"`
}

// CreateCategory adds a category, optionally under ParentID.
type CreateCategory struct {
	Direction domain.FlowDirection `json:"direction"`
	Name      string               `json:"name"`
	ParentID  string               `json:"parent_id,omitempty"`
}

// ImportHistoricalEntry commits one backfilled entry while in SETUP.
type ImportHistoricalEntry struct {
	EntryID             string               `json:"entry_id,omitempty"`
	CategoryID          string               `json:"category_id"`
	Name                string               `json:"name"`
	Description         string               `json:"description,omitempty"`
	Money               domain.Money         `json:"money"`
	Direction           domain.FlowDirection `json:"direction"`
	PaidDate            time.Time            `json:"paid_date"`
	ImportJobID         string               `json:"import_job_id,omitempty"`
	SourceTransactionID string               `json:"source_transaction_id,omitempty"`
}

// AttestHistoricalImport confirms the balance reached by the backfill.
type AttestHistoricalImport struct {
	ConfirmedBalance decimal.Decimal `json:"confirmed_balance"`
	Force            bool            `json:"force"`
	CreateAdjustment bool            `json:"create_adjustment"`
}

// ActivateLedger moves the ledger from SETUP to OPEN.
type ActivateLedger struct {
	ConfirmedBalance decimal.Decimal `json:"confirmed_balance"`
	Force            bool            `json:"force"`
}

// RollbackImport deletes every committed entry, and optionally every
// non-reserved category, while in SETUP.
type RollbackImport struct {
	DeleteCategories bool `json:"delete_categories"`
}

// RevertImportJob removes the entries one import job committed while in
// SETUP. Listed categories are removed too once nothing references them.
type RevertImportJob struct {
	ImportJobID string   `json:"import_job_id"`
	CategoryIDs []string `json:"category_ids,omitempty"`
}

// AddEntry records a regular entry once the ledger is OPEN.
type AddEntry struct {
	CategoryID  string               `json:"category_id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Money       domain.Money         `json:"money"`
	Direction   domain.FlowDirection `json:"direction"`
	PaidDate    time.Time            `json:"paid_date"`
}

// RolloverMonth closes the active month.
type RolloverMonth struct{}

func (CreateLedger) CommandType() CommandType           { return CmdCreateLedger }
func (CreateCategory) CommandType() CommandType         { return CmdCreateCategory }
func (ImportHistoricalEntry) CommandType() CommandType  { return CmdImportHistoricalEntry }
func (AttestHistoricalImport) CommandType() CommandType { return CmdAttestHistoricalImport }
func (ActivateLedger) CommandType() CommandType         { return CmdActivateLedger }
func (RollbackImport) CommandType() CommandType         { return CmdRollbackImport }
func (RevertImportJob) CommandType() CommandType        { return CmdRevertImportJob }
func (AddEntry) CommandType() CommandType               { return CmdAddEntry }
func (RolloverMonth) CommandType() CommandType          { return CmdRolloverMonth }
