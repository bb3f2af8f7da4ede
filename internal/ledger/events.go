package ledger

import (
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
)

// EventType names a ledger event in the event log and on the bus.
type EventType string

const (
	EvtLedgerCreated            EventType = "LedgerCreated"
	EvtCategoryCreated          EventType = "CategoryCreated"
	EvtHistoricalEntryImported  EventType = "HistoricalEntryImported"
	EvtHistoricalImportAttested EventType = "HistoricalImportAttested"
	EvtLedgerActivated          EventType = "LedgerActivated"
	EvtImportRolledBack         EventType = "ImportRolledBack"
	EvtImportJobReverted        EventType = "ImportJobReverted"
	EvtEntryAdded               EventType = "EntryAdded"
	EvtMonthRolledOver          EventType = "MonthRolledOver"
)

// Event is a fact produced by a decider.
type Event interface {
	EventType() EventType
}

// LedgerCreated starts a ledger's history.
type LedgerCreated struct {
	LedgerID       string           `json:"ledger_id"`
	OwnerID        string           `json:"owner_id"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	Currency       string           `json:"currency"`
	BankAccount    string           `json:"bank_account,omitempty"`
	InitialBalance domain.Money     `json:"initial_balance"`
	StartPeriod    domain.YearMonth `json:"start_period"`
	ActivePeriod   domain.YearMonth `json:"active_period"`
	InflowRootID   string           `json:"inflow_root_id"`
	OutflowRootID  string           `json:"outflow_root_id"`
	CreatedAt      time.Time        `json:"created_at"`
}

// CategoryCreated adds a node to a tree.
type CategoryCreated struct {
	CategoryID string               `json:"category_id"`
	Direction  domain.FlowDirection `json:"direction"`
	Name       string               `json:"name"`
	ParentID   string               `json:"parent_id,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// HistoricalEntryImported commits a backfilled entry.
type HistoricalEntryImported struct {
	Entry Entry `json:"entry"`
}

// HistoricalImportAttested records an accepted balance confirmation. When
// AdjustmentEntryID is set an adjustment entry is created on apply.
type HistoricalImportAttested struct {
	ConfirmedBalance     domain.Money         `json:"confirmed_balance"`
	CalculatedBalance    domain.Money         `json:"calculated_balance"`
	Difference           domain.Money         `json:"difference"`
	Forced               bool                 `json:"forced"`
	AdjustmentEntryID    string               `json:"adjustment_entry_id,omitempty"`
	AdjustmentCategoryID string               `json:"adjustment_category_id,omitempty"`
	AdjustmentDirection  domain.FlowDirection `json:"adjustment_direction,omitempty"`
	AdjustmentPaidDate   time.Time            `json:"adjustment_paid_date,omitempty"`
	AttestedAt           time.Time            `json:"attested_at"`
}

// LedgerActivated flips the ledger to OPEN.
type LedgerActivated struct {
	ConfirmedBalance  domain.Money `json:"confirmed_balance"`
	CalculatedBalance domain.Money `json:"calculated_balance"`
	Difference        domain.Money `json:"difference"`
	Forced            bool         `json:"forced"`
	ActivatedAt       time.Time    `json:"activated_at"`
}

// ImportRolledBack wipes committed entries and optionally categories. The
// counts are taken before deletion.
type ImportRolledBack struct {
	DeletedEntries    int       `json:"deleted_entries"`
	DeletedCategories int       `json:"deleted_categories"`
	DeleteCategories  bool      `json:"delete_categories"`
	RolledBackAt      time.Time `json:"rolled_back_at"`
}

// ImportJobReverted drops one job's entries and the categories it created.
// CategoryIDs are ordered children first.
type ImportJobReverted struct {
	ImportJobID        string    `json:"import_job_id"`
	EntryIDs           []string  `json:"entry_ids"`
	CategoryIDs        []string  `json:"category_ids,omitempty"`
	AttestationCleared bool      `json:"attestation_cleared"`
	RevertedAt         time.Time `json:"reverted_at"`
}

// EntryAdded records a regular entry.
type EntryAdded struct {
	Entry Entry `json:"entry"`
}

// MonthRolledOver closes Period and moves the ledger to NextPeriod.
type MonthRolledOver struct {
	Period         domain.YearMonth `json:"period"`
	NextPeriod     domain.YearMonth `json:"next_period"`
	ClosingBalance domain.Money     `json:"closing_balance"`
	Inflow         domain.Money     `json:"inflow"`
	Outflow        domain.Money     `json:"outflow"`
	ClosedAt       time.Time        `json:"closed_at"`
}

func (LedgerCreated) EventType() EventType            { return EvtLedgerCreated }
func (CategoryCreated) EventType() EventType          { return EvtCategoryCreated }
func (HistoricalEntryImported) EventType() EventType  { return EvtHistoricalEntryImported }
func (HistoricalImportAttested) EventType() EventType { return EvtHistoricalImportAttested }
func (LedgerActivated) EventType() EventType          { return EvtLedgerActivated }
func (ImportRolledBack) EventType() EventType         { return EvtImportRolledBack }
func (ImportJobReverted) EventType() EventType        { return EvtImportJobReverted }
func (EntryAdded) EventType() EventType               { return EvtEntryAdded }
func (MonthRolledOver) EventType() EventType          { return EvtMonthRolledOver }
