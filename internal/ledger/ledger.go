// Package ledger implements the cash-flow ledger aggregate as a pure
// command/event core. Deciders validate a command against the current
// state and return events; Apply folds events into a new state. Service
// wraps the core with snapshot and event-log persistence.
package ledger

import (
	"sort"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle phase of a ledger.
type Status string

const (
	// StatusSetup allows historical import, attestation and rollback.
	StatusSetup Status = "SETUP"
	// StatusOpen is normal operation. There is no way back to SETUP.
	StatusOpen Status = "OPEN"
)

// EntryKind records how an entry got into the ledger.
type EntryKind string

const (
	EntryHistorical EntryKind = "HISTORICAL"
	EntryAdjustment EntryKind = "ADJUSTMENT"
	EntryRegular    EntryKind = "REGULAR"
)

// Entry is a committed cash-flow entry.
type Entry struct {
	ID                  string               `json:"id"`
	Kind                EntryKind            `json:"kind"`
	CategoryID          string               `json:"category_id"`
	Name                string               `json:"name"`
	Description         string               `json:"description,omitempty"`
	Money               domain.Money         `json:"money"`
	Direction           domain.FlowDirection `json:"direction"`
	PaidDate            time.Time            `json:"paid_date"`
	ImportJobID         string               `json:"import_job_id,omitempty"`
	SourceTransactionID string               `json:"source_transaction_id,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
}

// Signed is the entry's effect on the balance.
func (e *Entry) Signed() decimal.Decimal {
	return domain.Signed(e.Money.Amount, e.Direction)
}

// BankAccount is the balance snapshot of the account the ledger tracks.
type BankAccount struct {
	Number  string       `json:"number,omitempty"`
	Balance domain.Money `json:"balance"`
}

// Attestation is the last accepted balance confirmation in SETUP.
type Attestation struct {
	ConfirmedBalance  domain.Money `json:"confirmed_balance"`
	CalculatedBalance domain.Money `json:"calculated_balance"`
	Difference        domain.Money `json:"difference"`
	Forced            bool         `json:"forced"`
	AdjustmentEntryID string       `json:"adjustment_entry_id,omitempty"`
	AttestedAt        time.Time    `json:"attested_at"`
}

// ClosedPeriod is a month closed by rollover.
type ClosedPeriod struct {
	Period         domain.YearMonth `json:"period"`
	ClosingBalance domain.Money     `json:"closing_balance"`
	Inflow         domain.Money     `json:"inflow"`
	Outflow        domain.Money     `json:"outflow"`
	ClosedAt       time.Time        `json:"closed_at"`
}

// Ledger is the aggregate root.
type Ledger struct {
	ID             string                                 `json:"id"`
	OwnerID        string                                 `json:"owner_id"`
	Name           string                                 `json:"name"`
	Description    string                                 `json:"description,omitempty"`
	Currency       string                                 `json:"currency"`
	BankAccount    BankAccount                            `json:"bank_account"`
	InitialBalance domain.Money                           `json:"initial_balance"`
	Status         Status                                 `json:"status"`
	StartPeriod    domain.YearMonth                       `json:"start_period"`
	ActivePeriod   domain.YearMonth                       `json:"active_period"`
	Entries        map[string]*Entry                      `json:"entries"`
	Categories     map[domain.FlowDirection]*CategoryTree `json:"categories"`
	Attestation    *Attestation                           `json:"attestation,omitempty"`
	ClosedPeriods  []ClosedPeriod                         `json:"closed_periods,omitempty"`
	Version        int64                                  `json:"version"`
	CreatedAt      time.Time                              `json:"created_at"`
	ModifiedAt     time.Time                              `json:"modified_at"`
}

// Tree returns the category tree for a direction.
func (l *Ledger) Tree(direction domain.FlowDirection) *CategoryTree {
	return l.Categories[direction]
}

// CalculatedBalance is the initial balance plus every committed entry.
func (l *Ledger) CalculatedBalance() domain.Money {
	total := l.InitialBalance.Amount
	for _, e := range l.Entries {
		total = total.Add(e.Signed())
	}
	return domain.NewMoney(total, l.Currency)
}

// EntryCount returns the number of committed entries.
func (l *Ledger) EntryCount() int {
	return len(l.Entries)
}

// CategoryCount counts categories in both trees, skipping the reserved
// Uncategorized node of each direction.
func (l *Ledger) CategoryCount() int {
	n := 0
	for _, dir := range domain.Directions {
		if tree := l.Categories[dir]; tree != nil {
			n += tree.CountUnreserved()
		}
	}
	return n
}

// HasSourceTransaction reports whether an entry with the given bank or
// fingerprint id was already committed.
func (l *Ledger) HasSourceTransaction(sourceID string) bool {
	if sourceID == "" {
		return false
	}
	for _, e := range l.Entries {
		if e.SourceTransactionID == sourceID {
			return true
		}
	}
	return false
}

// SourceTransactionIDs returns the set of committed source ids.
func (l *Ledger) SourceTransactionIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(l.Entries))
	for _, e := range l.Entries {
		if e.SourceTransactionID != "" {
			ids[e.SourceTransactionID] = struct{}{}
		}
	}
	return ids
}

// SortedEntries returns entries ordered by paid date then id.
func (l *Ledger) SortedEntries() []*Entry {
	out := make([]*Entry, 0, len(l.Entries))
	for _, e := range l.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaidDate.Equal(out[j].PaidDate) {
			return out[i].PaidDate.Before(out[j].PaidDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Clone returns a deep copy so Apply never mutates its input.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	c := *l
	c.Entries = make(map[string]*Entry, len(l.Entries))
	for id, e := range l.Entries {
		ec := *e
		c.Entries[id] = &ec
	}
	c.Categories = make(map[domain.FlowDirection]*CategoryTree, len(l.Categories))
	for dir, tree := range l.Categories {
		c.Categories[dir] = tree.clone()
	}
	if l.Attestation != nil {
		a := *l.Attestation
		c.Attestation = &a
	}
	c.ClosedPeriods = append([]ClosedPeriod(nil), l.ClosedPeriods...)
	return &c
}
