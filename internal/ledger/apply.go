package ledger

import (
	"fmt"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
)

// Apply folds one event into state and returns the new state. The input is
// never mutated. state is nil only for LedgerCreated.
func Apply(state *Ledger, ev Event) (*Ledger, error) {
	if created, ok := ev.(LedgerCreated); ok {
		if state != nil {
			return nil, fmt.Errorf("apply %s: ledger %s already exists", ev.EventType(), state.ID)
		}
		return applyLedgerCreated(created), nil
	}
	if state == nil {
		return nil, fmt.Errorf("apply %s: ledger does not exist", ev.EventType())
	}

	next := state.Clone()
	var at time.Time
	switch e := ev.(type) {
	case CategoryCreated:
		tree := next.Tree(e.Direction)
		if e.ParentID != "" {
			if _, ok := tree.Get(e.ParentID); !ok {
				return nil, fmt.Errorf("apply %s: parent %s missing", ev.EventType(), e.ParentID)
			}
		}
		tree.add(&Category{
			ID:        e.CategoryID,
			Name:      e.Name,
			Direction: e.Direction,
			ParentID:  e.ParentID,
			CreatedAt: e.CreatedAt,
		})
		at = e.CreatedAt

	case HistoricalEntryImported:
		entry := e.Entry
		next.Entries[entry.ID] = &entry
		at = entry.CreatedAt

	case HistoricalImportAttested:
		if e.AdjustmentEntryID != "" {
			next.Entries[e.AdjustmentEntryID] = &Entry{
				ID:          e.AdjustmentEntryID,
				Kind:        EntryAdjustment,
				CategoryID:  e.AdjustmentCategoryID,
				Name:        "Balance adjustment",
				Description: fmt.Sprintf("attestation adjustment of %s", e.Difference),
				Money:       e.Difference.Abs(),
				Direction:   e.AdjustmentDirection,
				PaidDate:    e.AdjustmentPaidDate,
				CreatedAt:   e.AttestedAt,
			}
		}
		next.Attestation = &Attestation{
			ConfirmedBalance:  e.ConfirmedBalance,
			CalculatedBalance: e.CalculatedBalance,
			Difference:        e.Difference,
			Forced:            e.Forced,
			AdjustmentEntryID: e.AdjustmentEntryID,
			AttestedAt:        e.AttestedAt,
		}
		next.BankAccount.Balance = e.ConfirmedBalance
		at = e.AttestedAt

	case LedgerActivated:
		next.Status = StatusOpen
		next.BankAccount.Balance = e.ConfirmedBalance
		at = e.ActivatedAt

	case ImportRolledBack:
		next.Entries = make(map[string]*Entry)
		if e.DeleteCategories {
			for _, dir := range domain.Directions {
				next.Tree(dir).resetToReserved()
			}
		}
		next.Attestation = nil
		next.BankAccount.Balance = next.InitialBalance
		at = e.RolledBackAt

	case ImportJobReverted:
		for _, id := range e.EntryIDs {
			delete(next.Entries, id)
		}
		for _, id := range e.CategoryIDs {
			for _, dir := range domain.Directions {
				next.Tree(dir).remove(id)
			}
		}
		if e.AttestationCleared {
			next.Attestation = nil
			next.BankAccount.Balance = next.InitialBalance
		}
		at = e.RevertedAt

	case EntryAdded:
		entry := e.Entry
		next.Entries[entry.ID] = &entry
		next.BankAccount.Balance = domain.NewMoney(next.BankAccount.Balance.Amount.Add(entry.Signed()), next.Currency)
		at = entry.CreatedAt

	case MonthRolledOver:
		next.ClosedPeriods = append(next.ClosedPeriods, ClosedPeriod{
			Period:         e.Period,
			ClosingBalance: e.ClosingBalance,
			Inflow:         e.Inflow,
			Outflow:        e.Outflow,
			ClosedAt:       e.ClosedAt,
		})
		next.ActivePeriod = e.NextPeriod
		at = e.ClosedAt

	default:
		return nil, fmt.Errorf("apply: unhandled event %s", ev.EventType())
	}

	next.Version++
	next.ModifiedAt = at
	return next, nil
}

func applyLedgerCreated(e LedgerCreated) *Ledger {
	l := &Ledger{
		ID:          e.LedgerID,
		OwnerID:     e.OwnerID,
		Name:        e.Name,
		Description: e.Description,
		Currency:    e.Currency,
		BankAccount: BankAccount{
			Number:  e.BankAccount,
			Balance: e.InitialBalance,
		},
		InitialBalance: e.InitialBalance,
		Status:         StatusSetup,
		StartPeriod:    e.StartPeriod,
		ActivePeriod:   e.ActivePeriod,
		Entries:        make(map[string]*Entry),
		Categories: map[domain.FlowDirection]*CategoryTree{
			domain.Inflow:  newCategoryTree(domain.Inflow, e.InflowRootID, e.CreatedAt),
			domain.Outflow: newCategoryTree(domain.Outflow, e.OutflowRootID, e.CreatedAt),
		},
		Version:    1,
		CreatedAt:  e.CreatedAt,
		ModifiedAt: e.CreatedAt,
	}
	return l
}

// ApplyAll folds events in order.
func ApplyAll(state *Ledger, events []Event) (*Ledger, error) {
	var err error
	for _, ev := range events {
		if state, err = Apply(state, ev); err != nil {
			return nil, err
		}
	}
	return state, nil
}
