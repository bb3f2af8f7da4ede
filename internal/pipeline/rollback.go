package pipeline

import (
	"context"

	"github.com/dvloznov/cashflow-ledger/internal/clock"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/jobs"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
)

// RollbackEngine runs a ledger-level import rollback and reports what it
// removed. The ledger event only knows the totals at the time of the
// rollback, so the per-job summary is a before/after diff.
type RollbackEngine struct {
	ledgers LedgerService
	clock   clock.Clock
}

// NewRollbackEngine creates a rollback engine.
func NewRollbackEngine(ledgers LedgerService, clk clock.Clock) *RollbackEngine {
	return &RollbackEngine{ledgers: ledgers, clock: clk}
}

// Rollback deletes every committed entry of a SETUP ledger and, when
// deleteCategories is set, every category except the Uncategorized ones.
func (e *RollbackEngine) Rollback(ctx context.Context, ledgerID string, deleteCategories bool) (*jobs.RollbackSummary, error) {
	start := e.clock.Now()
	before, err := e.ledgers.Get(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	if before.Status != ledger.StatusSetup {
		return nil, domain.InvalidState("rollback import", string(before.Status), "ledger "+ledgerID)
	}

	after, _, err := e.ledgers.Execute(ctx, ledgerID, ledger.RollbackImport{DeleteCategories: deleteCategories})
	if err != nil {
		return nil, err
	}
	return &jobs.RollbackSummary{
		TransactionsDeleted: before.EntryCount() - after.EntryCount(),
		CategoriesDeleted:   before.CategoryCount() - after.CategoryCount(),
		Duration:            e.clock.Now().Sub(start),
	}, nil
}
