package pipeline

import (
	"context"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/mapping"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
)

// LedgerService is the part of ledger.Service the orchestrator drives.
type LedgerService interface {
	Get(ctx context.Context, ledgerID string) (*ledger.Ledger, error)
	Update(ctx context.Context, ledgerID string, fn func(uow *ledger.UnitOfWork) error) (*ledger.Ledger, error)
	Execute(ctx context.Context, ledgerID string, cmd ledger.Command) (*ledger.Ledger, []ledger.Event, error)
}

// StagingStore provides a session's rows and cleans them up on finalize.
type StagingStore interface {
	Rows(ctx context.Context, sessionID string) ([]*staging.StagedTransaction, error)
	DeleteSession(ctx context.Context, sessionID string) (int, error)
}

// MappingResolver translates bank labels into mappings.
type MappingResolver interface {
	Resolve(ctx context.Context, ledgerID, label string, direction domain.FlowDirection) (*mapping.Mapping, bool, error)
	DeleteAll(ctx context.Context, ledgerID string) (int, error)
}

var (
	_ LedgerService   = (*ledger.Service)(nil)
	_ StagingStore    = (*staging.Store)(nil)
	_ MappingResolver = (*mapping.Resolver)(nil)
)
