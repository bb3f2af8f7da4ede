// Package inmemory provides map-backed repositories. They are safe for
// concurrent use and hand out copies, so callers can never mutate stored
// state. Data is lost on restart; use the BigQuery repositories for that.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
)

// LedgerRepository stores ledger snapshots and their event logs.
type LedgerRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*ledger.Ledger
	logs      map[string][]ledger.Record

	// FailSave, when set, is returned by Save. Tests use it to simulate
	// a persistence outage.
	FailSave error
}

// NewLedgerRepository creates an empty repository.
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{
		snapshots: make(map[string]*ledger.Ledger),
		logs:      make(map[string][]ledger.Record),
	}
}

// Get implements ledger.Repository.
func (r *LedgerRepository) Get(ctx context.Context, ledgerID string) (*ledger.Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.snapshots[ledgerID]
	if !ok {
		return nil, domain.NotFound("ledger", ledgerID)
	}
	return l.Clone(), nil
}

// Save implements ledger.Repository. Last write wins.
func (r *LedgerRepository) Save(ctx context.Context, snapshot *ledger.Ledger, records []ledger.Record) error {
	if snapshot == nil || snapshot.ID == "" {
		return fmt.Errorf("ledger ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailSave != nil {
		return r.FailSave
	}
	r.snapshots[snapshot.ID] = snapshot.Clone()
	r.logs[snapshot.ID] = append(r.logs[snapshot.ID], records...)
	return nil
}

// Events implements ledger.Repository.
func (r *LedgerRepository) Events(ctx context.Context, ledgerID string) ([]ledger.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]ledger.Record(nil), r.logs[ledgerID]...), nil
}

// List returns every stored ledger.
func (r *LedgerRepository) List(ctx context.Context) ([]*ledger.Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ledger.Ledger, 0, len(r.snapshots))
	for _, l := range r.snapshots {
		out = append(out, l.Clone())
	}
	return out, nil
}

var _ ledger.Repository = (*LedgerRepository)(nil)
