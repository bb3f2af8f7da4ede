package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/staging"
)

// StagingRepository stores staged rows keyed by row ID.
type StagingRepository struct {
	mu   sync.RWMutex
	rows map[string]*staging.StagedTransaction
}

// NewStagingRepository creates an empty repository.
func NewStagingRepository() *StagingRepository {
	return &StagingRepository{
		rows: make(map[string]*staging.StagedTransaction),
	}
}

// InsertRows implements staging.Repository.
func (r *StagingRepository) InsertRows(ctx context.Context, rows []*staging.StagedTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range rows {
		if row.ID == "" {
			return fmt.Errorf("staged row ID is required")
		}
		if _, exists := r.rows[row.ID]; exists {
			return fmt.Errorf("staged row %s already exists", row.ID)
		}
	}
	for _, row := range rows {
		rowCopy := *row
		r.rows[row.ID] = &rowCopy
	}
	return nil
}

// UpdateRows implements staging.Repository. Unknown rows are ignored.
func (r *StagingRepository) UpdateRows(ctx context.Context, rows []*staging.StagedTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range rows {
		if _, exists := r.rows[row.ID]; !exists {
			continue
		}
		rowCopy := *row
		r.rows[row.ID] = &rowCopy
	}
	return nil
}

// RowsBySession implements staging.Repository.
func (r *StagingRepository) RowsBySession(ctx context.Context, sessionID string) ([]*staging.StagedTransaction, error) {
	return r.filter(func(row *staging.StagedTransaction) bool { return row.SessionID == sessionID }), nil
}

// RowsByLedger implements staging.Repository.
func (r *StagingRepository) RowsByLedger(ctx context.Context, ledgerID string) ([]*staging.StagedTransaction, error) {
	return r.filter(func(row *staging.StagedTransaction) bool { return row.LedgerID == ledgerID }), nil
}

func (r *StagingRepository) filter(keep func(*staging.StagedTransaction) bool) []*staging.StagedTransaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*staging.StagedTransaction
	for _, row := range r.rows {
		if keep(row) {
			rowCopy := *row
			result = append(result, &rowCopy)
		}
	}
	return result
}

// DeleteSession implements staging.Repository.
func (r *StagingRepository) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	return r.delete(func(row *staging.StagedTransaction) bool { return row.SessionID == sessionID }), nil
}

// DeleteExpired implements staging.Repository.
func (r *StagingRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return r.delete(func(row *staging.StagedTransaction) bool { return row.Expired(now) }), nil
}

func (r *StagingRepository) delete(match func(*staging.StagedTransaction) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, row := range r.rows {
		if match(row) {
			delete(r.rows, id)
			n++
		}
	}
	return n
}

var _ staging.Repository = (*StagingRepository)(nil)
