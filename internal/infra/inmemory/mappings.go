package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/mapping"
)

// MappingRepository stores category mappings keyed by ID.
type MappingRepository struct {
	mu       sync.RWMutex
	mappings map[string]*mapping.Mapping
}

// NewMappingRepository creates an empty repository.
func NewMappingRepository() *MappingRepository {
	return &MappingRepository{
		mappings: make(map[string]*mapping.Mapping),
	}
}

// Get implements mapping.Repository.
func (r *MappingRepository) Get(ctx context.Context, mappingID string) (*mapping.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.mappings[mappingID]
	if !ok {
		return nil, domain.NotFound("category mapping", mappingID)
	}
	mCopy := *m
	return &mCopy, nil
}

// Find implements mapping.Repository.
func (r *MappingRepository) Find(ctx context.Context, ledgerID, key string, direction domain.FlowDirection) (*mapping.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.mappings {
		if m.LedgerID == ledgerID && m.Key == key && m.Direction == direction {
			mCopy := *m
			return &mCopy, nil
		}
	}
	return nil, nil
}

// Upsert implements mapping.Repository.
func (r *MappingRepository) Upsert(ctx context.Context, m *mapping.Mapping) error {
	if m.ID == "" {
		return fmt.Errorf("mapping ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	mCopy := *m
	r.mappings[m.ID] = &mCopy
	return nil
}

// ListByLedger implements mapping.Repository.
func (r *MappingRepository) ListByLedger(ctx context.Context, ledgerID string) ([]*mapping.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*mapping.Mapping
	for _, m := range r.mappings {
		if m.LedgerID == ledgerID {
			mCopy := *m
			result = append(result, &mCopy)
		}
	}
	return result, nil
}

// Delete implements mapping.Repository.
func (r *MappingRepository) Delete(ctx context.Context, mappingID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mappings[mappingID]; !ok {
		return false, nil
	}
	delete(r.mappings, mappingID)
	return true, nil
}

// DeleteByLedger implements mapping.Repository.
func (r *MappingRepository) DeleteByLedger(ctx context.Context, ledgerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, m := range r.mappings {
		if m.LedgerID == ledgerID {
			delete(r.mappings, id)
			n++
		}
	}
	return n, nil
}

var _ mapping.Repository = (*MappingRepository)(nil)
