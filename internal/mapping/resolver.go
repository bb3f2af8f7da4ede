package mapping

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/clock"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// Resolver is the category mapping service. Lookups go through a TTL
// cache that every write invalidates for the affected ledger.
type Resolver struct {
	repo  Repository
	clock clock.Clock
	cache *cache.Cache
	newID func() string
	log   zerolog.Logger
}

// NewResolver creates a resolver. A non-positive cacheTTL disables caching.
func NewResolver(repo Repository, clk clock.Clock, cacheTTL time.Duration, log zerolog.Logger) *Resolver {
	var c *cache.Cache
	if cacheTTL > 0 {
		c = cache.New(cacheTTL, 2*cacheTTL)
	}
	return &Resolver{
		repo:  repo,
		clock: clk,
		cache: c,
		newID: func() string { return uuid.New().String() },
		log:   log,
	}
}

// WithIDGenerator overrides uuid ids.
func (r *Resolver) WithIDGenerator(fn func() string) *Resolver {
	r.newID = fn
	return r
}

func cacheKey(ledgerID, key string, direction domain.FlowDirection) string {
	return ledgerID + "|" + string(direction) + "|" + key
}

// Configure upserts every entry. Each entry yields exactly one Result;
// malformed entries are REJECTED rather than dropped.
func (r *Resolver) Configure(ctx context.Context, ledgerID string, configs []Config) (*ConfigureResult, error) {
	out := &ConfigureResult{Results: make([]Result, 0, len(configs))}
	defer r.invalidate(ledgerID)

	for _, cfg := range configs {
		res := Result{Label: cfg.Label, Direction: cfg.Direction}
		m, err := r.normalize(ledgerID, cfg)
		if err != nil {
			res.Status = ResultRejected
			res.Reason = err.Error()
			out.Rejected++
			out.Results = append(out.Results, res)
			continue
		}

		existing, err := r.repo.Find(ctx, ledgerID, m.Key, m.Direction)
		if err != nil {
			return nil, fmt.Errorf("Configure: looking up %q: %w", m.Label, err)
		}
		now := r.clock.Now()
		if existing != nil {
			m.ID = existing.ID
			m.CreatedAt = existing.CreatedAt
			res.Status = ResultUpdated
		} else {
			m.ID = r.newID()
			m.CreatedAt = now
			res.Status = ResultCreated
		}
		m.UpdatedAt = now

		if err := r.repo.Upsert(ctx, m); err != nil {
			return nil, fmt.Errorf("Configure: saving %q: %w", m.Label, err)
		}
		res.MappingID = m.ID
		if res.Status == ResultCreated {
			out.Created++
		} else {
			out.Updated++
		}
		out.Results = append(out.Results, res)
	}
	out.Total = len(out.Results)

	r.log.Info().
		Str("ledger_id", ledgerID).
		Int("created", out.Created).
		Int("updated", out.Updated).
		Int("rejected", out.Rejected).
		Msg("Configured category mappings")
	return out, nil
}

func (r *Resolver) normalize(ledgerID string, cfg Config) (*Mapping, error) {
	key := domain.NormalizeLabel(cfg.Label)
	if key == "" {
		return nil, domain.Invalid(domain.ReasonInvalidMapping, "label is required")
	}
	direction, err := domain.ParseFlowDirection(cfg.Direction)
	if err != nil {
		return nil, domain.Invalid(domain.ReasonInvalidMapping, "%v", err)
	}
	action, err := ParseAction(cfg.Action)
	if err != nil {
		return nil, domain.Invalid(domain.ReasonInvalidMapping, "%v", err)
	}
	target := strings.TrimSpace(cfg.TargetCategory)
	parent := strings.TrimSpace(cfg.ParentCategory)
	if action != ActionSkip && target == "" {
		return nil, domain.Invalid(domain.ReasonInvalidMapping, "target category is required for %s", action)
	}
	if action == ActionSkip {
		target, parent = "", ""
	}
	return &Mapping{
		LedgerID:       ledgerID,
		Label:          strings.TrimSpace(cfg.Label),
		Key:            key,
		Direction:      direction,
		Action:         action,
		TargetCategory: target,
		ParentCategory: parent,
	}, nil
}

// Resolve returns the mapping for a label, or false when it is unmapped.
func (r *Resolver) Resolve(ctx context.Context, ledgerID, label string, direction domain.FlowDirection) (*Mapping, bool, error) {
	key := domain.NormalizeLabel(label)
	ck := cacheKey(ledgerID, key, direction)
	if r.cache != nil {
		if v, ok := r.cache.Get(ck); ok {
			m := *v.(*Mapping)
			return &m, true, nil
		}
	}

	m, err := r.repo.Find(ctx, ledgerID, key, direction)
	if err != nil {
		return nil, false, fmt.Errorf("Resolve: %w", err)
	}
	if m == nil {
		return nil, false, nil
	}
	if r.cache != nil {
		cached := *m
		r.cache.SetDefault(ck, &cached)
	}
	return m, true, nil
}

// List returns a ledger's mappings ordered by direction then label.
func (r *Resolver) List(ctx context.Context, ledgerID string) ([]*Mapping, error) {
	ms, err := r.repo.ListByLedger(ctx, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Direction != ms[j].Direction {
			return ms[i].Direction < ms[j].Direction
		}
		return ms[i].Key < ms[j].Key
	})
	return ms, nil
}

// Get returns one mapping by id.
func (r *Resolver) Get(ctx context.Context, mappingID string) (*Mapping, error) {
	return r.repo.Get(ctx, mappingID)
}

// DeleteOne removes a single mapping. A missing mapping is NotFound.
func (r *Resolver) DeleteOne(ctx context.Context, mappingID string) error {
	m, err := r.repo.Get(ctx, mappingID)
	if err != nil {
		return err
	}
	deleted, err := r.repo.Delete(ctx, mappingID)
	if err != nil {
		return fmt.Errorf("DeleteOne: %w", err)
	}
	if !deleted {
		return domain.NotFound("category mapping", mappingID)
	}
	r.invalidate(m.LedgerID)
	r.log.Info().Str("ledger_id", m.LedgerID).Str("mapping_id", mappingID).Msg("Deleted category mapping")
	return nil
}

// DeleteAll removes every mapping of a ledger. None is not an error.
func (r *Resolver) DeleteAll(ctx context.Context, ledgerID string) (int, error) {
	n, err := r.repo.DeleteByLedger(ctx, ledgerID)
	if err != nil {
		return 0, fmt.Errorf("DeleteAll: %w", err)
	}
	r.invalidate(ledgerID)
	r.log.Info().Str("ledger_id", ledgerID).Int("deleted", n).Msg("Deleted category mappings")
	return n, nil
}

func (r *Resolver) invalidate(ledgerID string) {
	if r.cache == nil {
		return
	}
	prefix := ledgerID + "|"
	for k := range r.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			r.cache.Delete(k)
		}
	}
}
