// Package suggest proposes category mappings for bank labels that have
// none yet, using a generative model.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/mapping"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/rs/zerolog"
)

const maxExamples = 3

// LedgerReader loads a ledger snapshot.
type LedgerReader interface {
	Get(ctx context.Context, ledgerID string) (*ledger.Ledger, error)
}

// RowReader lists the live rows of a staging session.
type RowReader interface {
	Rows(ctx context.Context, sessionID string) ([]*staging.StagedTransaction, error)
}

// MappingResolver reports whether a label is already mapped.
type MappingResolver interface {
	Resolve(ctx context.Context, ledgerID, label string, direction domain.FlowDirection) (*mapping.Mapping, bool, error)
}

type labelRequest struct {
	Label     string
	Direction domain.FlowDirection
	Examples  []string
}

type modelSuggestion struct {
	Label     string `json:"label"`
	Direction string `json:"direction"`
	Action    string `json:"action"`
	Target    string `json:"target"`
	Parent    string `json:"parent"`
}

// Suggester builds mapping configs for the unmapped labels of a session.
type Suggester struct {
	ledgers  LedgerReader
	rows     RowReader
	mappings MappingResolver
	model    Model
	log      zerolog.Logger
}

// NewSuggester creates a Suggester.
func NewSuggester(ledgers LedgerReader, rows RowReader, mappings MappingResolver, model Model, log zerolog.Logger) *Suggester {
	return &Suggester{
		ledgers:  ledgers,
		rows:     rows,
		mappings: mappings,
		model:    model,
		log:      log,
	}
}

// Suggest returns one config per unmapped (label, direction) pair among the
// session's valid rows, sorted by direction then label. Pairs the model
// leaves out or answers invalidly fall back to Uncategorized. Nothing is
// persisted; callers pass the result to the resolver's Configure.
func (s *Suggester) Suggest(ctx context.Context, ledgerID, sessionID string) ([]mapping.Config, error) {
	l, err := s.ledgers.Get(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	rows, err := s.rows.Rows(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("Suggest: load rows: %w", err)
	}

	requests, err := s.unmapped(ctx, ledgerID, rows)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return []mapping.Config{}, nil
	}

	raw, err := s.model.Generate(ctx, buildSuggestionPrompt(l, requests))
	if err != nil {
		return nil, fmt.Errorf("Suggest: %w", err)
	}

	var suggestions []modelSuggestion
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &suggestions); err != nil {
		return nil, fmt.Errorf("Suggest: unmarshal JSON: %w\nraw response: %s", err, raw)
	}

	byKey := make(map[string]modelSuggestion, len(suggestions))
	for _, sg := range suggestions {
		dir, err := domain.ParseFlowDirection(sg.Direction)
		if err != nil {
			continue
		}
		byKey[requestKey(sg.Label, dir)] = sg
	}

	configs := make([]mapping.Config, 0, len(requests))
	for _, req := range requests {
		cfg := mapping.Config{
			Label:          req.Label,
			Direction:      string(req.Direction),
			Action:         string(mapping.ActionUseExisting),
			TargetCategory: ledger.UncategorizedName,
		}
		if sg, ok := byKey[requestKey(req.Label, req.Direction)]; ok {
			if action, err := mapping.ParseAction(sg.Action); err == nil && (action == mapping.ActionSkip || sg.Target != "") {
				cfg.Action = string(action)
				cfg.TargetCategory = sg.Target
				cfg.ParentCategory = sg.Parent
			} else {
				s.log.Warn().Str("ledger_id", ledgerID).Str("label", req.Label).Str("action", sg.Action).Msg("Discarding invalid model suggestion")
			}
		}
		configs = append(configs, cfg)
	}

	s.log.Info().
		Str("ledger_id", ledgerID).
		Str("session_id", sessionID).
		Int("labels", len(configs)).
		Int("answered", len(byKey)).
		Msg("Generated mapping suggestions")
	return configs, nil
}

func (s *Suggester) unmapped(ctx context.Context, ledgerID string, rows []*staging.StagedTransaction) ([]labelRequest, error) {
	index := make(map[string]int)
	var requests []labelRequest
	for _, row := range rows {
		if row.LedgerID != ledgerID {
			return nil, domain.NotFound("staging session", row.SessionID)
		}
		if row.Validation.Status != staging.StatusValid {
			continue
		}
		key := requestKey(row.CategoryLabel, row.Direction)
		if i, seen := index[key]; seen {
			if i >= 0 && len(requests[i].Examples) < maxExamples {
				requests[i].Examples = append(requests[i].Examples, row.Name)
			}
			continue
		}
		_, found, err := s.mappings.Resolve(ctx, ledgerID, row.CategoryLabel, row.Direction)
		if err != nil {
			return nil, fmt.Errorf("Suggest: resolve %q: %w", row.CategoryLabel, err)
		}
		if found {
			index[key] = -1
			continue
		}
		index[key] = len(requests)
		requests = append(requests, labelRequest{
			Label:     row.CategoryLabel,
			Direction: row.Direction,
			Examples:  []string{row.Name},
		})
	}

	sort.Slice(requests, func(i, j int) bool {
		if requests[i].Direction != requests[j].Direction {
			return requests[i].Direction < requests[j].Direction
		}
		return requests[i].Label < requests[j].Label
	})
	return requests, nil
}

func requestKey(label string, direction domain.FlowDirection) string {
	return string(direction) + "|" + domain.NormalizeLabel(label)
}
