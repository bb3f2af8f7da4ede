// Package mapping translates bank-supplied category labels into ledger
// categories. A mapping is unique per (ledger, normalized label, direction).
package mapping

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"gopkg.in/yaml.v3"
)

// Action says what the orchestrator does with rows carrying a label.
type Action string

const (
	ActionUseExisting       Action = "USE_EXISTING"
	ActionCreateSubcategory Action = "CREATE_SUBCATEGORY"
	ActionSkip              Action = "SKIP"
)

// ParseAction accepts the known actions in any case. IGNORE is an alias
// for SKIP.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ActionUseExisting):
		return ActionUseExisting, nil
	case string(ActionCreateSubcategory):
		return ActionCreateSubcategory, nil
	case string(ActionSkip), "IGNORE":
		return ActionSkip, nil
	default:
		return "", fmt.Errorf("unknown mapping action %q", s)
	}
}

// Mapping is a persisted translation rule.
type Mapping struct {
	ID             string               `json:"mapping_id"`
	LedgerID       string               `json:"ledger_id"`
	Label          string               `json:"label"`
	Key            string               `json:"key"`
	Direction      domain.FlowDirection `json:"direction"`
	Action         Action               `json:"action"`
	TargetCategory string               `json:"target_category,omitempty"`
	ParentCategory string               `json:"parent_category,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// Config is one requested mapping, as sent by API callers or read from a
// YAML file.
type Config struct {
	Label          string `json:"label" yaml:"label"`
	Direction      string `json:"direction" yaml:"direction"`
	Action         string `json:"action" yaml:"action"`
	TargetCategory string `json:"target_category,omitempty" yaml:"target"`
	ParentCategory string `json:"parent_category,omitempty" yaml:"parent,omitempty"`
}

// ResultStatus is the outcome of configuring one entry.
type ResultStatus string

const (
	ResultCreated  ResultStatus = "CREATED"
	ResultUpdated  ResultStatus = "UPDATED"
	ResultRejected ResultStatus = "REJECTED"
)

// Result reports what happened to one Config.
type Result struct {
	Label     string       `json:"label"`
	Direction string       `json:"direction"`
	Status    ResultStatus `json:"status"`
	MappingID string       `json:"mapping_id,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// ConfigureResult holds one Result per input entry, in input order.
type ConfigureResult struct {
	Results  []Result `json:"results"`
	Total    int      `json:"total"`
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Rejected int      `json:"rejected"`
}

// Repository persists mappings. Find returns nil, nil when no mapping
// exists for the key.
type Repository interface {
	Get(ctx context.Context, mappingID string) (*Mapping, error)
	Find(ctx context.Context, ledgerID, key string, direction domain.FlowDirection) (*Mapping, error)
	Upsert(ctx context.Context, m *Mapping) error
	ListByLedger(ctx context.Context, ledgerID string) ([]*Mapping, error)
	Delete(ctx context.Context, mappingID string) (bool, error)
	DeleteByLedger(ctx context.Context, ledgerID string) (int, error)
}

type configFile struct {
	Mappings []Config `yaml:"mappings"`
}

// LoadConfigs reads a YAML document of the form
//
//	mappings:
//	  - label: GROC
//	    direction: OUTFLOW
//	    action: USE_EXISTING
//	    target: Groceries
func LoadConfigs(r io.Reader) ([]Config, error) {
	var f configFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("LoadConfigs: decoding yaml: %w", err)
	}
	return f.Mappings, nil
}
