package suggest_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/clock"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/infra/inmemory"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/mapping"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/dvloznov/cashflow-ledger/internal/suggest"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockModel is a mock implementation of suggest.Model.
type MockModel struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	prompts      []string
}

func (m *MockModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "[]", nil
}

type fixture struct {
	ledgerID  string
	sessionID string
	store     *staging.Store
	resolver  *mapping.Resolver
	ledgers   *ledger.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	n := 0
	ids := func() string { n++; return fmt.Sprintf("id-%d", n) }

	ledgers := ledger.NewService(inmemory.NewLedgerRepository(), clk, zerolog.Nop(), ledger.WithIDGenerator(ids))
	l, err := ledgers.Create(ctx, ledger.CreateLedger{
		Name:           "Household",
		Currency:       "GBP",
		InitialBalance: decimal.NewFromInt(1000),
		StartPeriod:    domain.NewYearMonth(2024, time.January),
		ActivePeriod:   domain.NewYearMonth(2024, time.March),
	})
	require.NoError(t, err)

	store := staging.NewStore(inmemory.NewStagingRepository(), ledgers, clk, staging.Config{
		TTL:                 24 * time.Hour,
		SupportedCurrencies: []string{"GBP"},
	}, zerolog.Nop()).WithIDGenerator(ids)
	resolver := mapping.NewResolver(inmemory.NewMappingRepository(), clk, 0, zerolog.Nop()).WithIDGenerator(ids)

	row := func(name, label string, dir domain.FlowDirection, day int) staging.ParsedRow {
		return staging.ParsedRow{
			Name:          name,
			CategoryLabel: label,
			Amount:        decimal.NewFromInt(10),
			Currency:      "GBP",
			Direction:     dir,
			PaidAt:        time.Date(2024, 2, day, 0, 0, 0, 0, time.UTC),
		}
	}
	res, err := store.Stage(ctx, l.ID, []staging.ParsedRow{
		row("Tesco", "GROC", domain.Outflow, 1),
		row("Aldi", "groc", domain.Outflow, 2),
		row("Employer", "SALARY", domain.Inflow, 3),
		row("Landlord", "RENT", domain.Outflow, 4),
		row("", "JUNK", domain.Outflow, 5),
	}, staging.StageOptions{})
	require.NoError(t, err)

	_, err = resolver.Configure(ctx, l.ID, []mapping.Config{
		{Label: "RENT", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: ledger.UncategorizedName},
	})
	require.NoError(t, err)

	return &fixture{ledgerID: l.ID, sessionID: res.Session.ID, store: store, resolver: resolver, ledgers: ledgers}
}

func TestSuggest(t *testing.T) {
	f := newFixture(t)
	model := &MockModel{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "```json\n[" +
				`{"label":"GROC","direction":"OUTFLOW","action":"CREATE_SUBCATEGORY","target":"Groceries","parent":"Food"},` +
				`{"label":"SALARY","direction":"INFLOW","action":"GUESS","target":"Salary","parent":""}` +
				"]\n```", nil
		},
	}
	s := suggest.NewSuggester(f.ledgers, f.store, f.resolver, model, zerolog.Nop())

	configs, err := s.Suggest(context.Background(), f.ledgerID, f.sessionID)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, mapping.Config{
		Label:          "SALARY",
		Direction:      "INFLOW",
		Action:         "USE_EXISTING",
		TargetCategory: ledger.UncategorizedName,
	}, configs[0])
	assert.Equal(t, mapping.Config{
		Label:          "GROC",
		Direction:      "OUTFLOW",
		Action:         "CREATE_SUBCATEGORY",
		TargetCategory: "Groceries",
		ParentCategory: "Food",
	}, configs[1])

	require.Len(t, model.prompts, 1)
	prompt := model.prompts[0]
	assert.Contains(t, prompt, `"GROC" OUTFLOW e.g. Tesco; Aldi`)
	assert.Contains(t, prompt, `"SALARY" INFLOW`)
	assert.NotContains(t, prompt, "RENT")
	assert.NotContains(t, prompt, "JUNK")
	assert.Contains(t, prompt, "Uncategorized")

	// Suggestions are accepted as-is by the resolver.
	result, err := f.resolver.Configure(context.Background(), f.ledgerID, configs)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
}

func TestSuggest_AllMapped(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Configure(context.Background(), f.ledgerID, []mapping.Config{
		{Label: "GROC", Direction: "OUTFLOW", Action: "SKIP"},
		{Label: "SALARY", Direction: "INFLOW", Action: "USE_EXISTING", TargetCategory: ledger.UncategorizedName},
	})
	require.NoError(t, err)

	model := &MockModel{}
	configs, err := suggest.NewSuggester(f.ledgers, f.store, f.resolver, model, zerolog.Nop()).
		Suggest(context.Background(), f.ledgerID, f.sessionID)
	require.NoError(t, err)
	assert.Empty(t, configs)
	assert.Empty(t, model.prompts)
}

func TestSuggest_ModelFailure(t *testing.T) {
	f := newFixture(t)

	t.Run("error", func(t *testing.T) {
		model := &MockModel{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("quota exceeded")
		}}
		_, err := suggest.NewSuggester(f.ledgers, f.store, f.resolver, model, zerolog.Nop()).
			Suggest(context.Background(), f.ledgerID, f.sessionID)
		assert.ErrorContains(t, err, "quota exceeded")
	})

	t.Run("not json", func(t *testing.T) {
		model := &MockModel{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "I think GROC is groceries.", nil
		}}
		_, err := suggest.NewSuggester(f.ledgers, f.store, f.resolver, model, zerolog.Nop()).
			Suggest(context.Background(), f.ledgerID, f.sessionID)
		assert.ErrorContains(t, err, "unmarshal JSON")
	})
}

func TestSuggest_UnknownLedger(t *testing.T) {
	f := newFixture(t)
	_, err := suggest.NewSuggester(f.ledgers, f.store, f.resolver, &MockModel{}, zerolog.Nop()).
		Suggest(context.Background(), "missing", f.sessionID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
