package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/clock"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/events"
	"github.com/dvloznov/cashflow-ledger/internal/infra/inmemory"
	"github.com/dvloznov/cashflow-ledger/internal/jobs"
	jobstore "github.com/dvloznov/cashflow-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/mapping"
	"github.com/dvloznov/cashflow-ledger/internal/pipeline"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const grace = 48 * time.Hour

type harness struct {
	ctx       context.Context
	clock     *clock.Fixed
	ledgerRep *inmemory.LedgerRepository
	ledgers   *ledger.Service
	staging   *staging.Store
	mappings  *mapping.Resolver
	jobs      *jobstore.Store
	saves     *flakyStore
	orch      *pipeline.Orchestrator
	events    *events.Recorder
	ledgerID  string
}

// flakyStore fails every save of a job entering failOn.
type flakyStore struct {
	*jobstore.Store
	failOn jobs.JobStatus
}

func (s *flakyStore) SaveJob(ctx context.Context, job *jobs.ImportJob) error {
	if s.failOn != "" && job.Status == s.failOn {
		return errors.New("job store unavailable")
	}
	return s.Store.SaveJob(ctx, job)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFixed(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	n := 0
	ids := func() string { n++; return fmt.Sprintf("id-%d", n) }
	rec := &events.Recorder{}
	log := zerolog.Nop()

	ledgerRepo := inmemory.NewLedgerRepository()
	ledgers := ledger.NewService(ledgerRepo, clk, log, ledger.WithIDGenerator(ids))
	stagingStore := staging.NewStore(inmemory.NewStagingRepository(), ledgers, clk, staging.Config{
		TTL:                 24 * time.Hour,
		SupportedCurrencies: []string{"GBP"},
	}, log).WithIDGenerator(ids)
	resolver := mapping.NewResolver(inmemory.NewMappingRepository(), clk, time.Minute, log).WithIDGenerator(ids)
	store := jobstore.NewStore()
	saves := &flakyStore{Store: store}
	orch := pipeline.NewOrchestrator(ledgers, stagingStore, resolver, saves, clk,
		pipeline.Config{RollbackGrace: grace}, log,
		pipeline.WithPublisher(rec),
		pipeline.WithIDGenerator(func() string { n++; return fmt.Sprintf("job-%d", n) }),
	)

	h := &harness{
		ctx:       context.Background(),
		clock:     clk,
		ledgerRep: ledgerRepo,
		ledgers:   ledgers,
		staging:   stagingStore,
		mappings:  resolver,
		jobs:      store,
		saves:     saves,
		orch:      orch,
		events:    rec,
	}
	l, err := ledgers.Create(h.ctx, ledger.CreateLedger{
		Name:           "Household",
		Currency:       "GBP",
		InitialBalance: decimal.NewFromInt(1000),
		StartPeriod:    domain.NewYearMonth(2024, time.January),
		ActivePeriod:   domain.NewYearMonth(2024, time.March),
	})
	require.NoError(t, err)
	h.ledgerID = l.ID
	return h
}

func (h *harness) category(t *testing.T, dir domain.FlowDirection, name string) string {
	t.Helper()
	_, evs, err := h.ledgers.Execute(h.ctx, h.ledgerID, ledger.CreateCategory{Direction: dir, Name: name})
	require.NoError(t, err)
	return evs[0].(ledger.CategoryCreated).CategoryID
}

func (h *harness) stage(t *testing.T, rows ...staging.ParsedRow) string {
	t.Helper()
	res, err := h.staging.Stage(h.ctx, h.ledgerID, rows, staging.StageOptions{})
	require.NoError(t, err)
	return res.Session.ID
}

func (h *harness) configure(t *testing.T, configs ...mapping.Config) {
	t.Helper()
	res, err := h.mappings.Configure(h.ctx, h.ledgerID, configs)
	require.NoError(t, err)
	require.Zero(t, res.Rejected)
}

func (h *harness) ledger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := h.ledgers.Get(h.ctx, h.ledgerID)
	require.NoError(t, err)
	return l
}

func row(name, label string, amount int64, dir domain.FlowDirection, paid time.Time) staging.ParsedRow {
	return staging.ParsedRow{
		Name:          name,
		CategoryLabel: label,
		Amount:        decimal.NewFromInt(amount),
		Currency:      "GBP",
		Direction:     dir,
		PaidAt:        paid,
	}
}

func feb(day int) time.Time {
	return time.Date(2024, time.February, day, 0, 0, 0, 0, time.UTC)
}

func TestImport_EndToEnd(t *testing.T) {
	h := newHarness(t)
	groceries := h.category(t, domain.Outflow, "Groceries")

	sessionID := h.stage(t,
		row("Tesco", "GROC", 40, domain.Outflow, feb(1)),
		row("Sainsbury's", "GROC", 25, domain.Outflow, feb(2)),
		row("Tesco", "GROC", 40, domain.Outflow, feb(1)),
	)
	session, err := h.staging.GetSession(h.ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, staging.SessionPartiallyValid, session.Status)
	assert.Equal(t, []int{3, 2, 0, 1}, []int{session.Total, session.Valid, session.Invalid, session.Duplicate})

	h.configure(t, mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: "Groceries"})

	job, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Result.TransactionsImported)
	assert.Zero(t, job.Result.CategoriesCreated)
	assert.Zero(t, job.Result.ErrorCount())
	assert.Equal(t, 3, job.Progress.Processed)
	assert.Equal(t, 100.0, job.Progress.Percentage)
	assert.Equal(t, h.clock.Now().Add(grace), job.Rollback.Deadline)
	require.NotNil(t, job.Summary)
	require.Len(t, job.Summary.Categories, 1)
	assert.Equal(t, "Groceries", job.Summary.Categories[0].Path)
	assert.True(t, job.Summary.TotalOutflow.Equal(decimal.NewFromInt(65)))

	l := h.ledger(t)
	assert.Equal(t, 2, l.EntryCount())
	for _, e := range l.Entries {
		assert.Equal(t, groceries, e.CategoryID)
		assert.Equal(t, job.ID, e.ImportJobID)
	}

	job, err = h.orch.Finalize(h.ctx, job.ID, false)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFinalized, job.Status)
	assert.Equal(t, 3, job.Finalization.StagingRowsDeleted)

	rows, err := h.staging.Rows(h.ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, ok, err := h.mappings.Resolve(h.ctx, h.ledgerID, "GROC", domain.Outflow)
	require.NoError(t, err)
	assert.True(t, ok, "mapping must survive finalize without deleteMappings")
	assert.Equal(t, 2, h.ledger(t).EntryCount(), "finalize never touches ledger entries")

	assert.Equal(t, []string{pipeline.EventJobCompleted, pipeline.EventJobFinalized}, h.events.Names())

	_, err = h.orch.Rollback(h.ctx, job.ID, false)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCreateJob_Preconditions(t *testing.T) {
	h := newHarness(t)
	sessionID := h.stage(t, row("Tesco", "GROC", 40, domain.Outflow, feb(1)))

	_, err := h.orch.CreateJob(h.ctx, h.ledgerID, sessionID)
	require.Error(t, err)
	assert.Equal(t, domain.ReasonUnmappedCategory, domain.ReasonOf(err))
	assert.Contains(t, err.Error(), "GROC (OUTFLOW)")

	_, err = h.orch.CreateJob(h.ctx, h.ledgerID, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.orch.CreateJob(h.ctx, "missing", sessionID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	h.configure(t, mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "SKIP"})
	job, err := h.orch.CreateJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, job.Status)

	_, err = h.orch.CreateJob(h.ctx, h.ledgerID, sessionID)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "one active job per session")

	_, err = h.orch.Process(h.ctx, job.ID)
	require.NoError(t, err)
	_, err = h.orch.Process(h.ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCreateJob_RejectsSessionWithoutValidRows(t *testing.T) {
	h := newHarness(t)
	bad := row("", "GROC", 40, domain.Outflow, feb(1))
	sessionID := h.stage(t, bad)

	_, err := h.orch.CreateJob(h.ctx, h.ledgerID, sessionID)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.ReasonEmptyBatch, domain.ReasonOf(err))
}

func TestCreateJob_RequiresSetupLedger(t *testing.T) {
	h := newHarness(t)
	sessionID := h.stage(t, row("Tesco", "GROC", 40, domain.Outflow, feb(1)))
	h.configure(t, mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: "Uncategorized"})

	_, _, err := h.ledgers.Execute(h.ctx, h.ledgerID, ledger.ActivateLedger{ConfirmedBalance: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	_, err = h.orch.CreateJob(h.ctx, h.ledgerID, sessionID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestProcess_CreatesSubcategoriesOnce(t *testing.T) {
	h := newHarness(t)
	sessionID := h.stage(t,
		row("Pret", "COFFEE", 4, domain.Outflow, feb(3)),
		row("Costa", "COFFEE", 3, domain.Outflow, feb(4)),
		row("Salary", "PAY", 2000, domain.Inflow, feb(25)),
	)
	h.configure(t,
		mapping.Config{Label: "COFFEE", Direction: "OUTFLOW", Action: "CREATE_SUBCATEGORY", TargetCategory: "Coffee", ParentCategory: "Eating out"},
		mapping.Config{Label: "PAY", Direction: "INFLOW", Action: "CREATE_SUBCATEGORY", TargetCategory: "Salary"},
	)

	job, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, job.Result.TransactionsImported)
	assert.Equal(t, 3, job.Result.CategoriesCreated, "Eating out, Coffee and Salary")

	l := h.ledger(t)
	coffee, ok := l.Tree(domain.Outflow).Lookup("Coffee", "Eating out")
	require.True(t, ok)
	assert.Equal(t, "Eating out / Coffee", l.Tree(domain.Outflow).Path(coffee.ID))
	_, ok = l.Tree(domain.Inflow).Child("", "Salary")
	assert.True(t, ok)

	paths := []string{}
	for _, b := range job.Summary.Categories {
		paths = append(paths, b.Path)
	}
	assert.Equal(t, []string{"Salary", "Eating out / Coffee"}, paths)
	assert.True(t, job.Summary.TotalInflow.Equal(decimal.NewFromInt(2000)))
}

func TestProcess_RowErrorsDoNotAbortJob(t *testing.T) {
	h := newHarness(t)
	h.category(t, domain.Outflow, "Groceries")
	sessionID := h.stage(t,
		row("Tesco", "GROC", 40, domain.Outflow, feb(1)),
		row("Tesco", "GROC", 12, domain.Outflow, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)),
		row("ATM", "CASH", 50, domain.Outflow, feb(5)),
		row("Gym", "SPORT", 30, domain.Outflow, feb(6)),
	)
	h.configure(t,
		mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: "Groceries"},
		mapping.Config{Label: "CASH", Direction: "OUTFLOW", Action: "SKIP"},
		mapping.Config{Label: "SPORT", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: "Fitness"},
	)

	job, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Result.TransactionsImported)
	assert.Equal(t, 1, job.Result.Skipped)
	require.Len(t, job.Result.Errors, 2)
	assert.Equal(t, domain.ReasonPaidDateNotBeforeActive, job.Result.Errors[0].Reason)
	assert.Equal(t, 2, job.Result.Errors[0].RowNumber)
	assert.Equal(t, domain.ReasonCategoryNotFound, job.Result.Errors[1].Reason)
	assert.Equal(t, 1, h.ledger(t).EntryCount())
}

func TestProcess_RejectedRowDoesNotKeepItsCategories(t *testing.T) {
	h := newHarness(t)
	march := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	sessionID := h.stage(t,
		row("Pret", "COFFEE", 4, domain.Outflow, march),
		row("Costa", "COFFEE", 3, domain.Outflow, feb(4)),
		row("Gym", "SPORT", 30, domain.Outflow, march),
	)
	h.configure(t,
		mapping.Config{Label: "COFFEE", Direction: "OUTFLOW", Action: "CREATE_SUBCATEGORY", TargetCategory: "Coffee", ParentCategory: "Eating out"},
		mapping.Config{Label: "SPORT", Direction: "OUTFLOW", Action: "CREATE_SUBCATEGORY", TargetCategory: "Fitness"},
	)

	job, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Result.TransactionsImported)
	assert.Equal(t, 2, job.Result.CategoriesCreated, "Eating out and Coffee")
	require.Len(t, job.Result.Errors, 2)
	for _, e := range job.Result.Errors {
		assert.Equal(t, domain.ReasonPaidDateNotBeforeActive, e.Reason)
	}

	l := h.ledger(t)
	assert.Equal(t, 2, l.CategoryCount())
	_, ok := l.Tree(domain.Outflow).FindByName("Fitness")
	assert.False(t, ok)
	_, ok = l.Tree(domain.Outflow).Lookup("Coffee", "Eating out")
	assert.True(t, ok)
}

func TestProcess_UnmappedAfterCreateIsRowError(t *testing.T) {
	h := newHarness(t)
	sessionID := h.stage(t, row("Tesco", "GROC", 40, domain.Outflow, feb(1)))
	h.configure(t, mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: "Uncategorized"})

	job, err := h.orch.CreateJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)
	_, err = h.mappings.DeleteAll(h.ctx, h.ledgerID)
	require.NoError(t, err)

	job, err = h.orch.Process(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)
	require.Len(t, job.Result.Errors, 1)
	assert.Equal(t, domain.ReasonUnmappedCategory, job.Result.Errors[0].Reason)
}

func TestProcess_PersistenceFailureMarksJobFailed(t *testing.T) {
	h := newHarness(t)
	sessionID := h.stage(t, row("Tesco", "GROC", 40, domain.Outflow, feb(1)))
	h.configure(t, mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "CREATE_SUBCATEGORY", TargetCategory: "Groceries"})

	h.ledgerRep.FailSave = errors.New("bigquery unavailable")
	job, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.Error(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobs.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "bigquery unavailable")
	assert.Equal(t, []string{pipeline.EventJobFailed}, h.events.Names())

	h.ledgerRep.FailSave = nil
	l := h.ledger(t)
	assert.Zero(t, l.EntryCount())
	assert.Zero(t, l.CategoryCount())

	stored, err := h.orch.GetProgress(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, stored.Status)

	retry, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err, "a failed job releases its session")
	assert.Equal(t, jobs.JobStatusCompleted, retry.Status)
}

func TestProcess_JobStoreFailureAfterCommitRevertsLedger(t *testing.T) {
	h := newHarness(t)
	h.category(t, domain.Outflow, "Groceries")
	sessionID := h.stage(t,
		row("Pret", "COFFEE", 4, domain.Outflow, feb(3)),
		row("Tesco", "GROC", 40, domain.Outflow, feb(1)),
	)
	h.configure(t,
		mapping.Config{Label: "COFFEE", Direction: "OUTFLOW", Action: "CREATE_SUBCATEGORY", TargetCategory: "Coffee", ParentCategory: "Eating out"},
		mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: "Groceries"},
	)

	h.saves.failOn = jobs.JobStatusCompleted
	job, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job store unavailable")
	require.NotNil(t, job)
	assert.Equal(t, jobs.JobStatusFailed, job.Status)
	assert.Zero(t, job.Result.TransactionsImported)
	assert.Zero(t, job.Result.CategoriesCreated)
	assert.Nil(t, job.Summary)
	assert.Equal(t, []string{pipeline.EventJobFailed}, h.events.Names())

	stored, err := h.orch.GetProgress(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, stored.Status)

	l := h.ledger(t)
	assert.Zero(t, l.EntryCount())
	assert.Equal(t, 1, l.CategoryCount(), "only the category that existed before the job")
	_, ok := l.Tree(domain.Outflow).FindByName("Eating out")
	assert.False(t, ok)

	h.saves.failOn = ""
	retry, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err, "a failed job releases its session")
	assert.Equal(t, jobs.JobStatusCompleted, retry.Status)
	assert.Equal(t, 2, retry.Result.TransactionsImported)
	assert.Equal(t, 2, retry.Result.CategoriesCreated)
	assert.Equal(t, 2, h.ledger(t).EntryCount())
}

func TestAbandon(t *testing.T) {
	h := newHarness(t)
	sessionID := h.stage(t, row("Tesco", "GROC", 40, domain.Outflow, feb(1)))
	h.configure(t, mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: "Uncategorized"})

	job, err := h.orch.CreateJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)
	_, err = h.orch.CreateJob(h.ctx, h.ledgerID, sessionID)
	require.ErrorIs(t, err, domain.ErrInvalidState, "a pending job holds the session")

	abandoned, err := h.orch.Abandon(h.ctx, job.ID, "enqueue failed")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, abandoned.Status)
	assert.Equal(t, "enqueue failed", abandoned.Error)
	assert.NotNil(t, abandoned.CompletedAt)
	assert.Equal(t, []string{pipeline.EventJobFailed}, h.events.Names())

	stored, err := h.orch.GetProgress(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, stored.Status)
	assert.Zero(t, h.ledger(t).EntryCount())

	_, err = h.orch.Process(h.ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	retry, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, retry.Status)
	assert.Equal(t, 1, h.ledger(t).EntryCount())

	_, err = h.orch.Abandon(h.ctx, retry.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.orch.Abandon(h.ctx, "missing", "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRollback(t *testing.T) {
	h := newHarness(t)
	sessionID := h.stage(t,
		row("Pret", "COFFEE", 4, domain.Outflow, feb(3)),
		row("Costa", "COFFEE", 3, domain.Outflow, feb(4)),
	)
	h.configure(t, mapping.Config{Label: "COFFEE", Direction: "OUTFLOW", Action: "CREATE_SUBCATEGORY", TargetCategory: "Coffee", ParentCategory: "Eating out"})

	job, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	job, err = h.orch.Rollback(h.ctx, job.ID, true)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusRolledBack, job.Status)
	assert.True(t, job.Rollback.RolledBack)
	require.NotNil(t, job.Rollback.RolledBackAt)
	assert.Equal(t, &jobs.RollbackSummary{TransactionsDeleted: 2, CategoriesDeleted: 2}, job.Rollback.Summary)

	l := h.ledger(t)
	assert.Zero(t, l.EntryCount())
	assert.Zero(t, l.CategoryCount())
	assert.NotNil(t, l.Tree(domain.Outflow).Uncategorized())
	assert.True(t, l.BankAccount.Balance.Amount.Equal(decimal.NewFromInt(1000)))

	_, err = h.orch.Rollback(h.ctx, job.ID, true)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.orch.Finalize(h.ctx, job.ID, false)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	again, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err, "a rolled back session can be imported again")
	assert.Equal(t, 2, again.Result.TransactionsImported)
}

func TestRollback_KeepsCategoriesWhenAsked(t *testing.T) {
	h := newHarness(t)
	sessionID := h.stage(t, row("Pret", "COFFEE", 4, domain.Outflow, feb(3)))
	h.configure(t, mapping.Config{Label: "COFFEE", Direction: "OUTFLOW", Action: "CREATE_SUBCATEGORY", TargetCategory: "Coffee"})

	job, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)
	job, err = h.orch.Rollback(h.ctx, job.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Rollback.Summary.TransactionsDeleted)
	assert.Zero(t, job.Rollback.Summary.CategoriesDeleted)
	assert.Equal(t, 1, h.ledger(t).CategoryCount())
}

func TestRollback_Deadline(t *testing.T) {
	h := newHarness(t)
	sessionID := h.stage(t, row("Tesco", "GROC", 40, domain.Outflow, feb(1)))
	h.configure(t, mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: "Uncategorized"})

	job, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)

	h.clock.Advance(grace)
	_, err = h.orch.Rollback(h.ctx, job.ID, false)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Contains(t, err.Error(), "deadline")
	assert.Equal(t, 1, h.ledger(t).EntryCount())
}

func TestRollback_RequiresSetupLedger(t *testing.T) {
	h := newHarness(t)
	sessionID := h.stage(t, row("Tesco", "GROC", 40, domain.Outflow, feb(1)))
	h.configure(t, mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: "Uncategorized"})

	job, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)
	_, _, err = h.ledgers.Execute(h.ctx, h.ledgerID, ledger.ActivateLedger{ConfirmedBalance: decimal.NewFromInt(960)})
	require.NoError(t, err)

	_, err = h.orch.Rollback(h.ctx, job.ID, false)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	stored, err := h.orch.GetProgress(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, stored.Status)
}

func TestFinalize_DeletesMappingsWhenAsked(t *testing.T) {
	h := newHarness(t)
	sessionID := h.stage(t, row("Tesco", "GROC", 40, domain.Outflow, feb(1)))
	h.configure(t, mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: "Uncategorized"})

	job, err := h.orch.StartImportJob(h.ctx, h.ledgerID, sessionID)
	require.NoError(t, err)

	// Expired rows are not an error for finalize.
	h.clock.Advance(25 * time.Hour)
	job, err = h.orch.Finalize(h.ctx, job.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Finalization.MappingsDeleted)

	ms, err := h.mappings.List(h.ctx, h.ledgerID)
	require.NoError(t, err)
	assert.Empty(t, ms)

	_, err = h.orch.Finalize(h.ctx, job.ID, true)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.orch.Finalize(h.ctx, "missing", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListJobs(t *testing.T) {
	h := newHarness(t)
	h.configure(t, mapping.Config{Label: "GROC", Direction: "OUTFLOW", Action: "USE_EXISTING", TargetCategory: "Uncategorized"})

	first := h.stage(t, row("Tesco", "GROC", 40, domain.Outflow, feb(1)))
	job1, err := h.orch.StartImportJob(h.ctx, h.ledgerID, first)
	require.NoError(t, err)
	_, err = h.orch.Finalize(h.ctx, job1.ID, false)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	second := h.stage(t, row("Lidl", "GROC", 20, domain.Outflow, feb(2)))
	_, err = h.orch.StartImportJob(h.ctx, h.ledgerID, second)
	require.NoError(t, err)

	all, err := h.orch.ListJobs(h.ctx, h.ledgerID, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, job1.ID, all[0].ID)

	completed, err := h.orch.ListJobs(h.ctx, h.ledgerID, jobs.JobFilter{Statuses: []jobs.JobStatus{jobs.JobStatusCompleted}})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, second, completed[0].StagingSessionID)

	_, err = h.orch.ListJobs(h.ctx, "missing", jobs.JobFilter{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
