package ledger_test

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
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*ledger.Service, *inmemory.LedgerRepository, *events.Recorder) {
	t.Helper()
	repo := inmemory.NewLedgerRepository()
	rec := &events.Recorder{}
	n := 0
	svc := ledger.NewService(repo, clock.NewFixed(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)), zerolog.Nop(),
		ledger.WithPublisher(rec),
		ledger.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	return svc, repo, rec
}

func createLedger(t *testing.T, svc *ledger.Service) *ledger.Ledger {
	t.Helper()
	l, err := svc.Create(context.Background(), ledger.CreateLedger{
		Name:           "Household",
		Currency:       "GBP",
		InitialBalance: decimal.NewFromInt(100),
		StartPeriod:    domain.NewYearMonth(2024, time.January),
		ActivePeriod:   domain.NewYearMonth(2024, time.March),
	})
	require.NoError(t, err)
	return l
}

func TestService_CreateAndGet(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	l := createLedger(t, svc)
	got, err := svc.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSetup, got.Status)
	assert.Equal(t, []string{"ledger.LedgerCreated"}, rec.Names())

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Events(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_UpdateIsAtomic(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	l := createLedger(t, svc)

	_, err := svc.Update(ctx, l.ID, func(uow *ledger.UnitOfWork) error {
		if _, err := uow.Execute(ledger.CreateCategory{Direction: domain.Outflow, Name: "Food"}); err != nil {
			return err
		}
		_, err := uow.Execute(ledger.CreateCategory{Direction: domain.Outflow, Name: "food"})
		return err
	})
	require.Error(t, err)
	assert.Equal(t, domain.ReasonCategoryExists, domain.ReasonOf(err))

	got, err := svc.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CategoryCount(), "rejected unit of work must not persist earlier commands")
}

func TestService_UpdateRejectedCommandKeepsWorkingCopy(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()
	l := createLedger(t, svc)

	updated, err := svc.Update(ctx, l.ID, func(uow *ledger.UnitOfWork) error {
		_, err := uow.Execute(ledger.CreateCategory{Direction: domain.Inflow, Name: "Salary"})
		require.NoError(t, err)

		before := uow.State()
		_, err = uow.Execute(ledger.RolloverMonth{})
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Same(t, before, uow.State())
		assert.Equal(t, 1, uow.Pending())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CategoryCount())

	evs, err := svc.Events(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, ledger.EvtCategoryCreated, evs[1].Type)
	assert.EqualValues(t, 2, evs[1].Sequence)
	assert.Contains(t, rec.Names(), "ledger.CategoryCreated")
}

func TestUnitOfWork_RollbackToSavepoint(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	l := createLedger(t, svc)

	updated, err := svc.Update(ctx, l.ID, func(uow *ledger.UnitOfWork) error {
		_, err := uow.Execute(ledger.CreateCategory{Direction: domain.Inflow, Name: "Salary"})
		require.NoError(t, err)

		sp := uow.Savepoint()
		before := uow.State()
		_, err = uow.Execute(ledger.CreateCategory{Direction: domain.Outflow, Name: "Food"})
		require.NoError(t, err)
		assert.Equal(t, 2, uow.Pending())

		uow.RollbackTo(sp)
		assert.Same(t, before, uow.State())
		assert.Equal(t, 1, uow.Pending())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CategoryCount())
	_, ok := updated.Tree(domain.Outflow).FindByName("Food")
	assert.False(t, ok)

	evs, err := svc.Events(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestService_PublishFailureDoesNotUndoSave(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()
	l := createLedger(t, svc)

	rec.Err = errors.New("bus unavailable")
	_, _, err := svc.Execute(ctx, l.ID, ledger.ActivateLedger{ConfirmedBalance: decimal.NewFromInt(100)})
	require.NoError(t, err)

	got, err := svc.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOpen, got.Status)
}

func TestService_SaveFailureLeavesLedgerUnchanged(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()
	l := createLedger(t, svc)

	repo.FailSave = errors.New("disk full")
	_, _, err := svc.Execute(ctx, l.ID, ledger.ActivateLedger{ConfirmedBalance: decimal.NewFromInt(100)})
	require.Error(t, err)
	repo.FailSave = nil

	got, err := svc.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSetup, got.Status)
}

func TestService_ReplayMatchesSnapshot(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	l := createLedger(t, svc)

	unc := l.Tree(domain.Outflow).Uncategorized().ID
	_, _, err := svc.Execute(ctx, l.ID, ledger.ImportHistoricalEntry{
		CategoryID: unc,
		Name:       "Coffee",
		Money:      domain.NewMoney(decimal.RequireFromString("3.20"), "GBP"),
		Direction:  domain.Outflow,
		PaidDate:   time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	records, err := svc.Events(ctx, l.ID)
	require.NoError(t, err)
	rebuilt, err := ledger.Replay(records)
	require.NoError(t, err)

	snapshot, err := svc.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Version, rebuilt.Version)
	assert.True(t, snapshot.CalculatedBalance().Equal(rebuilt.CalculatedBalance()))
}
