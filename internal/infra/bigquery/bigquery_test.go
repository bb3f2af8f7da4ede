package bigquery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/cashflow-ledger/internal/clock"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/infra/inmemory"
	"github.com/dvloznov/cashflow-ledger/internal/jobs"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnTable(t *testing.T) {
	c := &Conn{project: "my-project", dataset: "ledgers"}
	assert.Equal(t, "`my-project.ledgers.import_jobs`", c.table(importJobsTable))
}

func TestLedgerSnapshotRow_ReplayMatches(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewLedgerRepository()
	n := 0
	svc := ledger.NewService(repo, clock.NewFixed(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)), zerolog.Nop(),
		ledger.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }))

	l, err := svc.Create(ctx, ledger.CreateLedger{
		Name:           "Household",
		Currency:       "GBP",
		InitialBalance: decimal.NewFromInt(1000),
		StartPeriod:    domain.NewYearMonth(2024, time.January),
		ActivePeriod:   domain.NewYearMonth(2024, time.March),
	})
	require.NoError(t, err)
	l, _, err = svc.Execute(ctx, l.ID, ledger.ImportHistoricalEntry{
		CategoryID:          l.Tree(domain.Outflow).Uncategorized().ID,
		Name:                "Tesco",
		Money:               domain.NewMoney(decimal.RequireFromString("12.34"), "GBP"),
		Direction:           domain.Outflow,
		PaidDate:            time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		SourceTransactionID: "bank-1",
	})
	require.NoError(t, err)

	row, err := toSnapshotRow(l)
	require.NoError(t, err)
	assert.Equal(t, "SETUP", row.Status)
	assert.Equal(t, l.Version, row.Version)

	decoded, err := fromSnapshotRow(row)
	require.NoError(t, err)
	assert.True(t, decoded.CalculatedBalance().Amount.Equal(decimal.RequireFromString("987.66")))
	assert.True(t, decoded.HasSourceTransaction("bank-1"))

	records, err := svc.Events(ctx, l.ID)
	require.NoError(t, err)
	var stored []ledger.Record
	for _, rec := range records {
		stored = append(stored, fromEventRow(toEventRow(rec)))
	}
	replayed, err := ledger.Replay(stored)
	require.NoError(t, err)
	assert.Equal(t, decoded.EntryCount(), replayed.EntryCount())
	assert.True(t, replayed.CalculatedBalance().Amount.Equal(decoded.CalculatedBalance().Amount))
}

func TestStagedRow_FilterColumns(t *testing.T) {
	paid := time.Date(2024, 2, 29, 18, 30, 0, 0, time.UTC)
	tx := &staging.StagedTransaction{
		ID:         "row-1",
		SessionID:  "session-1",
		LedgerID:   "ledger-1",
		RowNumber:  4,
		Name:       "Cafe",
		PaidAt:     paid,
		Validation: staging.Validation{Status: staging.StatusDuplicate, Reason: "duplicate: same as row 2"},
		ExpiresAt:  paid.Add(24 * time.Hour),
	}

	row, err := toStagedRow(tx)
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.February, Day: 29}, row.PaidDate)
	assert.Equal(t, "DUPLICATE", row.ValidationStatus)
	assert.Equal(t, int64(4), row.RowNumber)

	back, err := fromStagedRow(row)
	require.NoError(t, err)
	assert.Equal(t, tx.Validation, back.Validation)
	assert.True(t, back.PaidAt.Equal(paid))
}

func TestJobFilterSQL(t *testing.T) {
	tests := []struct {
		name     string
		filter   jobs.JobFilter
		contains []string
		params   int
	}{
		{"empty", jobs.JobFilter{}, []string{"WHERE TRUE", "ORDER BY created_ts, job_id"}, 0},
		{"ledger", jobs.JobFilter{LedgerID: "l-1"}, []string{"ledger_id = @ledger_id"}, 1},
		{
			"statuses and page",
			jobs.JobFilter{Statuses: []jobs.JobStatus{jobs.JobStatusCompleted, jobs.JobStatusFailed}, Limit: 10, Offset: 20},
			[]string{"status IN UNNEST(@statuses)", "LIMIT @limit OFFSET @offset"},
			3,
		},
		{"session", jobs.JobFilter{StagingSessionID: "s-1"}, []string{"session_id = @session_id"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params := jobFilterSQL(tt.filter)
			for _, want := range tt.contains {
				assert.Contains(t, sql, want)
			}
			assert.Len(t, params, tt.params)
		})
	}
}

func TestJobRow(t *testing.T) {
	created := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	job := &jobs.ImportJob{
		ID:               "job-1",
		LedgerID:         "ledger-1",
		StagingSessionID: "session-1",
		Status:           jobs.JobStatusCompleted,
		Result:           jobs.Result{TransactionsImported: 3, CategoriesCreated: 1},
		Rollback:         jobs.RollbackData{Deadline: created.Add(72 * time.Hour)},
		CreatedAt:        created,
		UpdatedAt:        created.Add(time.Minute),
	}

	row, err := toJobRow(job)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", row.Status)
	assert.Equal(t, "session-1", row.SessionID)

	back, err := fromJobRow(row)
	require.NoError(t, err)
	assert.Equal(t, job.Result, back.Result)
	assert.True(t, back.Rollback.Deadline.Equal(job.Rollback.Deadline))
}
