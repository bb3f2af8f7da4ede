package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/jobs"
)

// ImportJobRow is one import job.
type ImportJobRow struct {
	JobID     string    `bigquery:"job_id"`     // REQUIRED
	LedgerID  string    `bigquery:"ledger_id"`  // REQUIRED
	SessionID string    `bigquery:"session_id"` // REQUIRED
	Status    string    `bigquery:"status"`     // REQUIRED
	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
	UpdatedTS time.Time `bigquery:"updated_ts"` // REQUIRED
	Payload   string    `bigquery:"payload"`    // REQUIRED, JSON
}

func toJobRow(job *jobs.ImportJob) (ImportJobRow, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return ImportJobRow{}, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return ImportJobRow{
		JobID:     job.ID,
		LedgerID:  job.LedgerID,
		SessionID: job.StagingSessionID,
		Status:    string(job.Status),
		CreatedTS: job.CreatedAt,
		UpdatedTS: job.UpdatedAt,
		Payload:   string(data),
	}, nil
}

func fromJobRow(row ImportJobRow) (*jobs.ImportJob, error) {
	var job jobs.ImportJob
	if err := json.Unmarshal([]byte(row.Payload), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", row.JobID, err)
	}
	return &job, nil
}

// JobStore implements jobs.JobStore.
type JobStore struct {
	conn *Conn
}

// NewJobStore creates a JobStore on conn.
func NewJobStore(conn *Conn) *JobStore {
	return &JobStore{conn: conn}
}

const jobColumns = "job_id, ledger_id, session_id, status, created_ts, updated_ts, payload"

// SaveJob inserts or replaces a job by id.
func (s *JobStore) SaveJob(ctx context.Context, job *jobs.ImportJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}
	row, err := toJobRow(job)
	if err != nil {
		return fmt.Errorf("SaveJob: %w", err)
	}

	_, err = s.conn.exec(ctx, "SaveJob", fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @job_id AS job_id) S
		ON T.job_id = S.job_id
		WHEN MATCHED THEN
		  UPDATE SET status = @status, updated_ts = @updated_ts, payload = @payload
		WHEN NOT MATCHED THEN
		  INSERT (%s)
		  VALUES (@job_id, @ledger_id, @session_id, @status, @created_ts, @updated_ts, @payload)
	`, s.conn.table(importJobsTable), jobColumns), []bigquery.QueryParameter{
		{Name: "job_id", Value: row.JobID},
		{Name: "ledger_id", Value: row.LedgerID},
		{Name: "session_id", Value: row.SessionID},
		{Name: "status", Value: row.Status},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "updated_ts", Value: row.UpdatedTS},
		{Name: "payload", Value: row.Payload},
	})
	return err
}

// GetJob returns a job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*jobs.ImportJob, error) {
	rows, err := query[ImportJobRow](ctx, s.conn, "GetJob", fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE job_id = @job_id
		LIMIT 1
	`, jobColumns, s.conn.table(importJobsTable)), []bigquery.QueryParameter{
		{Name: "job_id", Value: jobID},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NotFound("import job", jobID)
	}
	return fromJobRow(rows[0])
}

// jobFilterSQL builds the WHERE/LIMIT tail for a filter.
func jobFilterSQL(filter jobs.JobFilter) (string, []bigquery.QueryParameter) {
	conds := []string{"TRUE"}
	var params []bigquery.QueryParameter

	if filter.LedgerID != "" {
		conds = append(conds, "ledger_id = @ledger_id")
		params = append(params, bigquery.QueryParameter{Name: "ledger_id", Value: filter.LedgerID})
	}
	if filter.StagingSessionID != "" {
		conds = append(conds, "session_id = @session_id")
		params = append(params, bigquery.QueryParameter{Name: "session_id", Value: filter.StagingSessionID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		conds = append(conds, "status IN UNNEST(@statuses)")
		params = append(params, bigquery.QueryParameter{Name: "statuses", Value: statuses})
	}

	tail := "WHERE " + strings.Join(conds, " AND ") + "\nORDER BY created_ts, job_id"
	if filter.Limit > 0 {
		tail += "\nLIMIT @limit OFFSET @offset"
		params = append(params,
			bigquery.QueryParameter{Name: "limit", Value: filter.Limit},
			bigquery.QueryParameter{Name: "offset", Value: filter.Offset},
		)
	}
	return tail, params
}

// ListJobs returns jobs matching filter, oldest first.
func (s *JobStore) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ImportJob, error) {
	tail, params := jobFilterSQL(filter)
	rows, err := query[ImportJobRow](ctx, s.conn, "ListJobs", fmt.Sprintf(`
		SELECT %s
		FROM %s
		%s
	`, jobColumns, s.conn.table(importJobsTable), tail), params)
	if err != nil {
		return nil, err
	}

	if filter.Limit <= 0 && filter.Offset > 0 {
		if filter.Offset >= len(rows) {
			return []*jobs.ImportJob{}, nil
		}
		rows = rows[filter.Offset:]
	}

	out := make([]*jobs.ImportJob, 0, len(rows))
	for _, row := range rows {
		job, err := fromJobRow(row)
		if err != nil {
			return nil, fmt.Errorf("ListJobs: %w", err)
		}
		out = append(out, job)
	}
	return out, nil
}

var _ jobs.JobStore = (*JobStore)(nil)
