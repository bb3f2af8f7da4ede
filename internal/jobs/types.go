// Package jobs models import jobs: the unit of work that commits one staging
// session into a ledger, and its lifecycle state machine.
package jobs

import (
	"context"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// JobStatus represents the current status of an import job.
type JobStatus string

const (
	// JobStatusPending indicates the job was created but not yet processed.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusInProgress indicates rows are being committed.
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	// JobStatusCompleted indicates rows were committed and the job can be
	// finalized or rolled back.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed indicates the job was abandoned without touching the ledger.
	JobStatusFailed JobStatus = "FAILED"
	// JobStatusFinalized indicates the import was accepted.
	JobStatusFinalized JobStatus = "FINALIZED"
	// JobStatusRolledBack indicates the import was reversed.
	JobStatusRolledBack JobStatus = "ROLLED_BACK"
)

var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusInProgress, JobStatusFailed},
	JobStatusInProgress: {JobStatusCompleted, JobStatusFailed},
	JobStatusCompleted:  {JobStatusFinalized, JobStatusRolledBack},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Active reports whether a job in this status still holds its staging
// session. A session may have at most one active job.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusInProgress || s == JobStatusCompleted
}

// ParseStatus validates a status name.
func ParseStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted,
		JobStatusFailed, JobStatusFinalized, JobStatusRolledBack:
		return st, nil
	}
	return "", domain.Invalid(domain.ReasonInvalidStatus, "unknown job status %q", s)
}

// Progress counts rows processed so far.
type Progress struct {
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Update sets Processed and recomputes Percentage.
func (p *Progress) Update(processed int) {
	p.Processed = processed
	if p.Total == 0 {
		p.Percentage = 100
		return
	}
	p.Percentage = float64(processed) * 100 / float64(p.Total)
}

// RowError is a per-row failure that did not abort the job.
type RowError struct {
	RowNumber           int    `json:"row_number"`
	SourceTransactionID string `json:"source_transaction_id,omitempty"`
	Reason              string `json:"reason"`
	Message             string `json:"message"`
}

// Result holds the counts produced by processing.
type Result struct {
	TransactionsImported int        `json:"transactions_imported"`
	CategoriesCreated    int        `json:"categories_created"`
	Skipped              int        `json:"skipped"`
	Errors               []RowError `json:"errors,omitempty"`
}

// ErrorCount returns the number of failed rows.
func (r Result) ErrorCount() int {
	return len(r.Errors)
}

// CategoryBreakdown is the per-category share of an import.
type CategoryBreakdown struct {
	CategoryID string               `json:"category_id"`
	Path       string               `json:"path"`
	Direction  domain.FlowDirection `json:"direction"`
	Count      int                  `json:"count"`
	Total      decimal.Decimal      `json:"total"`
}

// Summary is populated when a job completes.
type Summary struct {
	Duration     time.Duration       `json:"duration"`
	TotalInflow  decimal.Decimal     `json:"total_inflow"`
	TotalOutflow decimal.Decimal     `json:"total_outflow"`
	Categories   []CategoryBreakdown `json:"categories"`
}

// RollbackSummary is the before/after diff recorded by a job rollback.
type RollbackSummary struct {
	TransactionsDeleted int           `json:"transactions_deleted"`
	CategoriesDeleted   int           `json:"categories_deleted"`
	Duration            time.Duration `json:"duration"`
}

// RollbackData tracks whether and until when a job can be reversed.
type RollbackData struct {
	Deadline     time.Time        `json:"rollback_deadline"`
	RolledBack   bool             `json:"rolled_back"`
	RolledBackAt *time.Time       `json:"rolled_back_at,omitempty"`
	Summary      *RollbackSummary `json:"summary,omitempty"`
}

// Finalization records the cleanup done by finalize.
type Finalization struct {
	StagingRowsDeleted int       `json:"staging_rows_deleted"`
	MappingsDeleted    int       `json:"mappings_deleted"`
	FinalizedAt        time.Time `json:"finalized_at"`
}

// ImportJob is one attempt to commit a staging session.
type ImportJob struct {
	ID               string        `json:"job_id"`
	LedgerID         string        `json:"ledger_id"`
	StagingSessionID string        `json:"staging_session_id"`
	Status           JobStatus     `json:"status"`
	Progress         Progress      `json:"progress"`
	Result           Result        `json:"result"`
	Summary          *Summary      `json:"summary,omitempty"`
	Rollback         RollbackData  `json:"rollback"`
	Finalization     *Finalization `json:"finalization,omitempty"`
	Error            string        `json:"error,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Transition moves the job to status, stamping the relevant timestamps.
// Illegal steps return an InvalidState error and leave the job untouched.
func (j *ImportJob) Transition(to JobStatus, at time.Time) error {
	if !CanTransition(j.Status, to) {
		return domain.InvalidState("transition to "+string(to), string(j.Status), "job "+j.ID)
	}
	j.Status = to
	j.UpdatedAt = at
	switch to {
	case JobStatusInProgress:
		j.StartedAt = &at
	case JobStatusCompleted, JobStatusFailed:
		j.CompletedAt = &at
	}
	return nil
}

// Clone returns a deep copy.
func (j *ImportJob) Clone() *ImportJob {
	c := *j
	c.Result.Errors = append([]RowError(nil), j.Result.Errors...)
	if j.Summary != nil {
		s := *j.Summary
		s.Categories = append([]CategoryBreakdown(nil), j.Summary.Categories...)
		c.Summary = &s
	}
	if j.Rollback.RolledBackAt != nil {
		t := *j.Rollback.RolledBackAt
		c.Rollback.RolledBackAt = &t
	}
	if j.Rollback.Summary != nil {
		s := *j.Rollback.Summary
		c.Rollback.Summary = &s
	}
	if j.Finalization != nil {
		f := *j.Finalization
		c.Finalization = &f
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Publisher defines the interface for enqueueing job processing.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Publisher interface {
	// PublishImport enqueues processing of a PENDING job.
	PublishImport(ctx context.Context, jobID string) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes one job. Failures are recorded on the job itself,
// so the queue never retries.
type JobHandler func(ctx context.Context, jobID string) error

// JobStore defines the interface for storing and retrieving import jobs.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ImportJob) error

	// GetJob retrieves a job by ID. A missing job is a NotFound error.
	GetJob(ctx context.Context, jobID string) (*ImportJob, error)

	// ListJobs retrieves jobs matching filter, oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ImportJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// LedgerID filters jobs by ledger.
	LedgerID string

	// StagingSessionID filters jobs by staging session.
	StagingSessionID string

	// Statuses keeps jobs in any of the given statuses.
	Statuses []JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Matches reports whether job passes every filter criterion.
func (f JobFilter) Matches(job *ImportJob) bool {
	if f.LedgerID != "" && job.LedgerID != f.LedgerID {
		return false
	}
	if f.StagingSessionID != "" && job.StagingSessionID != f.StagingSessionID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if job.Status == s {
			return true
		}
	}
	return false
}
