// Package pipeline commits staging sessions into ledgers as import jobs and
// later finalizes or reverses them.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/clock"
	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/events"
	"github.com/dvloznov/cashflow-ledger/internal/jobs"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/logger"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds orchestrator parameters.
type Config struct {
	// RollbackGrace is how long after completion a job may be rolled back.
	RollbackGrace time.Duration
}

// Orchestrator drives import jobs through their lifecycle.
type Orchestrator struct {
	ledgers   LedgerService
	staging   StagingStore
	mappings  MappingResolver
	store     jobs.JobStore
	publisher events.Publisher
	clock     clock.Clock
	grace     time.Duration
	newID     func() string
	log       zerolog.Logger
	rollback  *RollbackEngine
	pipeline  *Pipeline
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sets the job event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithIDGenerator overrides uuid job ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(ledgers LedgerService, stagingStore StagingStore, mappings MappingResolver, store jobs.JobStore, clk clock.Clock, cfg Config, log zerolog.Logger, opts ...Option) *Orchestrator {
	grace := cfg.RollbackGrace
	if grace <= 0 {
		grace = DefaultRollbackGrace
	}
	o := &Orchestrator{
		ledgers:  ledgers,
		staging:  stagingStore,
		mappings: mappings,
		store:    store,
		clock:    clk,
		grace:    grace,
		newID:    func() string { return uuid.New().String() },
		log:      log,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.rollback = NewRollbackEngine(ledgers, clk)
	o.pipeline = NewImportPipeline(o)
	return o
}

func (o *Orchestrator) jobContext(ctx context.Context, job *jobs.ImportJob) context.Context {
	l := o.log.With().Str("job_id", job.ID).Str("ledger_id", job.LedgerID).Logger()
	return logger.WithContext(ctx, l)
}

func (o *Orchestrator) emit(ctx context.Context, name string, job *jobs.ImportJob) {
	events.Emit(ctx, o.publisher, logger.FromContext(ctx), name, job)
}

// StartImportJob creates a job for the session and processes it
// synchronously.
func (o *Orchestrator) StartImportJob(ctx context.Context, ledgerID, sessionID string) (*jobs.ImportJob, error) {
	job, err := o.CreateJob(ctx, ledgerID, sessionID)
	if err != nil {
		return nil, err
	}
	return o.Process(ctx, job.ID)
}

// CreateJob checks the preconditions for importing a session and stores a
// PENDING job. The ledger must be in SETUP, the session must have valid
// rows, no other active job may hold the session and every valid row's
// label must be mapped.
func (o *Orchestrator) CreateJob(ctx context.Context, ledgerID, sessionID string) (*jobs.ImportJob, error) {
	l, err := o.ledgers.Get(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	if l.Status != ledger.StatusSetup {
		return nil, domain.InvalidState("start import job", string(l.Status), "ledger "+ledgerID)
	}

	rows, err := o.staging.Rows(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("CreateJob: loading session: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.NotFound("staging session", sessionID)
	}
	if rows[0].LedgerID != ledgerID {
		return nil, domain.NotFound("staging session", sessionID)
	}

	active, err := o.store.ListJobs(ctx, jobs.JobFilter{
		StagingSessionID: sessionID,
		Statuses:         []jobs.JobStatus{jobs.JobStatusPending, jobs.JobStatusInProgress, jobs.JobStatusCompleted},
	})
	if err != nil {
		return nil, fmt.Errorf("CreateJob: listing jobs: %w", err)
	}
	if len(active) > 0 {
		return nil, domain.InvalidState("start import job", string(active[0].Status), "session already held by job "+active[0].ID)
	}

	valid := 0
	unmapped := map[string]bool{}
	for _, r := range rows {
		if r.Validation.Status != staging.StatusValid {
			continue
		}
		valid++
		_, ok, err := o.mappings.Resolve(ctx, ledgerID, r.CategoryLabel, r.Direction)
		if err != nil {
			return nil, fmt.Errorf("CreateJob: resolving %q: %w", r.CategoryLabel, err)
		}
		if !ok {
			unmapped[fmt.Sprintf("%s (%s)", r.CategoryLabel, r.Direction)] = true
		}
	}
	if valid == 0 {
		return nil, domain.Invalid(domain.ReasonEmptyBatch, "session %s has no valid rows", sessionID)
	}
	if len(unmapped) > 0 {
		labels := make([]string, 0, len(unmapped))
		for label := range unmapped {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		return nil, domain.Invalid(domain.ReasonUnmappedCategory, "configure mappings first: %s", strings.Join(labels, ", "))
	}

	now := o.clock.Now()
	job := &jobs.ImportJob{
		ID:               o.newID(),
		LedgerID:         ledgerID,
		StagingSessionID: sessionID,
		Status:           jobs.JobStatusPending,
		Progress:         jobs.Progress{Total: len(rows)},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("CreateJob: saving job: %w", err)
	}
	o.log.Info().Str("job_id", job.ID).Str("ledger_id", ledgerID).Str("session_id", sessionID).Msg("Import job created")
	return job, nil
}

// Process runs a PENDING job through the import pipeline. If any step
// fails the job is marked FAILED and the failed job is returned together
// with the error. A failure after the ledger commit reverts the job's
// entries and the categories it created, so a failed job leaves the ledger
// as it found it.
func (o *Orchestrator) Process(ctx context.Context, jobID string) (*jobs.ImportJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.JobStatusPending {
		return nil, domain.InvalidState("process import job", string(job.Status), "job "+jobID)
	}
	ctx = o.jobContext(ctx, job)
	log := logger.FromContext(ctx)

	state := &PipelineState{Job: job}
	if err := o.pipeline.Execute(ctx, state); err != nil {
		job.Error = err.Error()
		if state.Ledger != nil {
			if rerr := o.revertCommit(ctx, state); rerr != nil {
				log.Error().Err(rerr).Msg("Failed to revert ledger after import job failure")
				job.Error += "; ledger revert failed: " + rerr.Error()
			}
		}
		if terr := job.Transition(jobs.JobStatusFailed, o.clock.Now()); terr != nil {
			log.Error().Err(terr).Msg("Failed to mark import job failed")
		}
		if serr := o.store.SaveJob(ctx, job); serr != nil {
			log.Error().Err(serr).Msg("Failed to save failed import job")
		}
		log.Error().Err(err).Msg("Import job failed")
		o.emit(ctx, EventJobFailed, job)
		return job, fmt.Errorf("Process: %w", err)
	}

	o.emit(ctx, EventJobCompleted, job)
	return job, nil
}

// revertCommit undoes a committed import that could not be completed.
func (o *Orchestrator) revertCommit(ctx context.Context, state *PipelineState) error {
	job := state.Job
	_, evs, err := o.ledgers.Execute(ctx, job.LedgerID, ledger.RevertImportJob{
		ImportJobID: job.ID,
		CategoryIDs: state.created,
	})
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	for _, ev := range evs {
		if rev, ok := ev.(ledger.ImportJobReverted); ok {
			log.Warn().
				Int("entries_reverted", len(rev.EntryIDs)).
				Int("categories_reverted", len(rev.CategoryIDs)).
				Msg("Reverted committed import")
		}
	}
	job.Result.TransactionsImported = 0
	job.Result.CategoriesCreated = 0
	job.Summary = nil
	state.Ledger = nil
	return nil
}

// Abandon fails a job that never started, releasing its staging session.
// It is used when a queued job can no longer be delivered to a worker.
func (o *Orchestrator) Abandon(ctx context.Context, jobID, reason string) (*jobs.ImportJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.JobStatusPending {
		return nil, domain.InvalidState("abandon import job", string(job.Status), "job "+jobID)
	}
	ctx = o.jobContext(ctx, job)

	job.Error = reason
	if err := job.Transition(jobs.JobStatusFailed, o.clock.Now()); err != nil {
		return nil, err
	}
	if err := o.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("Abandon: saving job: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Warn().Str("reason", reason).Msg("Import job abandoned")
	o.emit(ctx, EventJobFailed, job)
	return job, nil
}

// GetProgress returns a job's current state.
func (o *Orchestrator) GetProgress(ctx context.Context, jobID string) (*jobs.ImportJob, error) {
	return o.store.GetJob(ctx, jobID)
}

// ListJobs returns a ledger's jobs, oldest first.
func (o *Orchestrator) ListJobs(ctx context.Context, ledgerID string, filter jobs.JobFilter) ([]*jobs.ImportJob, error) {
	if _, err := o.ledgers.Get(ctx, ledgerID); err != nil {
		return nil, err
	}
	filter.LedgerID = ledgerID
	return o.store.ListJobs(ctx, filter)
}

// Finalize accepts a COMPLETED job: the session's remaining staging rows
// are removed and, if asked, every category mapping of the ledger. Ledger
// entries are not touched.
func (o *Orchestrator) Finalize(ctx context.Context, jobID string, deleteMappings bool) (*jobs.ImportJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !jobs.CanTransition(job.Status, jobs.JobStatusFinalized) {
		return nil, domain.InvalidState("finalize import job", string(job.Status), "job "+jobID)
	}
	ctx = o.jobContext(ctx, job)

	rowsDeleted, err := o.staging.DeleteSession(ctx, job.StagingSessionID)
	if err != nil {
		return nil, fmt.Errorf("Finalize: %w", err)
	}
	mappingsDeleted := 0
	if deleteMappings {
		if mappingsDeleted, err = o.mappings.DeleteAll(ctx, job.LedgerID); err != nil {
			return nil, fmt.Errorf("Finalize: %w", err)
		}
	}

	now := o.clock.Now()
	job.Finalization = &jobs.Finalization{
		StagingRowsDeleted: rowsDeleted,
		MappingsDeleted:    mappingsDeleted,
		FinalizedAt:        now,
	}
	if err := job.Transition(jobs.JobStatusFinalized, now); err != nil {
		return nil, err
	}
	if err := o.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("Finalize: saving job: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int("staging_rows_deleted", rowsDeleted).
		Int("mappings_deleted", mappingsDeleted).
		Msg("Import job finalized")
	o.emit(ctx, EventJobFinalized, job)
	return job, nil
}

// Rollback reverses a COMPLETED job before its deadline while the ledger
// is still in SETUP.
func (o *Orchestrator) Rollback(ctx context.Context, jobID string, deleteCategories bool) (*jobs.ImportJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !jobs.CanTransition(job.Status, jobs.JobStatusRolledBack) {
		return nil, domain.InvalidState("rollback import job", string(job.Status), "job "+jobID)
	}
	now := o.clock.Now()
	if !now.Before(job.Rollback.Deadline) {
		return nil, domain.InvalidState("rollback import job", string(job.Status),
			fmt.Sprintf("rollback deadline %s has passed", job.Rollback.Deadline.Format(time.RFC3339)))
	}
	ctx = o.jobContext(ctx, job)
	log := logger.FromContext(ctx)

	summary, err := o.rollback.Rollback(ctx, job.LedgerID, deleteCategories)
	if err != nil {
		return nil, err
	}

	at := o.clock.Now()
	job.Rollback.RolledBack = true
	job.Rollback.RolledBackAt = &at
	job.Rollback.Summary = summary
	if err := job.Transition(jobs.JobStatusRolledBack, at); err != nil {
		return nil, err
	}
	if err := o.store.SaveJob(ctx, job); err != nil {
		log.Error().Err(err).Msg("Ledger rolled back but job state was not saved")
		return nil, fmt.Errorf("Rollback: saving job: %w", err)
	}

	log.Info().
		Int("transactions_deleted", summary.TransactionsDeleted).
		Int("categories_deleted", summary.CategoriesDeleted).
		Msg("Import job rolled back")
	o.emit(ctx, EventJobRolledBack, job)
	return job, nil
}
