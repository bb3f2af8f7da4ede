package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/dvloznov/cashflow-ledger/internal/jobs"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/logger"
	"github.com/dvloznov/cashflow-ledger/internal/mapping"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/shopspring/decimal"
)

// PipelineStep represents a single step in import processing.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Job       *jobs.ImportJob
	Rows      []*staging.StagedTransaction
	Planned   []PlannedRow
	Ledger    *ledger.Ledger
	StartedAt time.Time

	processed int
	breakdown map[string]*jobs.CategoryBreakdown
	created   []string
}

// PlannedRow is a VALID row paired with the mapping that will place it.
type PlannedRow struct {
	Row     *staging.StagedTransaction
	Mapping *mapping.Mapping
}

func rowError(row *staging.StagedTransaction, err error) jobs.RowError {
	reason := domain.ReasonOf(err)
	if reason == "" {
		reason = "error"
	}
	return jobs.RowError{
		RowNumber:           row.RowNumber,
		SourceTransactionID: row.SourceTransactionID,
		Reason:              reason,
		Message:             err.Error(),
	}
}

// BeginStep loads the session rows and moves the job to IN_PROGRESS.
type BeginStep struct{ o *Orchestrator }

func (s *BeginStep) Execute(ctx context.Context, state *PipelineState) error {
	rows, err := s.o.staging.Rows(ctx, state.Job.StagingSessionID)
	if err != nil {
		return fmt.Errorf("loading staged rows: %w", err)
	}
	state.Rows = rows
	state.StartedAt = s.o.clock.Now()
	state.Job.Progress = jobs.Progress{Total: len(rows)}

	if err := state.Job.Transition(jobs.JobStatusInProgress, state.StartedAt); err != nil {
		return err
	}
	if err := s.o.store.SaveJob(ctx, state.Job); err != nil {
		return fmt.Errorf("saving job: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Int("rows", len(rows)).Msg("Import job started")
	return nil
}

// PlanStep resolves the mapping of every VALID row. Unmapped rows become
// row errors; SKIP rows are counted but not committed.
type PlanStep struct{ o *Orchestrator }

func (s *PlanStep) Execute(ctx context.Context, state *PipelineState) error {
	job := state.Job
	for _, row := range state.Rows {
		if row.Validation.Status != staging.StatusValid {
			state.processed++
			continue
		}
		m, ok, err := s.o.mappings.Resolve(ctx, job.LedgerID, row.CategoryLabel, row.Direction)
		if err != nil {
			return fmt.Errorf("resolving %q: %w", row.CategoryLabel, err)
		}
		switch {
		case !ok:
			err := domain.Invalid(domain.ReasonUnmappedCategory, "no mapping for %q (%s)", row.CategoryLabel, row.Direction)
			job.Result.Errors = append(job.Result.Errors, rowError(row, err))
			state.processed++
		case m.Action == mapping.ActionSkip:
			job.Result.Skipped++
			state.processed++
		default:
			state.Planned = append(state.Planned, PlannedRow{Row: row, Mapping: m})
		}
	}
	job.Progress.Update(state.processed)
	if err := s.o.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("saving job: %w", err)
	}
	return nil
}

// CommitStep writes every planned row into the ledger in a single unit of
// work, creating mapped categories on first use. Row-level validation
// failures are recorded and undo the row's category creations; anything
// else aborts the whole commit.
type CommitStep struct{ o *Orchestrator }

func (s *CommitStep) Execute(ctx context.Context, state *PipelineState) error {
	job := state.Job

	var (
		imported  int
		created   map[string]bool
		rowErrors []jobs.RowError
		breakdown map[string]*jobs.CategoryBreakdown
	)
	l, err := s.o.ledgers.Update(ctx, job.LedgerID, func(uow *ledger.UnitOfWork) error {
		imported, rowErrors = 0, nil
		created = make(map[string]bool)
		breakdown = make(map[string]*jobs.CategoryBreakdown)

		for _, p := range state.Planned {
			sp := uow.Savepoint()
			rowCreated := make(map[string]bool)
			categoryID, err := placeRow(uow, p, rowCreated)
			if err == nil {
				_, err = uow.Execute(ledger.ImportHistoricalEntry{
					CategoryID:          categoryID,
					Name:                p.Row.Name,
					Description:         p.Row.Description,
					Money:               p.Row.Money,
					Direction:           p.Row.Direction,
					PaidDate:            p.Row.PaidAt,
					ImportJobID:         job.ID,
					SourceTransactionID: p.Row.SourceTransactionID,
				})
			}
			if err != nil {
				if !errors.Is(err, domain.ErrValidation) {
					return err
				}
				uow.RollbackTo(sp)
				rowErrors = append(rowErrors, rowError(p.Row, err))
				continue
			}

			for id := range rowCreated {
				created[id] = true
			}
			imported++
			b, ok := breakdown[categoryID]
			if !ok {
				b = &jobs.CategoryBreakdown{CategoryID: categoryID, Direction: p.Row.Direction}
				breakdown[categoryID] = b
			}
			b.Count++
			b.Total = b.Total.Add(p.Row.Money.Amount)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("committing to ledger %s: %w", job.LedgerID, err)
	}

	job.Result.Errors = append(job.Result.Errors, rowErrors...)
	job.Result.TransactionsImported = imported
	job.Result.CategoriesCreated = len(created)
	state.Ledger = l
	state.breakdown = breakdown
	state.created = make([]string, 0, len(created))
	for id := range created {
		state.created = append(state.created, id)
	}
	sort.Strings(state.created)
	state.processed += len(state.Planned)
	job.Progress.Update(state.processed)
	return nil
}

// placeRow returns the category a planned row is committed under,
// creating it (and a missing parent) for CREATE_SUBCATEGORY mappings.
func placeRow(uow *ledger.UnitOfWork, p PlannedRow, created map[string]bool) (string, error) {
	m, dir := p.Mapping, p.Row.Direction
	tree := uow.State().Tree(dir)

	switch m.Action {
	case mapping.ActionUseExisting:
		if m.ParentCategory == "" && strings.EqualFold(m.TargetCategory, ledger.UncategorizedName) {
			return tree.Uncategorized().ID, nil
		}
		c, ok := tree.Lookup(m.TargetCategory, m.ParentCategory)
		if !ok {
			return "", domain.Invalid(domain.ReasonCategoryNotFound, "category %q does not exist in %s tree", m.TargetCategory, dir)
		}
		return c.ID, nil

	case mapping.ActionCreateSubcategory:
		parentID := ""
		if m.ParentCategory != "" {
			if parent, ok := tree.FindByName(m.ParentCategory); ok {
				parentID = parent.ID
			} else {
				id, err := createCategory(uow, dir, m.ParentCategory, "", created)
				if err != nil {
					return "", err
				}
				parentID = id
			}
		}
		if c, ok := uow.State().Tree(dir).Child(parentID, m.TargetCategory); ok {
			return c.ID, nil
		}
		return createCategory(uow, dir, m.TargetCategory, parentID, created)
	}
	return "", domain.Invalid(domain.ReasonInvalidMapping, "action %s cannot place a row", m.Action)
}

func createCategory(uow *ledger.UnitOfWork, dir domain.FlowDirection, name, parentID string, created map[string]bool) (string, error) {
	evs, err := uow.Execute(ledger.CreateCategory{Direction: dir, Name: name, ParentID: parentID})
	if err != nil {
		return "", err
	}
	for _, ev := range evs {
		if cc, ok := ev.(ledger.CategoryCreated); ok {
			created[cc.CategoryID] = true
			return cc.CategoryID, nil
		}
	}
	return "", fmt.Errorf("category %q was not created", name)
}

// CompleteStep builds the summary, sets the rollback deadline and marks the
// job COMPLETED. The job in state only changes once the store has accepted
// the completed copy.
type CompleteStep struct{ o *Orchestrator }

func (s *CompleteStep) Execute(ctx context.Context, state *PipelineState) error {
	job := state.Job.Clone()
	now := s.o.clock.Now()

	summary := &jobs.Summary{
		Duration:     now.Sub(state.StartedAt),
		TotalInflow:  decimal.Zero,
		TotalOutflow: decimal.Zero,
	}
	for _, b := range state.breakdown {
		if state.Ledger != nil {
			b.Path = state.Ledger.Tree(b.Direction).Path(b.CategoryID)
		}
		if b.Direction == domain.Inflow {
			summary.TotalInflow = summary.TotalInflow.Add(b.Total)
		} else {
			summary.TotalOutflow = summary.TotalOutflow.Add(b.Total)
		}
		summary.Categories = append(summary.Categories, *b)
	}
	sort.Slice(summary.Categories, func(i, j int) bool {
		a, b := summary.Categories[i], summary.Categories[j]
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.Path < b.Path
	})

	job.Summary = summary
	job.Rollback.Deadline = now.Add(s.o.grace)
	if err := job.Transition(jobs.JobStatusCompleted, now); err != nil {
		return err
	}
	if err := s.o.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("saving job: %w", err)
	}
	*state.Job = *job

	log := logger.FromContext(ctx)
	log.Info().
		Int("imported", job.Result.TransactionsImported).
		Int("categories_created", job.Result.CategoriesCreated).
		Int("errors", job.Result.ErrorCount()).
		Time("rollback_deadline", job.Rollback.Deadline).
		Msg("Import job completed")
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewImportPipeline creates the standard 4-step import pipeline.
func NewImportPipeline(o *Orchestrator) *Pipeline {
	return NewPipeline(
		&BeginStep{o: o},
		&PlanStep{o: o},
		&CommitStep{o: o},
		&CompleteStep{o: o},
	)
}
