package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/dvloznov/cashflow-ledger/internal/api/middleware"
	"github.com/dvloznov/cashflow-ledger/internal/jobs"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ImportService is the part of pipeline.Orchestrator the API drives.
type ImportService interface {
	CreateJob(ctx context.Context, ledgerID, sessionID string) (*jobs.ImportJob, error)
	Process(ctx context.Context, jobID string) (*jobs.ImportJob, error)
	GetProgress(ctx context.Context, jobID string) (*jobs.ImportJob, error)
	ListJobs(ctx context.Context, ledgerID string, filter jobs.JobFilter) ([]*jobs.ImportJob, error)
	Finalize(ctx context.Context, jobID string, deleteMappings bool) (*jobs.ImportJob, error)
	Rollback(ctx context.Context, jobID string, deleteCategories bool) (*jobs.ImportJob, error)
	Abandon(ctx context.Context, jobID, reason string) (*jobs.ImportJob, error)
}

// ImportsHandler handles import job endpoints.
type ImportsHandler struct {
	imports   ImportService
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewImportsHandler creates a new imports handler. publisher may be nil, in
// which case every job runs inside the request.
func NewImportsHandler(imports ImportService, publisher jobs.Publisher, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{imports: imports, publisher: publisher, log: log}
}

// StartJob handles POST /api/ledgers/{ledgerID}/import-jobs
// With ?async=true the job is queued and 202 is returned right away.
func (h *ImportsHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ledgerID := chi.URLParam(r, "ledgerID")

	var req struct {
		SessionID string `json:"session_id"`
	}
	if !readBody(w, r, &req, false) {
		return
	}
	if req.SessionID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	job, err := h.imports.CreateJob(ctx, ledgerID, req.SessionID)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}

	if boolQuery(r, "async") && h.publisher != nil {
		if err := h.publisher.PublishImport(ctx, job.ID); err != nil {
			h.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue import job")
			if _, aerr := h.imports.Abandon(ctx, job.ID, "enqueue failed: "+err.Error()); aerr != nil {
				h.log.Error().Err(aerr).Str("job_id", job.ID).Msg("Failed to abandon unqueued import job")
			}
			middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue import job")
			return
		}
		middleware.WriteJSON(w, http.StatusAccepted, job)
		return
	}

	processed, err := h.imports.Process(ctx, job.ID)
	if err != nil {
		// A failed run is recorded on the job.
		if processed != nil && processed.Status == jobs.JobStatusFailed {
			middleware.WriteJSON(w, http.StatusOK, processed)
			return
		}
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, processed)
}

// ListJobs handles GET /api/ledgers/{ledgerID}/import-jobs
// Query: status (comma separated), limit, offset.
func (h *ImportsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobs.JobFilter{}

	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, err := jobs.ParseStatus(strings.ToUpper(strings.TrimSpace(s)))
			if err != nil {
				middleware.WriteDomainError(w, r, err)
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	limit, ok := intQuery(r, "limit")
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, ok := intQuery(r, "offset")
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
		return
	}
	filter.Limit = limit
	filter.Offset = offset

	list, err := h.imports.ListJobs(r.Context(), chi.URLParam(r, "ledgerID"), filter)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJob handles GET /api/import-jobs/{jobID}
func (h *ImportsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.imports.GetProgress(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// Finalize handles POST /api/import-jobs/{jobID}/finalize
func (h *ImportsHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeleteMappings bool `json:"delete_mappings"`
	}
	if !readBody(w, r, &req, true) {
		return
	}

	job, err := h.imports.Finalize(r.Context(), chi.URLParam(r, "jobID"), req.DeleteMappings)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// Rollback handles POST /api/import-jobs/{jobID}/rollback
func (h *ImportsHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeleteCategories bool `json:"delete_categories"`
	}
	if !readBody(w, r, &req, true) {
		return
	}

	job, err := h.imports.Rollback(r.Context(), chi.URLParam(r, "jobID"), req.DeleteCategories)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}
