package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/dvloznov/cashflow-ledger/internal/api/middleware"
	"github.com/dvloznov/cashflow-ledger/internal/parser"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// DefaultMaxUploadBytes caps statement uploads.
const DefaultMaxUploadBytes = 10 << 20

// StagingService is the part of staging.Store the API drives.
type StagingService interface {
	Stage(ctx context.Context, ledgerID string, rows []staging.ParsedRow, opts staging.StageOptions) (*staging.StageResult, error)
	GetSession(ctx context.Context, sessionID string) (*staging.Session, error)
	Rows(ctx context.Context, sessionID string) ([]*staging.StagedTransaction, error)
	ListSessions(ctx context.Context, ledgerID string) ([]staging.Session, error)
	DeleteSession(ctx context.Context, sessionID string) (int, error)
	Revalidate(ctx context.Context, sessionID string) (*staging.Session, error)
}

// StatementArchiver keeps a copy of every uploaded statement.
type StatementArchiver interface {
	Archive(ctx context.Context, ledgerID, filename string, data []byte) (string, error)
}

// StagingHandler handles staging session endpoints.
type StagingHandler struct {
	store           StagingService
	archiver        StatementArchiver
	defaultCurrency string
	maxUploadBytes  int64
	log             zerolog.Logger
}

// NewStagingHandler creates a new staging handler. archiver may be nil, in
// which case uploads are parsed but not kept.
func NewStagingHandler(store StagingService, archiver StatementArchiver, defaultCurrency string, log zerolog.Logger) *StagingHandler {
	return &StagingHandler{
		store:           store,
		archiver:        archiver,
		defaultCurrency: defaultCurrency,
		maxUploadBytes:  DefaultMaxUploadBytes,
		log:             log,
	}
}

// StageRows handles POST /api/ledgers/{ledgerID}/staging
func (h *StagingHandler) StageRows(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rows       []staging.ParsedRow `json:"rows"`
		SourceFile string              `json:"source_file"`
	}
	if !readBody(w, r, &req, false) {
		return
	}

	result, err := h.store.Stage(r.Context(), chi.URLParam(r, "ledgerID"), req.Rows, staging.StageOptions{SourceFile: req.SourceFile})
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, result)
}

// UploadStatement handles POST /api/ledgers/{ledgerID}/staging/upload
// The multipart field "file" holds a CSV or OFX statement.
func (h *StagingHandler) UploadStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ledgerID := chi.URLParam(r, "ledgerID")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Multipart field \"file\" is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	p, err := parser.ForFilename(filename, h.defaultCurrency)
	if err != nil {
		middleware.WriteError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	parsed, err := p.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if len(parsed.Rows) == 0 {
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":        "No transactions found in file",
			"parse_errors": parsed.Errors,
			"total_rows":   parsed.TotalRows,
		})
		return
	}

	source := filename
	if h.archiver != nil {
		uri, err := h.archiver.Archive(ctx, ledgerID, filename, data)
		if err != nil {
			h.log.Error().Err(err).Str("ledger_id", ledgerID).Msg("Failed to archive statement")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to archive statement")
			return
		}
		source = uri
	}

	result, err := h.store.Stage(ctx, ledgerID, parsed.Rows, staging.StageOptions{SourceFile: source})
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}

	h.log.Info().
		Str("ledger_id", ledgerID).
		Str("format", p.Name()).
		Str("session_id", result.Session.ID).
		Int("rows", len(parsed.Rows)).
		Int("parse_errors", len(parsed.Errors)).
		Msg("Statement staged")

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"session":      result.Session,
		"rows":         result.Rows,
		"parse_errors": parsed.Errors,
		"source_file":  source,
	})
}

// ListSessions handles GET /api/ledgers/{ledgerID}/staging
func (h *StagingHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context(), chi.URLParam(r, "ledgerID"))
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession handles GET /api/staging/{sessionID}
func (h *StagingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	rows, err := h.store.Rows(ctx, sessionID)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, staging.StageResult{Session: *session, Rows: rows})
}

// DeleteSession handles DELETE /api/staging/{sessionID}
func (h *StagingHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.DeleteSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"rows_deleted": n})
}

// Revalidate handles POST /api/staging/{sessionID}/revalidate
func (h *StagingHandler) Revalidate(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.Revalidate(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, session)
}
