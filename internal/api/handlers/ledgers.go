package handlers

import (
	"context"
	"net/http"

	"github.com/dvloznov/cashflow-ledger/internal/api/middleware"
	"github.com/dvloznov/cashflow-ledger/internal/jobs"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// LedgerService is the part of ledger.Service the API drives.
type LedgerService interface {
	Create(ctx context.Context, cmd ledger.CreateLedger) (*ledger.Ledger, error)
	Get(ctx context.Context, ledgerID string) (*ledger.Ledger, error)
	Events(ctx context.Context, ledgerID string) ([]ledger.Record, error)
	Execute(ctx context.Context, ledgerID string, cmd ledger.Command) (*ledger.Ledger, []ledger.Event, error)
}

// LedgerRollback reverses every import of a ledger still in SETUP.
type LedgerRollback interface {
	Rollback(ctx context.Context, ledgerID string, deleteCategories bool) (*jobs.RollbackSummary, error)
}

// LedgersHandler handles ledger lifecycle endpoints.
type LedgersHandler struct {
	ledgers  LedgerService
	rollback LedgerRollback
	log      zerolog.Logger
}

// NewLedgersHandler creates a new ledgers handler.
func NewLedgersHandler(ledgers LedgerService, rollback LedgerRollback, log zerolog.Logger) *LedgersHandler {
	return &LedgersHandler{ledgers: ledgers, rollback: rollback, log: log}
}

// CreateLedger handles POST /api/ledgers
func (h *LedgersHandler) CreateLedger(w http.ResponseWriter, r *http.Request) {
	var cmd ledger.CreateLedger
	if !readBody(w, r, &cmd, false) {
		return
	}

	l, err := h.ledgers.Create(r.Context(), cmd)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, l)
}

// GetLedger handles GET /api/ledgers/{ledgerID}
func (h *LedgersHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	l, err := h.ledgers.Get(r.Context(), chi.URLParam(r, "ledgerID"))
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, l)
}

// ListEvents handles GET /api/ledgers/{ledgerID}/events
func (h *LedgersHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	records, err := h.ledgers.Events(r.Context(), chi.URLParam(r, "ledgerID"))
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": records,
		"count":  len(records),
	})
}

// CreateCategory handles POST /api/ledgers/{ledgerID}/categories
func (h *LedgersHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var cmd ledger.CreateCategory
	if !readBody(w, r, &cmd, false) {
		return
	}
	h.execute(w, r, cmd, http.StatusCreated)
}

// ImportHistoricalEntry handles POST /api/ledgers/{ledgerID}/historical-entries
func (h *LedgersHandler) ImportHistoricalEntry(w http.ResponseWriter, r *http.Request) {
	var cmd ledger.ImportHistoricalEntry
	if !readBody(w, r, &cmd, false) {
		return
	}
	h.execute(w, r, cmd, http.StatusCreated)
}

// Attest handles POST /api/ledgers/{ledgerID}/attestation
func (h *LedgersHandler) Attest(w http.ResponseWriter, r *http.Request) {
	var cmd ledger.AttestHistoricalImport
	if !readBody(w, r, &cmd, false) {
		return
	}
	h.execute(w, r, cmd, http.StatusOK)
}

// Activate handles POST /api/ledgers/{ledgerID}/activation
func (h *LedgersHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var cmd ledger.ActivateLedger
	if !readBody(w, r, &cmd, false) {
		return
	}
	h.execute(w, r, cmd, http.StatusOK)
}

// Rollover handles POST /api/ledgers/{ledgerID}/rollover
func (h *LedgersHandler) Rollover(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, ledger.RolloverMonth{}, http.StatusOK)
}

// AddEntry handles POST /api/ledgers/{ledgerID}/entries
func (h *LedgersHandler) AddEntry(w http.ResponseWriter, r *http.Request) {
	var cmd ledger.AddEntry
	if !readBody(w, r, &cmd, false) {
		return
	}
	h.execute(w, r, cmd, http.StatusCreated)
}

// Rollback handles POST /api/ledgers/{ledgerID}/rollback
func (h *LedgersHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeleteCategories bool `json:"delete_categories"`
	}
	if !readBody(w, r, &req, true) {
		return
	}

	ledgerID := chi.URLParam(r, "ledgerID")
	summary, err := h.rollback.Rollback(r.Context(), ledgerID, req.DeleteCategories)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	h.log.Info().
		Str("ledger_id", ledgerID).
		Int("transactions_deleted", summary.TransactionsDeleted).
		Int("categories_deleted", summary.CategoriesDeleted).
		Msg("Ledger import rolled back")
	middleware.WriteJSON(w, http.StatusOK, summary)
}

func (h *LedgersHandler) execute(w http.ResponseWriter, r *http.Request, cmd ledger.Command, status int) {
	l, evs, err := h.ledgers.Execute(r.Context(), chi.URLParam(r, "ledgerID"), cmd)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}

	names := make([]ledger.EventType, 0, len(evs))
	for _, ev := range evs {
		names = append(names, ev.EventType())
	}
	middleware.WriteJSON(w, status, map[string]interface{}{
		"ledger": l,
		"events": names,
	})
}
