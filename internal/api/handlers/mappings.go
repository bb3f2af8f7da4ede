package handlers

import (
	"context"
	"mime"
	"net/http"

	"github.com/dvloznov/cashflow-ledger/internal/api/middleware"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/mapping"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MappingService is the part of mapping.Resolver the API drives.
type MappingService interface {
	Configure(ctx context.Context, ledgerID string, configs []mapping.Config) (*mapping.ConfigureResult, error)
	List(ctx context.Context, ledgerID string) ([]*mapping.Mapping, error)
	DeleteOne(ctx context.Context, mappingID string) error
	DeleteAll(ctx context.Context, ledgerID string) (int, error)
}

// LedgerGetter checks that a ledger exists.
type LedgerGetter interface {
	Get(ctx context.Context, ledgerID string) (*ledger.Ledger, error)
}

// Suggester proposes mappings for a session's unmapped labels.
type Suggester interface {
	Suggest(ctx context.Context, ledgerID, sessionID string) ([]mapping.Config, error)
}

// MappingsHandler handles category mapping endpoints.
type MappingsHandler struct {
	mappings  MappingService
	ledgers   LedgerGetter
	suggester Suggester
	log       zerolog.Logger
}

// NewMappingsHandler creates a new mappings handler. suggester may be nil.
func NewMappingsHandler(mappings MappingService, ledgers LedgerGetter, suggester Suggester, log zerolog.Logger) *MappingsHandler {
	return &MappingsHandler{mappings: mappings, ledgers: ledgers, suggester: suggester, log: log}
}

// Configure handles PUT /api/ledgers/{ledgerID}/category-mappings
// The body is JSON {"mappings": [...]} or, with a YAML content type, the
// same document in YAML.
func (h *MappingsHandler) Configure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ledgerID := chi.URLParam(r, "ledgerID")

	var configs []mapping.Config
	if isYAML(r) {
		loaded, err := mapping.LoadConfigs(r.Body)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		configs = loaded
	} else {
		var req struct {
			Mappings []mapping.Config `json:"mappings"`
		}
		if !readBody(w, r, &req, false) {
			return
		}
		configs = req.Mappings
	}

	if _, err := h.ledgers.Get(ctx, ledgerID); err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	result, err := h.mappings.Configure(ctx, ledgerID, configs)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// List handles GET /api/ledgers/{ledgerID}/category-mappings
func (h *MappingsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ledgerID := chi.URLParam(r, "ledgerID")

	if _, err := h.ledgers.Get(ctx, ledgerID); err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	ms, err := h.mappings.List(ctx, ledgerID)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"mappings": ms,
		"count":    len(ms),
	})
}

// DeleteAll handles DELETE /api/ledgers/{ledgerID}/category-mappings
func (h *MappingsHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.mappings.DeleteAll(r.Context(), chi.URLParam(r, "ledgerID"))
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"mappings_deleted": n})
}

// DeleteOne handles DELETE /api/category-mappings/{mappingID}
func (h *MappingsHandler) DeleteOne(w http.ResponseWriter, r *http.Request) {
	if err := h.mappings.DeleteOne(r.Context(), chi.URLParam(r, "mappingID")); err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Suggest handles POST /api/ledgers/{ledgerID}/category-mappings/suggestions
// Suggestions are returned for review and never stored.
func (h *MappingsHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	if h.suggester == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Mapping suggestions are not configured")
		return
	}

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

	configs, err := h.suggester.Suggest(r.Context(), chi.URLParam(r, "ledgerID"), req.SessionID)
	if err != nil {
		middleware.WriteDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"mappings": configs,
		"count":    len(configs),
	})
}

func isYAML(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	switch ct {
	case "application/yaml", "application/x-yaml", "text/yaml":
		return true
	}
	return false
}
