package handlers

import (
	"net/http"

	"github.com/dvloznov/cashflow-ledger/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RouterConfig holds the HTTP layer settings.
type RouterConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handlers groups every resource handler mounted by NewRouter.
type Handlers struct {
	Ledgers  *LedgersHandler
	Staging  *StagingHandler
	Mappings *MappingsHandler
	Imports  *ImportsHandler
}

// NewRouter wires the middleware chain and every route.
func NewRouter(h Handlers, cfg RouterConfig, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	if cfg.RateLimitRPS > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}

	r.Get("/health", Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/ledgers", h.Ledgers.CreateLedger)

		r.Route("/ledgers/{ledgerID}", func(r chi.Router) {
			r.Get("/", h.Ledgers.GetLedger)
			r.Get("/events", h.Ledgers.ListEvents)
			r.Post("/categories", h.Ledgers.CreateCategory)
			r.Post("/historical-entries", h.Ledgers.ImportHistoricalEntry)
			r.Post("/attestation", h.Ledgers.Attest)
			r.Post("/activation", h.Ledgers.Activate)
			r.Post("/rollover", h.Ledgers.Rollover)
			r.Post("/rollback", h.Ledgers.Rollback)
			r.Post("/entries", h.Ledgers.AddEntry)

			r.Post("/staging", h.Staging.StageRows)
			r.Post("/staging/upload", h.Staging.UploadStatement)
			r.Get("/staging", h.Staging.ListSessions)

			r.Put("/category-mappings", h.Mappings.Configure)
			r.Get("/category-mappings", h.Mappings.List)
			r.Delete("/category-mappings", h.Mappings.DeleteAll)
			r.Post("/category-mappings/suggestions", h.Mappings.Suggest)

			r.Post("/import-jobs", h.Imports.StartJob)
			r.Get("/import-jobs", h.Imports.ListJobs)
		})

		r.Get("/staging/{sessionID}", h.Staging.GetSession)
		r.Delete("/staging/{sessionID}", h.Staging.DeleteSession)
		r.Post("/staging/{sessionID}/revalidate", h.Staging.Revalidate)

		r.Delete("/category-mappings/{mappingID}", h.Mappings.DeleteOne)

		r.Get("/import-jobs/{jobID}", h.Imports.GetJob)
		r.Post("/import-jobs/{jobID}/finalize", h.Imports.Finalize)
		r.Post("/import-jobs/{jobID}/rollback", h.Imports.Rollback)
	})

	return r
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
