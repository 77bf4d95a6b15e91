package console

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the console router.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(h.Metrics))
	r.Use(RecoveryMiddleware)
	r.Use(NoticesMiddleware)

	r.Get("/health", h.Health)
	if h.Metrics != nil {
		r.Method("GET", "/metrics", h.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.AuthToken))

		r.Get("/events", h.Events)

		r.Route("/console", func(r chi.Router) {
			r.Post("/route", h.RouteChanged)

			r.Route("/templates", func(r chi.Router) {
				r.Get("/", h.ListTemplates)
				r.Post("/", h.CreateTemplate)
				r.Get("/{id}", h.GetTemplate)
				r.Put("/{id}", h.UpdateTemplate)
				r.Delete("/{id}", h.DeleteTemplate)
				r.Post("/{id}/toggle", h.ToggleTemplate)
			})

			r.Route("/proposals", func(r chi.Router) {
				r.Get("/", h.ListProposals)
				r.Post("/", h.CreateProposal)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetProposal)
					r.Put("/", h.UpdateProposal)
					r.Delete("/", h.DeleteProposal)
					r.Post("/toggle", h.ToggleProposal)
					r.Post("/sync", h.SyncProposal)
					r.Put("/element-values/{valueID}", h.UpdateElementValue)
					r.Put("/variable-values/{valueID}", h.UpdateVariableValue)
					r.Get("/export.xlsx", h.ExportProposal)

					r.Get("/contract", h.GetContract)
					r.Post("/contract", h.GenerateContract)
					r.Post("/contract/revision", h.ConfirmRevision)
					r.Delete("/contract/revision", h.CancelRevision)
					r.Post("/contract/sign", h.SignContract)
					r.Post("/contract/signature-preview", h.PreviewSignature)
					r.Post("/contract/archive", h.ArchiveContract)
					r.Get("/contract.pdf", h.ContractPDF)
				})
			})
		})
	})

	return r
}
