package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/leadbilling-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware биллингового сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/partner", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.authMiddleware.RequireRole(custommiddleware.RolePartner))

		r.Post("/deposits", h.SubmitDeposit)
		r.Get("/deposits", h.GetDeposits)

		r.Get("/ledger", h.GetLedger)
		r.Get("/invoices", h.GetPartnerInvoices)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.authMiddleware.RequireRole(custommiddleware.RoleAdmin))

		r.Post("/referrals", h.CreateReferral)
		r.Get("/referrals", h.ListReferrals)

		r.Put("/deposits/{id}", h.ResolveDeposit)

		r.Post("/invoices/generate", h.GenerateInvoices)
		r.Get("/invoices/{id}", h.GetInvoice)
		r.Put("/invoices/{id}", h.UpdateInvoice)
		r.Post("/invoices/{id}/issue", h.IssueInvoice)
		r.Post("/invoices/{id}/pay", h.PayInvoice)
		r.Post("/invoices/{id}/cancel", h.CancelInvoice)

		r.Post("/customer-invoices/number", h.AllocateCustomerNumber)

		r.Get("/ledger/{partnerID}", h.GetPartnerLedger)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
