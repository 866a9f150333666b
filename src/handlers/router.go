package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/username/opsledger/src/security"
	"github.com/username/opsledger/src/utils"
	"golang.org/x/time/rate"
)

// NewRouter wires every API route. All /api routes require a bearer token.
func NewRouter(authService *security.AuthService, limiter *rate.Limiter, invoices *InvoiceHandler, processing *ProcessingHandler, portfolio *PortfolioHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RateLimitMiddleware(limiter))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(authService))

		r.Get("/invoices", invoices.HandleListInvoices)
		r.Post("/invoices", invoices.HandleCreateInvoice)
		r.Post("/invoices/import", invoices.HandleImportInvoice)
		r.Post("/invoices/{invoiceID}/process", processing.HandleProcessInvoice)
		r.Post("/batches", processing.HandleProcessBatch)

		r.Get("/sessions", processing.HandleListSessions)
		r.Get("/sessions/{sessionID}", processing.HandleGetSession)
		r.Delete("/sessions/{sessionID}", processing.HandleCancelSession)

		r.Get("/positions", portfolio.HandleListPositions)
		r.Get("/positions/{positionID}", portfolio.HandleGetPosition)
		r.Get("/operations", portfolio.HandleListOperations)
	})
	return r
}
