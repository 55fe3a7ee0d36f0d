// internal/api/router.go
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paygate/internal/api/auth"
	"paygate/internal/api/handler"
)

// NewRouter sets up and returns a new HTTP router.
func NewRouter(payments *handler.PaymentHandler, admin *handler.AdminHandler, authn *auth.Authenticator, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(handler.DefaultTimeout))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// End-user routes, identity taken from the token subject
	r.Route("/v1", func(r chi.Router) {
		r.Use(authn.Require(auth.RoleUser))
		r.Get("/balance", payments.GetBalance)
		r.Get("/transactions", payments.GetHistory)
		r.Get("/deposits/instructions", payments.GetDepositInstructions)
		r.Post("/deposits", payments.CreateDeposit)
		r.Post("/withdrawals", payments.CreateWithdrawal)
		r.Get("/whitelist", payments.ListWhitelist)
		r.Post("/whitelist", payments.AddWhitelist)
		r.Delete("/whitelist/{id}", payments.DeactivateWhitelist)
	})

	// Administrator routes
	r.Route("/admin", func(r chi.Router) {
		r.Use(authn.Require(auth.RoleAdmin))
		r.Get("/transactions/pending", admin.ListPending)
		r.Get("/transactions/awaiting-reference", admin.ListAwaitingReference)
		r.Route("/transactions/{rail}/{id}", func(r chi.Router) {
			r.Get("/", admin.GetTransaction)
			r.Post("/approve", admin.Approve)
			r.Post("/reject", admin.Reject)
			r.Post("/reference", admin.SetReference)
			r.Post("/reply", admin.Reply)
			r.Post("/fail", admin.Fail)
			r.Post("/reconcile", admin.Reconcile)
			r.Post("/refund", admin.Refund)
			r.Get("/proof", admin.CheckProof)
			r.Get("/audit", admin.GetAuditTrail)
		})
		r.Get("/audit", admin.RecentAudit)
		r.Get("/settings", admin.ListSettings)
		r.Put("/settings/{key}", admin.SetSetting)
		r.Put("/rates/{from}/{to}", admin.SetRate)
		r.Get("/whitelist/pending", admin.ListPendingWhitelist)
		r.Post("/whitelist/{id}/approve", admin.ApproveWhitelist)
		r.Post("/whitelist/{id}/deactivate", admin.DeactivateWhitelist)
	})

	logger.Debug("routes registered")
	return r
}
