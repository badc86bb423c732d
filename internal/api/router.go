/**
 * @description
 * This file sets up the HTTP router for the settlement-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * The gateway webhook stays outside the authenticated group: PayOS calls it
 * directly and carries its own correlation data.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/docmarket/settlement-service/internal/domain"
)

// SettlementRoutes creates and returns a new router for the settlement service.
func SettlementRoutes(h *SettlementHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public webhook endpoint for the payment gateway.
	r.Post("/payments/webhook", h.GatewayCallbackHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Purchases
		r.Post("/payments/initiate", h.InitiatePurchaseHandler)
		r.Get("/payments/{paymentID}", h.GetPaymentHandler)
		r.Get("/purchases", h.ListMyPurchasesHandler)
		r.Post("/documents/{documentID}/enroll-free", h.EnrollFreeDocumentHandler)

		// Refunds
		r.Get("/refunds/eligibility/{paymentID}", h.RefundEligibilityHandler)
		r.Post("/refunds", h.CreateRefundHandler)
		r.Get("/refunds/my", h.ListMyRefundsHandler)
		r.Get("/refunds/stats", h.RefundStatsHandler)
		r.Get("/refunds/{refundID}", h.GetRefundHandler)

		// Wallets and withdrawals
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(domain.RoleSeller, domain.RoleAdmin))
			r.Get("/wallet", h.GetSellerWalletHandler)
			r.Get("/refunds/seller", h.ListSellerRefundsHandler)
			r.Post("/withdrawals", h.RequestWithdrawalHandler)
			r.Get("/withdrawals/my", h.ListMyWithdrawalsHandler)
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(domain.RoleAdmin))
			r.Get("/admin/payments/stats", h.PaymentStatsHandler)
			r.Post("/admin/payments/{paymentID}/reconcile", h.ReconcilePaymentHandler)
			r.Get("/admin/wallet", h.GetPlatformWalletHandler)
			r.Get("/admin/refunds", h.ListAllRefundsHandler)
			r.Put("/admin/refunds/{refundID}/process", h.ProcessRefundHandler)
			r.Get("/admin/withdrawals", h.ListAllWithdrawalsHandler)
			r.Put("/admin/withdrawals/{requestID}/process", h.ProcessWithdrawalHandler)
		})
	})

	return r
}
