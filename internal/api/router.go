/**
 * @description
 * This file sets up the HTTP router for the ledger service. It defines the API
 * endpoints, associates them with their handlers and applies the middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the operator console.
 * - github.com/prometheus/client_golang/prometheus/promhttp: Metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures the ledger router.
type RouterOptions struct {
	InternalAPIKey string
	AllowedOrigins []string
	Window         OperationWindow
	Now            func() time.Time
}

// LedgerRoutes creates and returns the router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(opts.InternalAPIKey))

		r.Post("/users", h.RegisterUserHandler)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/", h.GetUserHandler)
			r.Get("/stats", h.GetUserStatsHandler)
			r.Get("/tasks", h.ListAvailableTasksHandler)
			r.Post("/referral", h.LinkReferralHandler)
			r.Delete("/referral", h.UnlinkReferralHandler)
			r.Get("/referrals", h.ListReferralsHandler)
			r.Get("/withdrawals", h.ListUserWithdrawalsHandler)
		})

		// User actions that are only accepted inside the operation window.
		r.Group(func(r chi.Router) {
			r.Use(OperationWindowMiddleware(opts.Window, opts.Now))
			r.Post("/tasks/{taskID}/claim", h.ClaimTaskHandler)
			r.Post("/leases/{leaseID}/submit", h.SubmitEvidenceHandler)
			r.Post("/withdrawals", h.RequestWithdrawalHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/tasks", h.ListTasksHandler)
			r.Post("/tasks", h.CreateTaskHandler)
			r.Get("/tasks/{taskID}", h.GetTaskHandler)
			r.Delete("/tasks/{taskID}", h.DeleteTaskHandler)

			r.Get("/leases/submitted", h.ListSubmittedLeasesHandler)
			r.Get("/leases/{leaseID}", h.GetLeaseHandler)
			r.Post("/leases/{leaseID}/approve", h.ApproveLeaseHandler)
			r.Post("/leases/{leaseID}/reject", h.RejectLeaseHandler)

			r.Get("/withdrawals/pending", h.ListPendingWithdrawalsHandler)
			r.Post("/withdrawals/{withdrawalID}/approve", h.ApproveWithdrawalHandler)
			r.Post("/withdrawals/{withdrawalID}/reject", h.RejectWithdrawalHandler)

			r.Post("/sweep", h.RunSweepHandler)
			r.Get("/stats", h.GetLedgerStatsHandler)
		})
	})

	return r
}
