/**
 * @description
 * HTTP router for the wallet service. The websocket endpoint sits outside the
 * request timeout so long-lived connections are not cut at 60 seconds.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: routing and standard middleware.
 * - github.com/go-chi/cors: CORS for the browser client.
 * - github.com/prometheus/client_golang: /metrics exposition.
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

// RouterOptions carries the non-handler inputs of the router.
type RouterOptions struct {
	CookieName     string
	AllowedOrigins []string
	InternalAPIKey string
	// Metrics overrides the default promhttp handler when set.
	Metrics http.Handler
}

// NewRouter creates the chi router and registers every route.
func NewRouter(h *Handlers, auth Authenticator, ws http.Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(opts.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if ws != nil {
		r.Method(http.MethodGet, "/ws", ws)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("healthy"))
		})
		metricsHandler := opts.Metrics
		if metricsHandler == nil {
			metricsHandler = promhttp.Handler()
		}
		r.Method(http.MethodGet, "/metrics", metricsHandler)
		r.Get("/leaderboard", h.LeaderboardHandler)

		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuthMiddleware(opts.InternalAPIKey))
			r.Post("/payments/verified", h.VerifiedPaymentHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware(auth, opts.CookieName, h.logger))

			r.Get("/wallet", h.GetWalletHandler)
			r.Get("/wallet/transactions", h.ListTransactionsHandler)
			r.Post("/wallet/fund", h.FundWalletHandler)
			r.Post("/wallet/transfer", h.TransferHandler)
			r.Post("/votes", h.CastVoteHandler)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Post("/tickets/validate", h.ValidateTicketHandler)
				r.Post("/tickets/scan", h.ScanTicketHandler)
			})
		})
	})

	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"https://*", "http://*"}
	}
	return origins
}
