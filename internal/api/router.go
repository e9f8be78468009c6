package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/predicthub/wager-engine/internal/metrics"
)

// NewRouter builds the full HTTP router: middleware, /health, /metrics
// and the /api/v1 routes.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", UserHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wager-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", h.Routes)
	return r
}

// Routes registers the /api/v1 endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	// Long-lived WebSocket connections skip the request timeout.
	if h.ws != nil {
		r.Get("/ws", h.ws)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/users", h.Register)
		r.Post("/login", h.Login)
		r.Get("/users/{userID}", h.GetProfile)
		r.Get("/users/{userID}/balance", h.GetBalance)
		r.Get("/users/{userID}/transactions", h.GetTransactions)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/news", h.GetNews)

		r.Get("/markets", h.ListMarkets)
		r.Get("/markets/{marketID}", h.GetMarket)
		r.Get("/markets/{marketID}/wagers", h.ListWagers)

		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)
			r.Get("/markets/{marketID}/wagers/me", h.GetMyWager)
			r.Post("/markets/{marketID}/bets", h.PlaceBet)

			r.Group(func(r chi.Router) {
				r.Use(h.requireAdmin)
				r.Post("/markets", h.CreateMarket)
				r.Post("/markets/{marketID}/resolve", h.ResolveMarket)
				r.Post("/admin/users/{userID}/adjust", h.AdjustBalance)
				r.Delete("/admin/users/{userID}", h.DeleteUser)
			})
		})
	})
}
