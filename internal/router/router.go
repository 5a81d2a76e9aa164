package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"courseview-backend/internal/handlers"
	"courseview-backend/internal/middleware"
)

// Session creations allowed per client IP per minute.
const sessionCreateLimit = 30

func New(
	jwtAuth *middleware.JWTAuth,
	trackingHandler *handlers.TrackingHandler,
	adminHandler *handlers.AdminHandler,
	healthHandler *handlers.HealthHandler,
	wsHandler http.HandlerFunc,
	ipLimiter *middleware.RateLimiter,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{frontendURL},
		AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Tracking Routes ────
		r.Route("/tracking", func(r chi.Router) {
			r.Head("/ping", trackingHandler.Ping)
			r.Get("/ping", trackingHandler.Ping)

			// Session token in the body is the credential
			r.Group(func(r chi.Router) {
				r.Use(ipLimiter.Middleware(middleware.ClientIP))
				r.Post("/events/batch", trackingHandler.SubmitEvents)
				r.Post("/sessions/end", trackingHandler.EndSession)
			})

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.With(httprate.LimitByIP(sessionCreateLimit, time.Minute)).Post("/sessions", trackingHandler.CreateSession)
				r.Get("/progress", trackingHandler.GetProgress)
			})
		})

		// ──── Admin Routes ────
		r.Route("/admin", func(r chi.Router) {
			// Token travels in the query string for browser WebSocket clients
			r.Get("/ws", wsHandler)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Use(middleware.RequireRole(middleware.RoleAdmin))
				r.Get("/security-alerts", adminHandler.ListSecurityAlerts)
			})
		})
	})

	return r
}
