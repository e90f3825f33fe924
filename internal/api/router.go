package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/churchapp/notifications/internal/auth"
	"github.com/churchapp/notifications/internal/middleware"
)

// Router holds all handlers and creates the chi router
type Router struct {
	notificationHandler *NotificationHandler
	sendHandler         *SendHandler
	adminHandler        *AdminHandler
	healthHandler       *HealthHandler
	hub                 *NotificationHub
	jwtManager          *auth.JWTManager
	apiKeys             *auth.APIKeyVerifier
	logger              *zap.Logger

	// Optional
	AllowedOrigins []string
	Metrics        http.Handler
	UploadsDir     string
}

// NewRouter creates a new router
func NewRouter(
	notificationHandler *NotificationHandler,
	sendHandler *SendHandler,
	adminHandler *AdminHandler,
	healthHandler *HealthHandler,
	hub *NotificationHub,
	jwtManager *auth.JWTManager,
	apiKeys *auth.APIKeyVerifier,
	logger *zap.Logger,
) *Router {
	return &Router{
		notificationHandler: notificationHandler,
		sendHandler:         sendHandler,
		adminHandler:        adminHandler,
		healthHandler:       healthHandler,
		hub:                 hub,
		jwtManager:          jwtManager,
		apiKeys:             apiKeys,
		logger:              logger,
	}
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))
	r.Use(middleware.CORSMiddleware(rt.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.healthHandler.Health)
		r.Get("/ready", rt.healthHandler.Ready)
		r.Get("/live", rt.healthHandler.Live)
	})

	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics)
	}

	if rt.UploadsDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(rt.UploadsDir))))
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// App routes
		r.Route("/notifications", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.AuthMiddleware(rt.jwtManager))

				// The websocket must not pass through Compress
				r.Get("/ws", rt.hub.Serve)

				r.Group(func(r chi.Router) {
					r.Use(chimiddleware.Compress(5))

					r.Post("/register-token", rt.notificationHandler.RegisterToken)
					r.Delete("/register-token", rt.notificationHandler.UnregisterToken)
					r.Get("/", rt.notificationHandler.GetNotifications)
					r.Get("/unread-count", rt.notificationHandler.UnreadCount)
					r.Put("/read-all", rt.notificationHandler.MarkAllRead)
					r.Put("/{id}/read", rt.notificationHandler.MarkRead)
				})
			})

			// Service routes
			r.With(middleware.APIKeyMiddleware(rt.apiKeys)).Post("/send", rt.sendHandler.Send)
		})

		r.With(middleware.APIKeyMiddleware(rt.apiKeys)).Post("/content/published", rt.sendHandler.ContentPublished)
	})

	// Admin dashboard
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.APIKeyMiddleware(rt.apiKeys))
		r.Use(chimiddleware.Compress(5))

		r.Get("/notifications", rt.adminHandler.List)
		r.Post("/notifications", rt.adminHandler.Create)
		r.Post("/notifications/{id}/dispatch", rt.adminHandler.Dispatch)
		r.Delete("/notifications/{id}", rt.adminHandler.Delete)
		r.Post("/media", rt.adminHandler.UploadMedia)
		r.Delete("/media", rt.adminHandler.DeleteMedia)
	})

	return r
}
