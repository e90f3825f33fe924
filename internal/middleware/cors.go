package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSMiddleware returns CORS configuration for the app and the admin dashboard
func CORSMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,

		// Allow common HTTP methods
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},

		// Allow common headers
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-API-Key",
			"X-Requested-With",
		},

		// Expose headers to the client
		ExposedHeaders: []string{
			"Link",
			"X-Request-Id",
		},

		// Allow credentials (cookies, authorization headers)
		AllowCredentials: true,

		// Cache preflight requests for 5 minutes
		MaxAge: 300,
	})
}
