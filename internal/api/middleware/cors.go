package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS lets the storefront call the checkout API from the browser. An empty
// origin disables the headers; "*" allows any origin without credentials.
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	if allowedOrigin == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{allowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: allowedOrigin != "*",
		MaxAge:           600,
	})
}
