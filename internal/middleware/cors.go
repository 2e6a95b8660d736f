package middleware

import (
	"net/http"

	"github.com/gorilla/handlers"
)

// CORS returns a middleware that lets browser consoles read the API. The API
// is read-only, so only GET and preflight requests are allowed.
func CORS() func(http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", RequestIDHeader}),
		handlers.ExposedHeaders([]string{RequestIDHeader}),
		handlers.MaxAge(3600),
	)
}
