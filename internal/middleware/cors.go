package middleware

import (
	"github.com/go-chi/cors"
)

// CORS returns cors.Options for the browser clients this API serves. If
// "*" appears among the origins, AllowCredentials is dropped: browsers
// reject Access-Control-Allow-Credentials: true with a wildcard origin.
func CORS(allowedOrigins []string) cors.Options {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	allowCreds := true
	for _, o := range allowedOrigins {
		if o == "*" {
			allowCreds = false
			break
		}
	}

	return cors.Options{
		AllowedOrigins: allowedOrigins,
		// Chat updates go through PATCH; there is no PUT surface.
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		// EventSource reconnects send Last-Event-ID.
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID", "X-Request-ID"},
		// Retry-After accompanies quota denials.
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: allowCreds,
		MaxAge:           300,
	}
}
