// Package middleware provides HTTP middleware for the trip assistant API.
package middleware

import "net/http"

// Origins is the origin allow-list shared by the CORS middleware and the
// websocket accept options. A single "*" entry allows any origin.
type Origins []string

// Wildcard reports whether the list allows any origin.
func (o Origins) Wildcard() bool {
	for _, v := range o {
		if v == "*" {
			return true
		}
	}
	return false
}

// Allows reports whether origin is explicitly listed, wildcard aside.
func (o Origins) Allows(origin string) bool {
	for _, v := range o {
		if v != "*" && v == origin {
			return true
		}
	}
	return false
}

// Patterns returns the list in the form websocket accept options take.
func (o Origins) Patterns() []string {
	if len(o) == 0 {
		return []string{"*"}
	}
	return []string(o)
}

// CORS returns middleware that answers preflight requests and stamps
// response headers for allowed origins.
func CORS(origins Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origins.Wildcard() || origins.Allows(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				// Only allow credentials for explicit origins, not wildcard
				// matches. Setting Allow-Credentials with a wildcard-echoed
				// origin enables CSRF.
				if origins.Allows(origin) {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
