package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// authExempt lists paths reachable without a token so liveness probes and
// metric scrapers keep working when auth is enabled.
var authExempt = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// authMiddleware enforces Bearer token authentication when an AuthToken is
// configured; otherwise it passes requests through untouched.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	token := []byte(s.config.AuthToken)
	if len(token) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authExempt[r.URL.Path] || bearerMatches(r.Header.Get("Authorization"), token) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("WWW-Authenticate", "Bearer")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	})
}

// bearerMatches compares the Authorization header against the configured
// token in constant time.
func bearerMatches(header string, token []byte) bool {
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(value), token) == 1
}
