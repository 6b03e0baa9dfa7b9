package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// auth validates the bearer token when API_SECRET_KEY is configured. An
// unset key leaves the API open, which main warns about loudly at startup.
func (s *server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expected := s.app.Cfg.APISecretKey
		if expected == "" {
			next(w, r)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))

		// ConstantTimeCompare examines every byte of both inputs before
		// returning, so response latency carries no information about how
		// many leading characters of the guess were correct.
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}
