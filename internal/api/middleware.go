/**
 * @description
 * Custom middleware for the ledger router: the internal API key check for
 * server-to-server callers and the operation window gate for user actions.
 *
 * @dependencies
 * - crypto/subtle, net/http, time: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"net/http"
	"time"
)

// InternalAuthMiddleware validates the internal API key. An empty key disables the check.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OperationWindowMiddleware rejects requests outside the operation window with 403.
func OperationWindowMiddleware(window OperationWindow, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !window.IsOpen(now()) {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": window.closedMessage()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
