/**
 * @description
 * HTTP middleware: session resolution for browser and bearer callers, the admin
 * gate and the internal API key check for collaborator callbacks.
 *
 * @dependencies
 * - internal/session: credential extraction and identity context helpers.
 */

package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/session"
)

// Authenticator is the strict identity resolver used for HTTP requests.
type Authenticator interface {
	Authenticate(ctx context.Context, hs session.Handshake) (domain.Identity, error)
}

// SessionMiddleware resolves the caller and rejects anonymous requests with 401.
func SessionMiddleware(auth Authenticator, cookieName string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := auth.Authenticate(r.Context(), session.HandshakeFromRequest(r, cookieName))
			if err != nil {
				if !errors.Is(err, session.ErrNoCredentials) {
					logger.Info("request authentication failed",
						zap.String("path", r.URL.Path),
						zap.Error(err),
					)
				}
				writeError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			if !identity.IsAuthenticated() {
				writeError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAdmin must run after SessionMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !session.IdentityFrom(r.Context()).IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// InternalAuthMiddleware validates the X-Internal-API-Key header. An empty
// required key closes the route entirely.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	requiredKey = strings.TrimSpace(requiredKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.TrimSpace(r.Header.Get("X-Internal-API-Key"))
			if requiredKey == "" || provided == "" ||
				subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
