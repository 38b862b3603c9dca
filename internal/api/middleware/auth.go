// Package middleware provides HTTP middleware components for the IMS API.
package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
)

// publicEndpoints defines endpoints that bypass bearer token processing.
// These endpoints are reachable without credentials (ping, login). Keys
// are either a bare path ("/ims/api/ping") or a method-qualified pattern
// ("POST /ims/api/auth") when only one method should bypass.
//
// Security note: never add an endpoint that serves incident data to this
// bypass list.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint registers an endpoint that bypasses authentication.
// This should only be called during route setup. A method-qualified
// pattern limits the bypass to that method; login needs this so that a
// client re-authenticating with a stale token in its Authorization header
// is not bounced with 401 before the handler runs.
//
// Example:
//
//	middleware.RegisterPublicEndpoint("/ims/api/ping")
//	middleware.RegisterPublicEndpoint("POST /ims/api/auth")
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

// isPublicEndpoint reports whether the request matches a registered
// bypass, method-qualified entries first.
func isPublicEndpoint(r *http.Request) bool {
	return publicEndpoints[r.Method+" "+r.URL.Path] || publicEndpoints[r.URL.Path]
}

// TokenVerifier validates a bearer token and resolves the user it names.
// auth.Authenticator implements it; tests substitute a mock.
type TokenVerifier interface {
	// VerifyToken parses and validates a signed token, returning the
	// user it identifies or auth.ErrNotAuthenticated.
	VerifyToken(token string) (*auth.User, error)
}

// extractBearerToken extracts the bearer token from the Authorization
// header. Returns (token, true) if present and well formed, ("", false)
// otherwise.
//
// Security considerations:
// - Rejects tokens containing newlines (header injection prevention)
// - Trims whitespace from tokens
// - Case-sensitive "Bearer " prefix check.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")

	// Security: Reject tokens containing newlines (header injection prevention)
	if strings.ContainsAny(token, "\r\n") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}

	return token, true
}

// Authenticate creates an authentication middleware that verifies bearer
// tokens and enriches the request context with the authenticated user.
//
// The middleware:
// - Skips registered public endpoints entirely
// - Lets requests without a token through as anonymous (handlers decide
//   whether anonymous access is acceptable for their endpoint)
// - Rejects requests carrying an invalid or expired token with 401
// - Attaches *auth.User to the context on success
//
// Example usage:
//
//	authenticator, _ := auth.NewAuthenticator(cfg, personnel)
//	handler = middleware.Authenticate(authenticator, logger)(handler)
func Authenticate(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicEndpoint(r) {
				next.ServeHTTP(w, r)

				return
			}

			token, found := extractBearerToken(r)
			if !found {
				// Anonymous request. Authorization happens per endpoint;
				// most handlers will answer 401 through the authority.
				next.ServeHTTP(w, r)

				return
			}

			authStart := time.Now()

			user, err := verifier.VerifyToken(token)
			if err != nil {
				writeAuthError(w, r, logger, err)

				return
			}

			ctx := SetUser(r.Context(), user)

			logger.Debug("Bearer token verified",
				slog.String("handle", user.Handle),
				slog.Bool("admin", user.Admin),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError writes an RFC 7807 compliant error response for a token
// verification failure and logs the failure.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	// Log authentication failure (no token material)
	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
	)

	if err := writeRFC7807Error(w, r, http.StatusUnauthorized, "Invalid or expired token", correlationID); err != nil {
		logger.Error("Failed to encode authentication error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Any("encode_error", err),
		)
	}
}

// writeRFC7807Error writes an RFC 7807 compliant error response without importing the api package.
func writeRFC7807Error(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	detail,
	correlationID string,
) error {
	// Map status code to title
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	default:
		title = http.StatusText(statusCode)
	}

	// Create RFC 7807 problem detail
	problem := map[string]interface{}{
		"type":          fmt.Sprintf("https://ims.burningman.org/problems/%d", statusCode),
		"title":         title,
		"status":        statusCode,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": correlationID,
	}

	// Set proper content type and status code
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	// Write response
	return json.NewEncoder(w).Encode(problem)
}
