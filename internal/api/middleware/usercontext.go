// Package middleware provides HTTP middleware components for the IMS API.
package middleware

import (
	"context"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
)

// userContextKey is the context key for the authenticated user.
// Using a struct type ensures type safety and prevents collisions with other context keys.
type userContextKey struct{}

// GetUser extracts the authenticated user from the request context.
// Returns nil for anonymous requests; the authorization layer treats a
// nil user as unauthenticated.
//
// Example usage:
//
//	user := middleware.GetUser(r.Context())
//	if user == nil {
//	    // Handle anonymous request
//	    return
//	}
//	log.Printf("Request from: %s", user.Handle)
func GetUser(ctx context.Context) *auth.User {
	if user, ok := ctx.Value(userContextKey{}).(*auth.User); ok {
		return user
	}

	return nil
}

// SetUser attaches the authenticated user to the request context.
// Returns a new context with the user attached.
//
// This function is used by the authentication middleware after successful
// bearer token verification.
func SetUser(ctx context.Context, user *auth.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}
