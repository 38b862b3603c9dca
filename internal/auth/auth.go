// Package auth authenticates requests with short-lived bearer tokens and
// computes per-event capabilities from the configured administrator list
// and the store's ACL expressions.
package auth

import (
	"errors"
	"strings"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// Sentinel errors for authentication and authorization outcomes. The API
// layer maps these to 401 and 403.
var (
	// ErrNotAuthenticated is returned when an operation requires an
	// identity and the request has none.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotAuthorized is returned when a known user lacks a required
	// capability.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidCredentials is returned on login failure. It deliberately
	// does not distinguish an unknown user from a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is the principal attached to an authenticated request, rebuilt
// from token claims on every request. It carries identity, not the full
// directory record: no credentials, no email.
type User struct {
	ims.Ranger

	// Admin is set when the user's handle is on the configured
	// administrator list.
	Admin bool
}

// matchesAny reports whether any ACL expression in the list matches the
// user.
func (u *User) matchesAny(expressions []string) bool {
	if u == nil {
		return false
	}

	for _, expression := range expressions {
		if ims.AccessExpressionMatches(expression, &u.Ranger) {
			return true
		}
	}

	return false
}

// isAdminHandle checks handle against the administrator list. Matching is
// case-insensitive so a capitalization slip in IMS_ADMINS does not lock
// the operators out.
func isAdminHandle(admins []string, handle string) bool {
	for _, admin := range admins {
		if strings.EqualFold(admin, handle) {
			return true
		}
	}

	return false
}
