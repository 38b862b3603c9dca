// Package middleware provides HTTP middleware components for the IMS API.
package middleware

import (
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
)

// MockTokenVerifier is a mock implementation of TokenVerifier for testing.
type MockTokenVerifier struct {
	VerifyTokenFunc func(token string) (*auth.User, error)
}

// VerifyToken implements TokenVerifier.
func (m *MockTokenVerifier) VerifyToken(token string) (*auth.User, error) {
	if m.VerifyTokenFunc != nil {
		return m.VerifyTokenFunc(token)
	}

	return nil, auth.ErrNotAuthenticated
}
