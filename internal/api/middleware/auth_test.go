// Package middleware provides HTTP middleware components for the IMS API.
package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// TestExtractBearerToken verifies bearer token extraction from the
// Authorization header, including the malformed-header cases.
func TestExtractBearerToken(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		header    string
		wantToken string
		wantFound bool
	}{
		{
			name:      "valid bearer token",
			header:    "Bearer abc.def.ghi",
			wantToken: "abc.def.ghi",
			wantFound: true,
		},
		{
			name:      "missing header",
			header:    "",
			wantToken: "",
			wantFound: false,
		},
		{
			name:      "wrong scheme",
			header:    "Basic dXNlcjpwYXNz",
			wantToken: "",
			wantFound: false,
		},
		{
			name:      "lowercase scheme",
			header:    "bearer abc.def.ghi",
			wantToken: "",
			wantFound: false,
		},
		{
			name:      "token with newline",
			header:    "Bearer abc\ndef",
			wantToken: "",
			wantFound: false,
		},
		{
			name:      "token with carriage return",
			header:    "Bearer abc\rdef",
			wantToken: "",
			wantFound: false,
		},
		{
			name:      "whitespace only token",
			header:    "Bearer    ",
			wantToken: "",
			wantFound: false,
		},
		{
			name:      "token with surrounding whitespace",
			header:    "Bearer   abc.def.ghi  ",
			wantToken: "abc.def.ghi",
			wantFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			token, found := extractBearerToken(req)

			if found != tt.wantFound {
				t.Errorf("expected found=%v, got %v", tt.wantFound, found)
			}

			if token != tt.wantToken {
				t.Errorf("expected token %q, got %q", tt.wantToken, token)
			}
		})
	}
}

// TestAuthenticate_PublicEndpointBypass verifies that registered public
// endpoints skip token verification entirely.
func TestAuthenticate_PublicEndpointBypass(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	RegisterPublicEndpoint("/ims/api/ping/")

	verifierCalled := false
	verifier := &MockTokenVerifier{
		VerifyTokenFunc: func(_ string) (*auth.User, error) {
			verifierCalled = true

			return nil, auth.ErrNotAuthenticated
		},
	}

	logger := slog.New(slog.DiscardHandler)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true

		w.WriteHeader(http.StatusOK)
	})

	handler := Authenticate(verifier, logger)(next)

	// Even with a (bogus) token attached, public endpoints bypass verification
	req := httptest.NewRequest(http.MethodGet, "/ims/api/ping/", nil)
	req.Header.Set("Authorization", "Bearer bogus")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Error("expected next handler to be called for public endpoint")
	}

	if verifierCalled {
		t.Error("expected verifier NOT to be called for public endpoint")
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

// TestAuthenticate_MethodQualifiedBypass verifies that a bypass
// registered for one method leaves the other methods authenticated.
func TestAuthenticate_MethodQualifiedBypass(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	RegisterPublicEndpoint("POST /ims/api/auth")

	verifierCalled := false
	verifier := &MockTokenVerifier{
		VerifyTokenFunc: func(_ string) (*auth.User, error) {
			verifierCalled = true

			return &auth.User{Ranger: ims.Ranger{Handle: "Tool"}}, nil
		},
	}

	logger := slog.New(slog.DiscardHandler)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Authenticate(verifier, logger)(next)

	// POST bypasses verification even with a token attached
	req := httptest.NewRequest(http.MethodPost, "/ims/api/auth", nil)
	req.Header.Set("Authorization", "Bearer stale")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if verifierCalled {
		t.Error("expected verifier NOT to be called for bypassed method")
	}

	// GET on the same path still verifies the token
	req = httptest.NewRequest(http.MethodGet, "/ims/api/auth", nil)
	req.Header.Set("Authorization", "Bearer current")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !verifierCalled {
		t.Error("expected verifier to be called for non-bypassed method")
	}
}

// TestAuthenticate_AnonymousRequestPassesThrough verifies that requests
// without credentials reach the handler with no user in context. The
// handlers decide whether anonymous access is acceptable.
func TestAuthenticate_AnonymousRequestPassesThrough(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	verifier := &MockTokenVerifier{}
	logger := slog.New(slog.DiscardHandler)

	var userInContext *auth.User

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		userInContext = GetUser(r.Context())

		w.WriteHeader(http.StatusOK)
	})

	handler := Authenticate(verifier, logger)(next)

	req := httptest.NewRequest(http.MethodGet, "/ims/api/events/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected next handler to be called for anonymous request")
	}

	if userInContext != nil {
		t.Errorf("expected no user in context, got %q", userInContext.Handle)
	}
}

// TestAuthenticate_NonBearerHeaderTreatedAsAnonymous verifies that an
// Authorization header with a different scheme does not trigger token
// verification.
func TestAuthenticate_NonBearerHeaderTreatedAsAnonymous(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	verifierCalled := false
	verifier := &MockTokenVerifier{
		VerifyTokenFunc: func(_ string) (*auth.User, error) {
			verifierCalled = true

			return nil, auth.ErrNotAuthenticated
		},
	}

	logger := slog.New(slog.DiscardHandler)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true

		w.WriteHeader(http.StatusOK)
	})

	handler := Authenticate(verifier, logger)(next)

	req := httptest.NewRequest(http.MethodGet, "/ims/api/events/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Error("expected next handler to be called")
	}

	if verifierCalled {
		t.Error("expected verifier NOT to be called for non-bearer header")
	}
}

// TestAuthenticate_InvalidTokenRejected verifies that an invalid or
// expired token yields an RFC 7807 401 response.
func TestAuthenticate_InvalidTokenRejected(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	verifier := &MockTokenVerifier{
		VerifyTokenFunc: func(_ string) (*auth.User, error) {
			return nil, errors.New("token is expired")
		},
	}

	logger := slog.New(slog.DiscardHandler)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true

		w.WriteHeader(http.StatusOK)
	})

	handler := Authenticate(verifier, logger)(next)

	req := httptest.NewRequest(http.MethodGet, "/ims/api/events/2025/incidents/", nil)
	req.Header.Set("Authorization", "Bearer expired.token.here")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if nextCalled {
		t.Error("expected next handler NOT to be called for invalid token")
	}

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/problem+json" {
		t.Errorf("expected Content-Type application/problem+json, got %s", contentType)
	}

	var problem map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}

	if problem["type"] != "https://ims.burningman.org/problems/401" {
		t.Errorf("expected type https://ims.burningman.org/problems/401, got %v", problem["type"])
	}

	if problem["title"] != "Unauthorized" {
		t.Errorf("expected title 'Unauthorized', got %v", problem["title"])
	}

	if problem["instance"] != "/ims/api/events/2025/incidents/" {
		t.Errorf("expected instance /ims/api/events/2025/incidents/, got %v", problem["instance"])
	}

	// Error detail must not echo token material
	if detail, ok := problem["detail"].(string); ok {
		if detail != "Invalid or expired token" {
			t.Errorf("unexpected error detail: %v", detail)
		}
	}
}

// TestAuthenticate_ValidTokenAttachesUser verifies that a valid token
// enriches the request context with the resolved user.
func TestAuthenticate_ValidTokenAttachesUser(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	verifier := &MockTokenVerifier{
		VerifyTokenFunc: func(token string) (*auth.User, error) {
			if token != "valid.token.here" {
				return nil, auth.ErrNotAuthenticated
			}

			return &auth.User{
				Ranger: ims.Ranger{
					Handle: "Tool",
					Email:  []string{"tool@rangers.org"},
					Onsite: true,
					Groups: []string{"007"},
				},
				Admin: true,
			}, nil
		},
	}

	logger := slog.New(slog.DiscardHandler)

	var userInContext *auth.User

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userInContext = GetUser(r.Context())

		w.WriteHeader(http.StatusOK)
	})

	handler := Authenticate(verifier, logger)(next)

	req := httptest.NewRequest(http.MethodGet, "/ims/api/events/", nil)
	req.Header.Set("Authorization", "Bearer valid.token.here")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	if userInContext == nil {
		t.Fatal("expected user in context")
	}

	if userInContext.Handle != "Tool" {
		t.Errorf("expected handle Tool, got %q", userInContext.Handle)
	}

	if !userInContext.Admin {
		t.Error("expected admin flag to be set")
	}

	if len(userInContext.Groups) != 1 || userInContext.Groups[0] != "007" {
		t.Errorf("expected groups [007], got %v", userInContext.Groups)
	}
}

// TestGetUser_NoUser verifies that GetUser returns nil for a context
// without an authenticated user.
func TestGetUser_NoUser(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	if user := GetUser(req.Context()); user != nil {
		t.Errorf("expected nil user, got %q", user.Handle)
	}
}
