package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/directory"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// The clubhouse form of "password"; keeps login tests free of bcrypt cost.
const storedPassword = "saltvalue:4a4c50688190ef1dc9aced9babc7bf4ff520ee712d249b98e3725da81479a7c1" // pragma: allowlist secret

// Compile-time interface verification.
var _ directory.Provider = (*stubDirectory)(nil)

type stubDirectory struct {
	rangers []ims.Ranger
	err     error
}

func (s *stubDirectory) Personnel(_ context.Context) ([]ims.Ranger, error) {
	return s.rangers, s.err
}

func (s *stubDirectory) LookupUser(_ context.Context, searchTerm string) (*ims.Ranger, error) {
	if s.err != nil {
		return nil, s.err
	}

	for i := range s.rangers {
		if strings.EqualFold(s.rangers[i].Handle, searchTerm) {
			out := s.rangers[i]

			return &out, nil
		}
	}

	return nil, directory.ErrNoSuchUser
}

func testAuthenticator(t *testing.T, personnel directory.Provider, adjust func(*Config)) *Authenticator {
	t.Helper()

	cfg := &Config{
		TokenLifetime: time.Hour,
		Admins:        []string{"Root"},
	}
	cfg.SetJWTSecret("unit-test-signing-secret") // pragma: allowlist secret

	if adjust != nil {
		adjust(cfg)
	}

	authenticator, err := NewAuthenticator(cfg, personnel)
	if err != nil {
		t.Fatalf("NewAuthenticator() unexpected error: %v", err)
	}

	return authenticator
}

func testPersonnel() *stubDirectory {
	return &stubDirectory{rangers: []ims.Ranger{
		{
			Handle:      "Operator",
			Groups:      []string{"Operations Manager", "Shift Command"},
			Onsite:      true,
			DirectoryID: "1",
			Password:    storedPassword,
			Enabled:     true,
		},
		{
			Handle:      "Root",
			DirectoryID: "2",
			Password:    storedPassword,
			Enabled:     true,
		},
		{
			Handle:      "Bonkers",
			DirectoryID: "3",
			Password:    storedPassword,
			Enabled:     false,
		},
	}}
}

func TestLogin(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	authenticator := testAuthenticator(t, testPersonnel(), nil)

	t.Run("issues a token that verifies back to the user", func(t *testing.T) {
		token, err := authenticator.Login(t.Context(), "Operator", "password")
		if err != nil {
			t.Fatalf("Login() unexpected error: %v", err)
		}

		if token == "" {
			t.Fatal("Login() returned an empty token")
		}

		user, err := authenticator.VerifyToken(token)
		if err != nil {
			t.Fatalf("VerifyToken() unexpected error: %v", err)
		}

		if user.Handle != "Operator" {
			t.Errorf("Handle = %q, want %q", user.Handle, "Operator")
		}

		if user.DirectoryID != "1" {
			t.Errorf("DirectoryID = %q, want %q", user.DirectoryID, "1")
		}

		if !slices.Equal(user.Groups, []string{"Operations Manager", "Shift Command"}) {
			t.Errorf("Groups = %v, want the directory positions", user.Groups)
		}

		if !user.Onsite {
			t.Error("Onsite = false, want true")
		}

		if user.Admin {
			t.Error("Admin = true for a non-admin user")
		}
	})

	t.Run("marks configured administrators", func(t *testing.T) {
		token, err := authenticator.Login(t.Context(), "root", "password")
		if err != nil {
			t.Fatalf("Login() unexpected error: %v", err)
		}

		user, err := authenticator.VerifyToken(token)
		if err != nil {
			t.Fatalf("VerifyToken() unexpected error: %v", err)
		}

		if !user.Admin {
			t.Error("Admin = false for a handle on the administrator list")
		}
	})

	t.Run("rejects a wrong password", func(t *testing.T) {
		_, err := authenticator.Login(t.Context(), "Operator", "impostor")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("rejects an unknown user", func(t *testing.T) {
		_, err := authenticator.Login(t.Context(), "nobody", "password")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("rejects a disabled user even with the right password", func(t *testing.T) {
		_, err := authenticator.Login(t.Context(), "Bonkers", "password")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("surfaces a directory outage as its own error", func(t *testing.T) {
		down := testAuthenticator(t, &stubDirectory{err: directory.ErrUnavailable}, nil)

		_, err := down.Login(t.Context(), "Operator", "password")
		if errors.Is(err, ErrInvalidCredentials) {
			t.Error("Login() returned ErrInvalidCredentials for a directory outage")
		}

		if !errors.Is(err, directory.ErrUnavailable) {
			t.Errorf("Login() error = %v, want the directory error", err)
		}
	})
}

func TestLoginMasterKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("accepts the master key for any enabled user when set", func(t *testing.T) {
		authenticator := testAuthenticator(t, testPersonnel(), func(cfg *Config) {
			cfg.SetMasterKey("skeleton") // pragma: allowlist secret
		})

		if _, err := authenticator.Login(t.Context(), "Operator", "skeleton"); err != nil {
			t.Errorf("Login() unexpected error with the master key: %v", err)
		}

		// Disabled users stay out regardless.
		if _, err := authenticator.Login(t.Context(), "Bonkers", "skeleton"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v for a disabled user, want ErrInvalidCredentials", err)
		}
	})

	t.Run("never matches when unset", func(t *testing.T) {
		authenticator := testAuthenticator(t, testPersonnel(), nil)

		if _, err := authenticator.Login(t.Context(), "Operator", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v for an empty password, want ErrInvalidCredentials", err)
		}
	})
}

func TestVerifyTokenRejections(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	authenticator := testAuthenticator(t, testPersonnel(), nil)

	sign := func(t *testing.T, secret string, claims Claims) string {
		t.Helper()

		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("failed to sign test token: %v", err)
		}

		return signed
	}

	baseClaims := func() Claims {
		return Claims{
			PreferredUsername: "Operator",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    tokenIssuer,
				Subject:   "1",
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}

	t.Run("rejects garbage", func(t *testing.T) {
		if _, err := authenticator.VerifyToken("not-a-token"); !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("VerifyToken() error = %v, want ErrNotAuthenticated", err)
		}
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		token := sign(t, "some-other-secret", baseClaims()) // pragma: allowlist secret

		if _, err := authenticator.VerifyToken(token); !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("VerifyToken() error = %v, want ErrNotAuthenticated", err)
		}
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		claims := baseClaims()
		claims.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

		token := sign(t, "unit-test-signing-secret", claims)

		if _, err := authenticator.VerifyToken(token); !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("VerifyToken() error = %v, want ErrNotAuthenticated", err)
		}
	})

	t.Run("rejects a foreign issuer", func(t *testing.T) {
		claims := baseClaims()
		claims.Issuer = "someone-else"

		token := sign(t, "unit-test-signing-secret", claims)

		if _, err := authenticator.VerifyToken(token); !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("VerifyToken() error = %v, want ErrNotAuthenticated", err)
		}
	})
}
