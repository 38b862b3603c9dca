package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/directory"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

const tokenIssuer = "ranger-ims-server"

// Claims are the token claims issued at login. The registered subject
// carries the directory ID; the custom claims carry what authorization
// needs, so requests never hit the directory.
type Claims struct {
	PreferredUsername string   `json:"preferred_username"`
	Positions         []string `json:"ranger_positions"`
	Onsite            bool     `json:"ranger_on_site"`

	jwt.RegisteredClaims
}

// Authenticator issues tokens at login and verifies them per request.
type Authenticator struct {
	config    *Config
	directory directory.Provider
	logger    *slog.Logger
}

// NewAuthenticator creates an authenticator over the personnel directory.
func NewAuthenticator(cfg *Config, personnel directory.Provider) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	return &Authenticator{
		config:    cfg,
		directory: personnel,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("IMS_LOG_LEVEL", slog.LevelInfo),
		})).With("component", "auth"),
	}, nil
}

// Login verifies credentials against the directory and returns a signed
// token. The identification may be a handle or an email address. Failures
// uniformly return ErrInvalidCredentials; directory outages surface as
// their own errors so the API can answer 500 rather than 401.
func (a *Authenticator) Login(ctx context.Context, identification, password string) (string, error) {
	ranger, err := a.directory.LookupUser(ctx, identification)
	if err != nil {
		if errors.Is(err, directory.ErrNoSuchUser) {
			return "", ErrInvalidCredentials
		}

		return "", fmt.Errorf("failed to look up %q: %w", identification, err)
	}

	if !ranger.Enabled {
		a.logger.Warn("Login attempt by disabled user", "user", ranger.Handle)

		return "", ErrInvalidCredentials
	}

	if !a.masterKeyMatches(password) && !directory.VerifyPassword(ranger.Password, password) {
		a.logger.Warn("Login attempt with wrong password", "user", ranger.Handle)

		return "", ErrInvalidCredentials
	}

	token, err := a.issueToken(ranger)
	if err != nil {
		return "", err
	}

	a.logger.Info("User logged in", "user", ranger.Handle)

	return token, nil
}

// VerifyToken validates a bearer token and rebuilds the principal from
// its claims. Any invalid, expired, or tampered token returns
// ErrNotAuthenticated; callers treat such requests as anonymous.
func (a *Authenticator) VerifyToken(tokenString string) (*User, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}

			return []byte(a.config.jwtSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrNotAuthenticated)
		}

		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}

	if !token.Valid {
		return nil, ErrNotAuthenticated
	}

	return a.userFromClaims(claims), nil
}

func (a *Authenticator) issueToken(ranger *ims.Ranger) (string, error) {
	now := time.Now()

	claims := Claims{
		PreferredUsername: ranger.Handle,
		Positions:         ranger.Groups,
		Onsite:            ranger.Onsite,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   ranger.DirectoryID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenLifetime)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

func (a *Authenticator) userFromClaims(claims *Claims) *User {
	return &User{
		Ranger: ims.Ranger{
			Handle:      claims.PreferredUsername,
			Groups:      claims.Positions,
			Onsite:      claims.Onsite,
			DirectoryID: claims.Subject,
			Enabled:     true, // Tokens only issue for enabled users
		},
		Admin: isAdminHandle(a.config.Admins, claims.PreferredUsername),
	}
}

// masterKeyMatches checks the optional operator master key. An unset key
// never matches.
func (a *Authenticator) masterKeyMatches(password string) bool {
	if a.config.masterKey == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(a.config.masterKey), []byte(password)) == 1
}
