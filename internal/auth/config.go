package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
)

const defaultTokenLifetime = time.Hour

var (
	// ErrJWTSecretEmpty is returned when no token signing secret is
	// configured. There is no usable default for key material.
	ErrJWTSecretEmpty = errors.New("JWT signing secret cannot be empty")

	// ErrTokenLifetimeInvalid is returned for a zero or negative token
	// lifetime.
	ErrTokenLifetimeInvalid = errors.New("token lifetime must be positive")
)

// Config holds authentication configuration.
type Config struct {
	jwtSecret string // Private so it cannot leak into logs

	// masterKey, when non-empty, is accepted in place of any user's
	// password. An operator escape hatch: production deployments disable
	// it by leaving IMS_MASTER_KEY unset.
	masterKey string

	// TokenLifetime bounds how long an issued token validates.
	TokenLifetime time.Duration

	// Admins holds the handles granted the administrator capability.
	Admins []string
}

// LoadConfig loads authentication configuration from environment
// variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		jwtSecret:     config.GetEnvStr("IMS_JWT_SECRET", ""),
		masterKey:     config.GetEnvStr("IMS_MASTER_KEY", ""),
		TokenLifetime: config.GetEnvDuration("IMS_TOKEN_LIFETIME", defaultTokenLifetime),
		Admins:        config.ParseCommaSeparatedList(config.GetEnvStr("IMS_ADMINS", "")),
	}
}

// Validate checks if the authentication configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.jwtSecret) == "" {
		return ErrJWTSecretEmpty
	}

	if c.TokenLifetime <= 0 {
		return ErrTokenLifetimeInvalid
	}

	return nil
}

// SetJWTSecret overrides the token signing secret. Intended for tests.
func (c *Config) SetJWTSecret(secret string) {
	c.jwtSecret = secret
}

// SetMasterKey overrides the master key. Intended for tests.
func (c *Config) SetMasterKey(key string) {
	c.masterKey = key
}
