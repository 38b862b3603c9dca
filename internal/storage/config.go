package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
)

const (
	// BackendMemory selects the in-memory store (demo deployments, tests).
	BackendMemory = "memory"

	// BackendPostgres selects the PostgreSQL store.
	BackendPostgres = "postgres"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

var (
	// ErrDatabaseURLEmpty is returned when the postgres backend is selected
	// without a database URL.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

	// ErrUnknownBackend is returned for a store backend other than memory or postgres.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Config holds store configuration with production-ready defaults.
type Config struct {
	Backend           string        // memory or postgres
	databaseURL       string        // Private so it cannot leak into logs
	AutoMigrate       bool          // Apply pending schema migrations at startup
	SeedIncidentTypes []string      // Incident types ensured in the catalog at startup
	MaxOpenConns      int           // Maximum number of open connections
	MaxIdleConns      int           // Maximum number of idle connections
	ConnMaxLifetime   time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime   time.Duration // Maximum idle time for connections
}

// LoadConfig loads store configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Backend:           config.GetEnvStr("IMS_STORE", BackendMemory),
		databaseURL:       config.GetEnvStr("IMS_DB_URL", ""),
		AutoMigrate:       config.GetEnvBool("IMS_DB_AUTO_MIGRATE", true),
		SeedIncidentTypes: config.ParseCommaSeparatedList(config.GetEnvStr("IMS_INCIDENT_TYPES", "")),
		MaxOpenConns:      config.GetEnvInt("IMS_DB_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:      config.GetEnvInt("IMS_DB_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime:   config.GetEnvDuration("IMS_DB_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime:   config.GetEnvDuration("IMS_DB_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// Validate checks if the store configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendPostgres:
		if strings.TrimSpace(c.databaseURL) == "" {
			return ErrDatabaseURLEmpty
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
}

// SetDatabaseURL overrides the database URL. Intended for tests that point
// the store at a container-provided database.
func (c *Config) SetDatabaseURL(url string) {
	c.databaseURL = url
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	// Find the scheme separator
	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	// Find the last @ which separates userinfo from host
	afterScheme := c.databaseURL[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		// No @ found, no userinfo
		return c.databaseURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		// No password
		return c.databaseURL
	}

	username := userInfo[:colonIndex]
	password := userInfo[colonIndex+1:]

	if password == "" {
		// Empty password, don't mask
		return c.databaseURL
	}

	scheme := c.databaseURL[:schemeEnd]
	hostAndRest := afterScheme[lastAtIndex:]

	return scheme + "://" + username + ":***" + hostAndRest
}
