package migrations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
)

// DefaultMigrationTable is where golang-migrate tracks applied versions.
const DefaultMigrationTable = "schema_migrations"

var (
	// ErrDatabaseURLEmpty is returned when no database URL is configured.
	ErrDatabaseURLEmpty = errors.New("IMS_DB_URL cannot be empty")

	// ErrMigrationTableEmpty is returned when the tracking table name is blank.
	ErrMigrationTableEmpty = errors.New("IMS_MIGRATION_TABLE cannot be empty")
)

// Config holds all configuration for the migration runner.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationTable is the name of the table that tracks applied migrations.
	MigrationTable string
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("IMS_DB_URL", ""),
		MigrationTable: config.GetEnvStr("IMS_MIGRATION_TABLE", DefaultMigrationTable),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLEmpty
	}

	if c.MigrationTable == "" {
		return ErrMigrationTableEmpty
	}

	return nil
}

// String returns a representation of the configuration safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

// maskDatabaseURL hides the password portion of a connection URL.
func maskDatabaseURL(url string) string {
	schemeEnd := strings.Index(url, "://")
	if schemeEnd == -1 {
		return url
	}

	rest := url[schemeEnd+3:]

	// The last @ before the path separates userinfo from host; passwords
	// may themselves contain @.
	authority := rest
	if slash := strings.IndexAny(rest, "/?#"); slash != -1 {
		authority = rest[:slash]
	}

	at := strings.LastIndex(authority, "@")
	if at == -1 {
		return url
	}

	userinfo := authority[:at]

	colon := strings.Index(userinfo, ":")
	if colon == -1 || colon == len(userinfo)-1 {
		// No password, or an empty one
		return url
	}

	masked := userinfo[:colon+1] + "***"

	return url[:schemeEnd+3] + masked + rest[at:]
}
