package directory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
)

const (
	// BackendFile reads personnel from a YAML file.
	BackendFile = "file"

	// BackendDMS reads personnel from the external Ranger database.
	BackendDMS = "dms"
)

const (
	defaultRefreshInterval = 5 * time.Minute
	defaultMaxStale        = time.Hour
)

var (
	// ErrFilePathEmpty is returned when the file backend is selected
	// without a personnel file path.
	ErrFilePathEmpty = errors.New("personnel file path cannot be empty")

	// ErrDMSURLEmpty is returned when the dms backend is selected without
	// a database URL.
	ErrDMSURLEmpty = errors.New("DMS database URL cannot be empty")

	// ErrUnknownBackend is returned for a directory backend other than
	// file or dms.
	ErrUnknownBackend = errors.New("unknown directory backend")
)

// Config holds personnel directory configuration.
type Config struct {
	Backend  string // file or dms
	FilePath string // personnel YAML path, file backend only
	dmsURL   string // Private so it cannot leak into logs

	// RefreshInterval is how long a snapshot is served before the cache
	// refreshes it; MaxStale is how long a snapshot may keep serving when
	// refreshes fail.
	RefreshInterval time.Duration
	MaxStale        time.Duration
}

// LoadConfig loads directory configuration from environment variables
// with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Backend:         config.GetEnvStr("IMS_DIRECTORY", BackendFile),
		FilePath:        config.GetEnvStr("IMS_DIRECTORY_FILE", ""),
		dmsURL:          config.GetEnvStr("IMS_DMS_URL", ""),
		RefreshInterval: config.GetEnvDuration("IMS_DIRECTORY_REFRESH", defaultRefreshInterval),
		MaxStale:        config.GetEnvDuration("IMS_DIRECTORY_MAX_STALE", defaultMaxStale),
	}
}

// Validate checks if the directory configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		if strings.TrimSpace(c.FilePath) == "" {
			return ErrFilePathEmpty
		}

		return nil
	case BackendDMS:
		if strings.TrimSpace(c.dmsURL) == "" {
			return ErrDMSURLEmpty
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
}

// SetDMSURL overrides the DMS database URL. Intended for tests.
func (c *Config) SetDMSURL(url string) {
	c.dmsURL = url
}

// MaskDMSURL returns a masked dmsURL safe for logging.
func (c *Config) MaskDMSURL() string {
	return maskURL(c.dmsURL)
}

func maskURL(url string) string {
	schemeEnd := strings.Index(url, "://")
	if schemeEnd == -1 {
		return url
	}

	rest := url[schemeEnd+3:]

	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return url
	}

	user, password, hasPassword := strings.Cut(rest[:at], ":")
	if !hasPassword || password == "" {
		return url
	}

	return url[:schemeEnd] + "://" + user + ":***" + rest[at:]
}
