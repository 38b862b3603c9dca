package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type (
	// Runner applies, rolls back, and inspects schema migrations against a
	// PostgreSQL database using golang-migrate with the embedded catalog.
	Runner struct {
		config  *Config
		migrate *migrate.Migrate
		db      *sql.DB
		catalog *Catalog
	}

	// migrateLogger adapts the migrate library's logging to the standard logger.
	migrateLogger struct{}
)

// Ensure we implement the interface at compile time.
var _ migrate.Logger = (*migrateLogger)(nil)

// Add io.Writer interface compliance for broader compatibility.
var _ io.Writer = (*migrateLogger)(nil)

// NewRunner creates a migration runner with the given configuration. It
// validates the embedded catalog, connects, and is ready to run commands.
func NewRunner(config *Config) (*Runner, error) {
	log.Printf("Initializing migration runner with config: %s", config.String())

	catalog := NewCatalog(nil)

	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m, err := newMigrate(db, config.MigrationTable, catalog)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Runner{
		config:  config,
		migrate: m,
		db:      db,
		catalog: catalog,
	}, nil
}

// newMigrate wires the iofs source over the catalog to the postgres driver.
func newMigrate(db *sql.DB, table string, catalog *Catalog) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: table,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(catalog.FS(), ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{}

	return m, nil
}

// Apply brings the database at databaseURL up to the latest schema and
// releases every connection it opened. The server calls this at startup
// when auto-migration is enabled, and the test helpers use it to prepare
// container databases. An already-current schema is not an error.
//
// Apply owns its own connection because closing a migrate instance closes
// the *sql.DB underneath it; sharing the server's pool here would shut the
// server's pool down with it.
func Apply(databaseURL string) error {
	runner, err := NewRunner(&Config{
		DatabaseURL:    databaseURL,
		MigrationTable: DefaultMigrationTable,
	})
	if err != nil {
		return err
	}

	defer func() {
		_ = runner.Close()
	}()

	return runner.Up()
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	if err := r.catalog.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No new migrations to apply")
	} else {
		log.Println("All migrations applied successfully")
	}

	return nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down() error {
	if err := r.catalog.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No migrations to roll back")
	} else {
		log.Println("Last migration rolled back successfully")
	}

	return nil
}

// Status reports the applied version, dirtiness, and what this binary supports.
func (r *Runner) Status() error {
	version, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("Migration status: no migrations applied yet")
			r.showCompatibility(0)

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	status := "clean"
	if dirty {
		status = "dirty (needs manual intervention)"
	}

	log.Printf("Migration status: version %d (%s)", version, status)
	r.showCompatibility(int(version)) // #nosec G115 - version numbers are safe to convert

	return nil
}

// Version reports the applied migration version.
func (r *Runner) Version() error {
	version, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("Current version: no migrations applied")

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	dirtyNote := ""
	if dirty {
		dirtyNote = " (dirty)"
	}

	log.Printf("Current version: %d%s", version, dirtyNote)

	return nil
}

// Drop drops every table in the database. Destructive; cmd/migrator asks
// for confirmation before calling this.
func (r *Runner) Drop() error {
	log.Println("WARNING: Dropping all tables...")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop operation failed: %w", err)
	}

	log.Println("All tables dropped successfully")

	return nil
}

// Close closes the migrate instance and the database connection.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database connection close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (r *Runner) showCompatibility(currentVersion int) {
	supported := r.catalog.MaxVersion()

	switch {
	case currentVersion == supported:
		log.Printf("Schema v%03d, up to date", currentVersion)
	case currentVersion < supported:
		log.Printf("Schema v%03d, %d migration(s) available (binary supports v%03d)",
			currentVersion, supported-currentVersion, supported)
	default:
		log.Printf("Schema v%03d is newer than this binary supports (v%03d); update the migrator",
			currentVersion, supported)
	}
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[MIGRATE] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return true
}

func (l *migrateLogger) Write(p []byte) (int, error) {
	log.Printf("[MIGRATE] %s", string(p))

	return len(p), nil
}
