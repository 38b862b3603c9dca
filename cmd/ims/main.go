// Package main provides the Incident Management System API service.
//
// The service exposes the JSON API and the server-sent event stream that
// dispatch consoles and the field report app talk to. Wiring order matters:
// storage and the personnel directory come up before the authenticator and
// server, and every store write fans out through the event bus.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/bus"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/directory"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/storage"
	"github.com/burningmantech/ranger-ims-server-sub000/migrations"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ims"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting IMS service",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("deployment", serverConfig.Deployment),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Load rate limiter configuration
	middlewareConfig := middleware.LoadConfig()

	// Create rate limiter instance (graceful shutdown handled by server.shutdown())
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("user_rps", middlewareConfig.UserRPS),
		slog.Int("user_burst", middlewareConfig.UserBurst),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
		slog.Int("unauth_burst", middlewareConfig.UnAuthBurst),
	)

	busConfig := bus.LoadConfig()
	if err := busConfig.Validate(); err != nil {
		logger.Error("Invalid event bus configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	eventBus := bus.New()

	if busConfig.RelayEnabled() {
		relayCtx, cancelRelay := context.WithCancel(context.Background())
		defer cancelRelay()

		go bus.NewRelay(eventBus, busConfig).Run(relayCtx)

		logger.Info("Kafka relay enabled",
			slog.Any("brokers", busConfig.KafkaBrokers),
			slog.String("topic", busConfig.KafkaTopic),
		)
	}

	store := newStore(logger, eventBus)

	defer func() {
		_ = store.Close() // Ensure the store closes on normal shutdown
	}()

	personnel := newDirectory(logger)

	authConfig := auth.LoadConfig()

	authenticator, err := auth.NewAuthenticator(authConfig, personnel)
	if err != nil {
		logger.Error("Failed to configure authentication",
			slog.String("error", err.Error()),
			slog.String("note", "Set IMS_JWT_SECRET to a non-empty signing secret"),
		)

		_ = store.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	logger.Info("Authentication configured",
		slog.Duration("token_lifetime", authConfig.TokenLifetime),
		slog.Int("admins", len(authConfig.Admins)),
	)

	// The store doubles as the ACL source and the field report index for
	// capability computation.
	authority := auth.NewAuthority(store, store)

	server := api.NewServer(
		serverConfig, store, personnel, authenticator, authority, eventBus, rateLimiter,
	)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("IMS service stopped")
}

// newStore builds the configured store backend with the given observer
// registered for committed-write notifications, applying pending schema
// migrations first when auto-migration is enabled. Exits the process on
// failure: the service cannot run without its store.
func newStore(logger *slog.Logger, observer storage.WriteObserver) storage.Store {
	storageConfig := storage.LoadConfig()

	if err := storageConfig.Validate(); err != nil {
		logger.Error("Invalid storage configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if storageConfig.Backend == storage.BackendMemory {
		logger.Warn("Using the in-memory store",
			slog.String("note", "All data is lost on shutdown; set IMS_STORE=postgres for persistence"),
		)

		memoryStore := storage.NewMemoryStore()
		memoryStore.AddObserver(observer)
		seedIncidentTypes(logger, memoryStore, storageConfig.SeedIncidentTypes)

		return memoryStore
	}

	if storageConfig.AutoMigrate {
		migrationConfig, err := migrations.LoadConfig()
		if err != nil {
			logger.Error("Failed to load migration configuration", slog.String("error", err.Error()))
			os.Exit(1)
		}

		if err := migrations.Apply(migrationConfig.DatabaseURL); err != nil {
			logger.Error("Failed to apply schema migrations", slog.String("error", err.Error()))
			os.Exit(1)
		}

		logger.Info("Schema migrations applied",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
		)
	}

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := storage.NewPostgresStore(dbConn)
	if err != nil {
		logger.Error("Failed to initialize postgres store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	store.AddObserver(observer)
	seedIncidentTypes(logger, store, storageConfig.SeedIncidentTypes)

	logger.Info("Postgres store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	return store
}

// seedIncidentTypes ensures the configured incident types exist in the
// catalog. Creation is idempotent, so restarts and databases shared with
// other deployments are safe.
func seedIncidentTypes(logger *slog.Logger, store storage.Store, names []string) {
	ctx := context.Background()

	for _, typeName := range names {
		if err := store.CreateIncidentType(ctx, typeName, false); err != nil {
			logger.Error("Failed to seed incident type",
				slog.String("incident_type", typeName),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	if len(names) > 0 {
		logger.Info("Incident type catalog seeded", slog.Int("count", len(names)))
	}
}

// newDirectory builds the configured personnel directory wrapped in the
// snapshot cache, so personnel reads and logins survive brief directory
// outages. Exits the process on failure.
func newDirectory(logger *slog.Logger) directory.Provider {
	directoryConfig := directory.LoadConfig()

	if err := directoryConfig.Validate(); err != nil {
		logger.Error("Invalid directory configuration",
			slog.String("error", err.Error()),
			slog.String("note", "Set IMS_DIRECTORY_FILE to a personnel file, or IMS_DIRECTORY=dms with IMS_DMS_URL"),
		)
		os.Exit(1)
	}

	var backend directory.Provider

	switch directoryConfig.Backend {
	case directory.BackendFile:
		fileDirectory, err := directory.NewFile(directoryConfig.FilePath)
		if err != nil {
			logger.Error("Failed to open personnel file",
				slog.String("path", directoryConfig.FilePath),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}

		backend = fileDirectory

		logger.Info("File directory initialized", slog.String("path", directoryConfig.FilePath))
	case directory.BackendDMS:
		dms, err := directory.NewDMS(directoryConfig)
		if err != nil {
			logger.Error("Failed to connect to the DMS directory",
				slog.String("dms_url", directoryConfig.MaskDMSURL()),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}

		backend = dms

		logger.Info("DMS directory initialized",
			slog.String("dms_url", directoryConfig.MaskDMSURL()),
			slog.Duration("refresh_interval", directoryConfig.RefreshInterval),
			slog.Duration("max_stale", directoryConfig.MaxStale),
		)
	}

	return directory.NewCached(backend, directoryConfig)
}
