package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/lib/pq"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// Compile-time interface verification.
var _ Store = (*PostgresStore)(nil)

// PostgresStore is the production Store backed by PostgreSQL. Every
// mutation runs in a single transaction; committed writes notify the
// registered observers.
type PostgresStore struct {
	conn      *Connection
	logger    *slog.Logger
	observers observerList
	closeOnce sync.Once
}

// NewPostgresStore creates a store over an established connection. The
// store takes ownership of the connection and closes it on Close.
func NewPostgresStore(conn *Connection) (*PostgresStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PostgresStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("IMS_LOG_LEVEL", slog.LevelInfo),
		})).With("component", "postgres_store"),
	}, nil
}

// AddObserver registers a committed-write observer. Not safe to call
// concurrently with mutations; register observers before serving traffic.
func (s *PostgresStore) AddObserver(observer WriteObserver) {
	s.observers = append(s.observers, observer)
}

// HealthCheck implements Store.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Close implements Store. Safe to call more than once.
func (s *PostgresStore) Close() error {
	var err error

	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})

	return err
}

// Events implements EventStore.
func (s *PostgresStore) Events(ctx context.Context) ([]ims.Event, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name FROM event ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var events []ims.Event

	for rows.Next() {
		var event ims.Event
		if err := rows.Scan(&event.ID); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// CreateEvent implements EventStore.
func (s *PostgresStore) CreateEvent(ctx context.Context, event ims.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO event (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		event.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to create event %q: %w", event.ID, err)
	}

	s.logger.Info("Created event", "event_id", event.ID)

	return nil
}

// eventExists reports whether the event is known, using the queryer so it
// works both inside and outside transactions.
func eventExists(ctx context.Context, q queryer, event string) (bool, error) {
	var exists bool

	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM event WHERE name = $1)`, event,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check event %q: %w", event, err)
	}

	return exists, nil
}

// requireEvent converts a missing event into ErrNoSuchEvent.
func requireEvent(ctx context.Context, q queryer, event string) error {
	exists, err := eventExists(ctx, q, event)
	if err != nil {
		return err
	}

	if !exists {
		return fmt.Errorf("%w: %q", ErrNoSuchEvent, event)
	}

	return nil
}

// queryer is the subset of query methods shared by Connection and sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// IncidentTypes implements IncidentTypeStore.
func (s *PostgresStore) IncidentTypes(ctx context.Context, includeHidden bool) ([]ims.IncidentType, error) {
	query := `SELECT name, hidden FROM incident_type ORDER BY name`
	if !includeHidden {
		query = `SELECT name, hidden FROM incident_type WHERE NOT hidden ORDER BY name`
	}

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident types: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var types []ims.IncidentType

	for rows.Next() {
		var t ims.IncidentType
		if err := rows.Scan(&t.Name, &t.Hidden); err != nil {
			return nil, fmt.Errorf("failed to scan incident type: %w", err)
		}

		types = append(types, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incident types: %w", err)
	}

	return types, nil
}

// CreateIncidentType implements IncidentTypeStore.
func (s *PostgresStore) CreateIncidentType(ctx context.Context, name string, hidden bool) error {
	t := ims.IncidentType{Name: name, Hidden: hidden}
	if err := t.Validate(); err != nil {
		return err
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO incident_type (name, hidden) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		name, hidden,
	)
	if err != nil {
		return fmt.Errorf("failed to create incident type %q: %w", name, err)
	}

	return nil
}

// ShowIncidentTypes implements IncidentTypeStore.
func (s *PostgresStore) ShowIncidentTypes(ctx context.Context, names []string) error {
	return s.setTypesHidden(ctx, names, false)
}

// HideIncidentTypes implements IncidentTypeStore.
func (s *PostgresStore) HideIncidentTypes(ctx context.Context, names []string) error {
	return s.setTypesHidden(ctx, names, true)
}

func (s *PostgresStore) setTypesHidden(ctx context.Context, names []string, hidden bool) error {
	names = normalizeSet(names)
	if len(names) == 0 {
		return nil
	}

	result, err := s.conn.ExecContext(ctx,
		`UPDATE incident_type SET hidden = $1 WHERE name = ANY($2)`,
		hidden, pq.Array(names),
	)
	if err != nil {
		return fmt.Errorf("failed to update incident types: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected incident types: %w", err)
	}

	if int(affected) != len(names) {
		return fmt.Errorf("%w: %d of %d names matched", ErrNoSuchIncidentType, affected, len(names))
	}

	return nil
}

// Readers implements AccessStore.
func (s *PostgresStore) Readers(ctx context.Context, event string) ([]string, error) {
	return s.accessFor(ctx, event, ims.AccessModeRead)
}

// Writers implements AccessStore.
func (s *PostgresStore) Writers(ctx context.Context, event string) ([]string, error) {
	return s.accessFor(ctx, event, ims.AccessModeWrite)
}

// Reporters implements AccessStore.
func (s *PostgresStore) Reporters(ctx context.Context, event string) ([]string, error) {
	return s.accessFor(ctx, event, ims.AccessModeReport)
}

func (s *PostgresStore) accessFor(ctx context.Context, event string, mode ims.AccessMode) ([]string, error) {
	if err := requireEvent(ctx, s.conn, event); err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT expression FROM event_access WHERE event = $1 AND mode = $2 ORDER BY expression`,
		event, string(mode),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s access for %q: %w", mode, event, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	expressions := []string{}

	for rows.Next() {
		var expression string
		if err := rows.Scan(&expression); err != nil {
			return nil, fmt.Errorf("failed to scan access expression: %w", err)
		}

		expressions = append(expressions, expression)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access expressions: %w", err)
	}

	return expressions, nil
}

// SetReaders implements AccessStore.
func (s *PostgresStore) SetReaders(ctx context.Context, event string, expressions []string) error {
	return s.setAccess(ctx, event, ims.AccessModeRead, expressions)
}

// SetWriters implements AccessStore.
func (s *PostgresStore) SetWriters(ctx context.Context, event string, expressions []string) error {
	return s.setAccess(ctx, event, ims.AccessModeWrite, expressions)
}

// SetReporters implements AccessStore.
func (s *PostgresStore) SetReporters(ctx context.Context, event string, expressions []string) error {
	return s.setAccess(ctx, event, ims.AccessModeReport, expressions)
}

func (s *PostgresStore) setAccess(ctx context.Context, event string, mode ims.AccessMode, expressions []string) error {
	for _, expression := range expressions {
		if err := ims.ValidateAccessExpression(expression); err != nil {
			return err
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if err := requireEvent(ctx, tx, event); err != nil {
		return err
	}

	// Step 1: Clear the mode's expression list
	_, err = tx.ExecContext(ctx,
		`DELETE FROM event_access WHERE event = $1 AND mode = $2`,
		event, string(mode),
	)
	if err != nil {
		return fmt.Errorf("failed to clear %s access for %q: %w", mode, event, err)
	}

	// Step 2: Write the replacement list, deduplicated
	for _, expression := range normalizeSet(expressions) {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO event_access (event, expression, mode) VALUES ($1, $2, $3)`,
			event, expression, string(mode),
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s access for %q: %w", mode, event, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit access update: %w", err)
	}

	return nil
}

// ConcentricStreets implements StreetStore.
func (s *PostgresStore) ConcentricStreets(ctx context.Context, event string) (map[string]string, error) {
	if err := requireEvent(ctx, s.conn, event); err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name FROM concentric_street WHERE event = $1 ORDER BY id`,
		event,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query streets for %q: %w", event, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	streets := make(map[string]string)

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan street: %w", err)
		}

		streets[id] = name
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate streets: %w", err)
	}

	return streets, nil
}

// CreateConcentricStreet implements StreetStore.
func (s *PostgresStore) CreateConcentricStreet(ctx context.Context, event, id, name string) error {
	if id == "" || name == "" {
		return fmt.Errorf("%w: concentric street requires an ID and a name", ims.ErrValidation)
	}

	if err := requireEvent(ctx, s.conn, event); err != nil {
		return err
	}

	result, err := s.conn.ExecContext(ctx,
		`INSERT INTO concentric_street (event, id, name) VALUES ($1, $2, $3)
		 ON CONFLICT (event, id) DO NOTHING`,
		event, id, name,
	)
	if err != nil {
		return fmt.Errorf("failed to create street %q for %q: %w", id, event, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check street insert: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateConcentricStreet, id)
	}

	return nil
}

// Export implements Exporter.
func (s *PostgresStore) Export(ctx context.Context) (*ExportDocument, error) {
	return exportDocument(ctx, s)
}

// Import implements Exporter.
func (s *PostgresStore) Import(ctx context.Context, doc *ExportDocument) error {
	return importDocument(ctx, s, doc)
}
