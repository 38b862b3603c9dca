package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

const incidentColumns = `number, created, version, priority, state,
	summary, location_name, location_concentric,
	location_radial_hour, location_radial_minute, location_description`

// Incidents implements IncidentStore.
func (s *PostgresStore) Incidents(ctx context.Context, event string) ([]ims.Incident, error) {
	if err := requireEvent(ctx, s.conn, event); err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incident WHERE event = $1 ORDER BY number`,
		event,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents for %q: %w", event, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var incidents []ims.Incident

	for rows.Next() {
		incident, err := scanIncident(rows, event)
		if err != nil {
			return nil, err
		}

		incidents = append(incidents, incident)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}

	// Attach the set-valued fields and journals with one query per
	// relation rather than three per incident.
	rangers, err := s.incidentRangersByNumber(ctx, event)
	if err != nil {
		return nil, err
	}

	types, err := s.incidentTypesByNumber(ctx, event)
	if err != nil {
		return nil, err
	}

	entries, err := s.incidentEntriesByNumber(ctx, event)
	if err != nil {
		return nil, err
	}

	for i := range incidents {
		number := incidents[i].Number
		incidents[i].RangerHandles = orEmpty(rangers[number])
		incidents[i].IncidentTypes = orEmpty(types[number])
		incidents[i].ReportEntries = entries[number]
	}

	return incidents, nil
}

// IncidentWithNumber implements IncidentStore.
func (s *PostgresStore) IncidentWithNumber(ctx context.Context, event string, number int) (ims.Incident, error) {
	if err := requireEvent(ctx, s.conn, event); err != nil {
		return ims.Incident{}, err
	}

	row := s.conn.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incident WHERE event = $1 AND number = $2`,
		event, number,
	)

	incident, err := scanIncident(row, event)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ims.Incident{}, fmt.Errorf("%w: %s#%d", ErrNoSuchIncident, event, number)
		}

		return ims.Incident{}, err
	}

	if err := s.loadIncidentRelations(ctx, &incident); err != nil {
		return ims.Incident{}, err
	}

	return incident, nil
}

// CreateIncident implements IncidentStore.
func (s *PostgresStore) CreateIncident(ctx context.Context, incident ims.Incident, author string) (ims.Incident, error) {
	if author == "" {
		return ims.Incident{}, fmt.Errorf("%w: mutation author is required", ims.ErrValidation)
	}

	incident = prepareNewIncident(incident, author, time.Now().UTC())

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return ims.Incident{}, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	// Step 1: Lock the event row so concurrent creates serialize and the
	// allocated number is unique.
	if err := lockEvent(ctx, tx, incident.Event); err != nil {
		return ims.Incident{}, err
	}

	// Step 2: Validate references
	if err := checkStreet(ctx, tx, incident.Event, incident.Location.Concentric); err != nil {
		return ims.Incident{}, err
	}

	typeIDs, err := resolveTypeIDs(ctx, tx, incident.IncidentTypes)
	if err != nil {
		return ims.Incident{}, err
	}

	// Step 3: Allocate the next incident number
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM incident WHERE event = $1`,
		incident.Event,
	).Scan(&incident.Number)
	if err != nil {
		return ims.Incident{}, fmt.Errorf("failed to allocate incident number: %w", err)
	}

	if err := incident.Validate(); err != nil {
		return ims.Incident{}, err
	}

	// Step 4: Write the incident and its relations
	if err := insertIncidentRow(ctx, tx, incident); err != nil {
		return ims.Incident{}, err
	}

	if err := insertIncidentRangers(ctx, tx, incident.Event, incident.Number, incident.RangerHandles); err != nil {
		return ims.Incident{}, err
	}

	if err := insertIncidentTypes(ctx, tx, incident.Event, incident.Number, typeIDs); err != nil {
		return ims.Incident{}, err
	}

	if err := insertIncidentEntries(ctx, tx, incident.Event, incident.Number, incident.ReportEntries); err != nil {
		return ims.Incident{}, err
	}

	if err := tx.Commit(); err != nil {
		return ims.Incident{}, fmt.Errorf("failed to commit incident create: %w", err)
	}

	s.logger.Info("Created incident", "event_id", incident.Event, "incident_number", incident.Number)
	s.observers.notify(WriteEvent{Class: WriteClassIncident, Event: incident.Event, Number: incident.Number})

	return incident, nil
}

// ImportIncident implements IncidentStore.
func (s *PostgresStore) ImportIncident(ctx context.Context, incident ims.Incident) error {
	incident.Created = incident.Created.UTC()
	incident.RangerHandles = normalizeSet(incident.RangerHandles)
	incident.IncidentTypes = normalizeSet(incident.IncidentTypes)
	incident.Location.Normalize()
	incident.Version = len(incident.ReportEntries)

	if err := incident.Validate(); err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if err := lockEvent(ctx, tx, incident.Event); err != nil {
		return err
	}

	var exists bool

	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM incident WHERE event = $1 AND number = $2)`,
		incident.Event, incident.Number,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check incident number: %w", err)
	}

	if exists {
		return fmt.Errorf("%w: %s#%d", ErrDuplicateIncidentNumber, incident.Event, incident.Number)
	}

	if err := checkStreet(ctx, tx, incident.Event, incident.Location.Concentric); err != nil {
		return err
	}

	typeIDs, err := resolveTypeIDs(ctx, tx, incident.IncidentTypes)
	if err != nil {
		return err
	}

	if err := insertIncidentRow(ctx, tx, incident); err != nil {
		return err
	}

	if err := insertIncidentRangers(ctx, tx, incident.Event, incident.Number, incident.RangerHandles); err != nil {
		return err
	}

	if err := insertIncidentTypes(ctx, tx, incident.Event, incident.Number, typeIDs); err != nil {
		return err
	}

	if err := insertIncidentEntries(ctx, tx, incident.Event, incident.Number, incident.ReportEntries); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit incident import: %w", err)
	}

	return nil
}

// UpdateIncident implements IncidentStore.
func (s *PostgresStore) UpdateIncident(
	ctx context.Context,
	event string,
	number int,
	changes IncidentChanges,
	author string,
) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	// Step 1: Load and lock the current row
	row := tx.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incident WHERE event = $1 AND number = $2 FOR UPDATE`,
		event, number,
	)

	incident, err := scanIncident(row, event)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if eventErr := requireEvent(ctx, tx, event); eventErr != nil {
				return eventErr
			}

			return fmt.Errorf("%w: %s#%d", ErrNoSuchIncident, event, number)
		}

		return err
	}

	// Step 2: Apply the change set and build the journal entries
	appended, err := applyIncidentChanges(&incident, changes, author, time.Now().UTC())
	if err != nil {
		return err
	}

	// Step 3: Validate references changed by the update
	if changes.LocationConcentric != nil {
		if err := checkStreet(ctx, tx, event, incident.Location.Concentric); err != nil {
			return err
		}
	}

	// Step 4: Persist
	if err := updateIncidentRow(ctx, tx, incident); err != nil {
		return err
	}

	if changes.RangerHandles != nil {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM incident__ranger WHERE event = $1 AND incident_number = $2`,
			event, number,
		)
		if err != nil {
			return fmt.Errorf("failed to clear incident rangers: %w", err)
		}

		if err := insertIncidentRangers(ctx, tx, event, number, incident.RangerHandles); err != nil {
			return err
		}
	}

	if changes.IncidentTypes != nil {
		typeIDs, err := resolveTypeIDs(ctx, tx, incident.IncidentTypes)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM incident__incident_type WHERE event = $1 AND incident_number = $2`,
			event, number,
		)
		if err != nil {
			return fmt.Errorf("failed to clear incident types: %w", err)
		}

		if err := insertIncidentTypes(ctx, tx, event, number, typeIDs); err != nil {
			return err
		}
	}

	if err := insertIncidentEntries(ctx, tx, event, number, appended); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit incident update: %w", err)
	}

	s.observers.notify(WriteEvent{Class: WriteClassIncident, Event: event, Number: number})

	return nil
}

// AddReportEntriesToIncident implements IncidentStore.
func (s *PostgresStore) AddReportEntriesToIncident(
	ctx context.Context,
	event string,
	number int,
	entries []ims.ReportEntry,
	author string,
) error {
	return s.UpdateIncident(ctx, event, number, IncidentChanges{ReportEntries: entries}, author)
}

// scanIncident reads one incident row; the caller fills in relations.
func scanIncident(row interface{ Scan(...any) error }, event string) (ims.Incident, error) {
	var (
		incident     ims.Incident
		summary      sql.NullString
		locName      sql.NullString
		locStreet    sql.NullString
		locHour      sql.NullInt64
		locMinute    sql.NullInt64
		locDetail    sql.NullString
		state        string
		priority     int
		created      time.Time
		versionValue int
	)

	err := row.Scan(
		&incident.Number, &created, &versionValue, &priority, &state,
		&summary, &locName, &locStreet, &locHour, &locMinute, &locDetail,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ims.Incident{}, err
		}

		return ims.Incident{}, fmt.Errorf("failed to scan incident: %w", err)
	}

	incident.Event = event
	incident.Created = created.UTC()
	incident.Version = versionValue
	incident.Priority = ims.IncidentPriority(priority)
	incident.State = ims.IncidentState(state)
	incident.Summary = summary.String
	incident.Location = ims.Location{
		Name:         locName.String,
		Concentric:   locStreet.String,
		RadialHour:   nullableInt(locHour),
		RadialMinute: nullableInt(locMinute),
		Description:  locDetail.String,
	}
	incident.Location.Normalize()

	return incident, nil
}

func (s *PostgresStore) loadIncidentRelations(ctx context.Context, incident *ims.Incident) error {
	rangers, err := queryStrings(ctx, s.conn,
		`SELECT ranger_handle FROM incident__ranger
		 WHERE event = $1 AND incident_number = $2 ORDER BY ranger_handle`,
		incident.Event, incident.Number,
	)
	if err != nil {
		return fmt.Errorf("failed to load incident rangers: %w", err)
	}

	types, err := queryStrings(ctx, s.conn,
		`SELECT t.name FROM incident__incident_type link
		 JOIN incident_type t ON t.id = link.incident_type
		 WHERE link.event = $1 AND link.incident_number = $2 ORDER BY t.name`,
		incident.Event, incident.Number,
	)
	if err != nil {
		return fmt.Errorf("failed to load incident types: %w", err)
	}

	entries, err := queryEntries(ctx, s.conn,
		`SELECT re.author, re.text, re.created, re.generated
		 FROM incident__report_entry link
		 JOIN report_entry re ON re.id = link.report_entry
		 WHERE link.event = $1 AND link.incident_number = $2
		 ORDER BY re.created, re.id`,
		incident.Event, incident.Number,
	)
	if err != nil {
		return fmt.Errorf("failed to load incident journal: %w", err)
	}

	incident.RangerHandles = rangers
	incident.IncidentTypes = types
	incident.ReportEntries = entries

	return nil
}

func (s *PostgresStore) incidentRangersByNumber(ctx context.Context, event string) (map[int][]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT incident_number, ranger_handle FROM incident__ranger
		 WHERE event = $1 ORDER BY ranger_handle`,
		event,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident rangers: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	out := make(map[int][]string)

	for rows.Next() {
		var (
			number int
			handle string
		)

		if err := rows.Scan(&number, &handle); err != nil {
			return nil, fmt.Errorf("failed to scan incident ranger: %w", err)
		}

		out[number] = append(out[number], handle)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incident rangers: %w", err)
	}

	return out, nil
}

func (s *PostgresStore) incidentTypesByNumber(ctx context.Context, event string) (map[int][]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT link.incident_number, t.name FROM incident__incident_type link
		 JOIN incident_type t ON t.id = link.incident_type
		 WHERE link.event = $1 ORDER BY t.name`,
		event,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident types: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	out := make(map[int][]string)

	for rows.Next() {
		var (
			number int
			name   string
		)

		if err := rows.Scan(&number, &name); err != nil {
			return nil, fmt.Errorf("failed to scan incident type link: %w", err)
		}

		out[number] = append(out[number], name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incident type links: %w", err)
	}

	return out, nil
}

func (s *PostgresStore) incidentEntriesByNumber(ctx context.Context, event string) (map[int][]ims.ReportEntry, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT link.incident_number, re.author, re.text, re.created, re.generated
		 FROM incident__report_entry link
		 JOIN report_entry re ON re.id = link.report_entry
		 WHERE link.event = $1 ORDER BY re.created, re.id`,
		event,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident journals: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	out := make(map[int][]ims.ReportEntry)

	for rows.Next() {
		var (
			number int
			entry  ims.ReportEntry
		)

		if err := rows.Scan(&number, &entry.Author, &entry.Text, &entry.Created, &entry.Generated); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}

		entry.Created = entry.Created.UTC()
		out[number] = append(out[number], entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal entries: %w", err)
	}

	return out, nil
}

// lockEvent serializes writers within an event. Missing events map to
// ErrNoSuchEvent.
func lockEvent(ctx context.Context, tx *sql.Tx, event string) error {
	var name string

	err := tx.QueryRowContext(ctx,
		`SELECT name FROM event WHERE name = $1 FOR UPDATE`, event,
	).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrNoSuchEvent, event)
		}

		return fmt.Errorf("failed to lock event %q: %w", event, err)
	}

	return nil
}

func checkStreet(ctx context.Context, q queryer, event, streetID string) error {
	if streetID == "" {
		return nil
	}

	var exists bool

	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM concentric_street WHERE event = $1 AND id = $2)`,
		event, streetID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check street %q: %w", streetID, err)
	}

	if !exists {
		return fmt.Errorf("%w: %q", ErrNoSuchConcentricStreet, streetID)
	}

	return nil
}

// resolveTypeIDs maps incident type names to catalog IDs, failing on any
// name not in the catalog.
func resolveTypeIDs(ctx context.Context, q queryer, names []string) ([]int, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, name FROM incident_type WHERE name = ANY($1)`,
		pq.Array(names),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve incident types: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	byName := make(map[string]int, len(names))

	for rows.Next() {
		var (
			id   int
			name string
		)

		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan incident type id: %w", err)
		}

		byName[name] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incident type ids: %w", err)
	}

	ids := make([]int, 0, len(names))

	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoSuchIncidentType, name)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func insertIncidentRow(ctx context.Context, tx *sql.Tx, incident ims.Incident) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO incident (
			event, number, version, created, priority, state, summary,
			location_name, location_concentric,
			location_radial_hour, location_radial_minute, location_description
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		incident.Event, incident.Number, incident.Version, incident.Created,
		int(incident.Priority), string(incident.State), nullString(incident.Summary),
		nullString(incident.Location.Name), nullString(incident.Location.Concentric),
		nullInt(incident.Location.RadialHour), nullInt(incident.Location.RadialMinute),
		nullString(incident.Location.Description),
	)
	if err != nil {
		return fmt.Errorf("failed to insert incident %s#%d: %w", incident.Event, incident.Number, err)
	}

	return nil
}

func updateIncidentRow(ctx context.Context, tx *sql.Tx, incident ims.Incident) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE incident SET
			version = $3, priority = $4, state = $5, summary = $6,
			location_name = $7, location_concentric = $8,
			location_radial_hour = $9, location_radial_minute = $10,
			location_description = $11
		 WHERE event = $1 AND number = $2`,
		incident.Event, incident.Number, incident.Version,
		int(incident.Priority), string(incident.State), nullString(incident.Summary),
		nullString(incident.Location.Name), nullString(incident.Location.Concentric),
		nullInt(incident.Location.RadialHour), nullInt(incident.Location.RadialMinute),
		nullString(incident.Location.Description),
	)
	if err != nil {
		return fmt.Errorf("failed to update incident %s#%d: %w", incident.Event, incident.Number, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check incident update: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s#%d", ErrNoSuchIncident, incident.Event, incident.Number)
	}

	return nil
}

func insertIncidentRangers(ctx context.Context, tx *sql.Tx, event string, number int, handles []string) error {
	for _, handle := range handles {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO incident__ranger (event, incident_number, ranger_handle) VALUES ($1, $2, $3)`,
			event, number, handle,
		)
		if err != nil {
			return fmt.Errorf("failed to insert incident ranger %q: %w", handle, err)
		}
	}

	return nil
}

func insertIncidentTypes(ctx context.Context, tx *sql.Tx, event string, number int, typeIDs []int) error {
	for _, id := range typeIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO incident__incident_type (event, incident_number, incident_type) VALUES ($1, $2, $3)`,
			event, number, id,
		)
		if err != nil {
			return fmt.Errorf("failed to insert incident type link: %w", err)
		}
	}

	return nil
}

// insertIncidentEntries appends journal rows and links them to the incident.
func insertIncidentEntries(ctx context.Context, tx *sql.Tx, event string, number int, entries []ims.ReportEntry) error {
	for _, entry := range entries {
		var entryID int64

		err := tx.QueryRowContext(ctx,
			`INSERT INTO report_entry (author, text, created, generated)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			entry.Author, entry.Text, entry.Created, entry.Generated,
		).Scan(&entryID)
		if err != nil {
			return fmt.Errorf("failed to insert report entry: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO incident__report_entry (event, incident_number, report_entry) VALUES ($1, $2, $3)`,
			event, number, entryID,
		)
		if err != nil {
			return fmt.Errorf("failed to link report entry: %w", err)
		}
	}

	return nil
}

// queryStrings runs a query returning one string column.
func queryStrings(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = rows.Close()
	}()

	out := []string{}

	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}

		out = append(out, value)
	}

	return out, rows.Err()
}

// queryEntries runs a query returning journal entry columns in
// (author, text, created, generated) order.
func queryEntries(ctx context.Context, q queryer, query string, args ...any) ([]ims.ReportEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = rows.Close()
	}()

	var out []ims.ReportEntry

	for rows.Next() {
		var entry ims.ReportEntry
		if err := rows.Scan(&entry.Author, &entry.Text, &entry.Created, &entry.Generated); err != nil {
			return nil, err
		}

		entry.Created = entry.Created.UTC()
		out = append(out, entry)
	}

	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}

	value := int(v.Int64)

	return &value
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}
