package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// FieldReports implements FieldReportStore.
func (s *PostgresStore) FieldReports(ctx context.Context, event string) ([]ims.FieldReport, error) {
	if err := requireEvent(ctx, s.conn, event); err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT number, created, summary FROM field_report WHERE event = $1 ORDER BY number`,
		event,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query field reports for %q: %w", event, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var reports []ims.FieldReport

	for rows.Next() {
		report, err := scanFieldReport(rows, event)
		if err != nil {
			return nil, err
		}

		reports = append(reports, report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate field reports: %w", err)
	}

	entries, err := s.fieldReportEntriesByNumber(ctx, event)
	if err != nil {
		return nil, err
	}

	attachments, err := s.fieldReportAttachments(ctx, event)
	if err != nil {
		return nil, err
	}

	for i := range reports {
		number := reports[i].Number
		reports[i].ReportEntries = entries[number]
		reports[i].Incident = attachments[number]
	}

	return reports, nil
}

// FieldReportWithNumber implements FieldReportStore.
func (s *PostgresStore) FieldReportWithNumber(ctx context.Context, event string, number int) (ims.FieldReport, error) {
	if err := requireEvent(ctx, s.conn, event); err != nil {
		return ims.FieldReport{}, err
	}

	row := s.conn.QueryRowContext(ctx,
		`SELECT number, created, summary FROM field_report WHERE event = $1 AND number = $2`,
		event, number,
	)

	report, err := scanFieldReport(row, event)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ims.FieldReport{}, fmt.Errorf("%w: %s#%d", ErrNoSuchFieldReport, event, number)
		}

		return ims.FieldReport{}, err
	}

	report.ReportEntries, err = queryEntries(ctx, s.conn,
		`SELECT re.author, re.text, re.created, re.generated
		 FROM field_report__report_entry link
		 JOIN report_entry re ON re.id = link.report_entry
		 WHERE link.event = $1 AND link.field_report_number = $2
		 ORDER BY re.created, re.id`,
		event, number,
	)
	if err != nil {
		return ims.FieldReport{}, fmt.Errorf("failed to load field report journal: %w", err)
	}

	report.Incident, err = attachedIncident(ctx, s.conn, event, number)
	if err != nil {
		return ims.FieldReport{}, err
	}

	return report, nil
}

// CreateFieldReport implements FieldReportStore.
func (s *PostgresStore) CreateFieldReport(
	ctx context.Context,
	report ims.FieldReport,
	author string,
) (ims.FieldReport, error) {
	if author == "" {
		return ims.FieldReport{}, fmt.Errorf("%w: mutation author is required", ims.ErrValidation)
	}

	report = prepareNewFieldReport(report, author, time.Now().UTC())
	report.Incident = 0 // Reports are born unattached

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return ims.FieldReport{}, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if err := lockEvent(ctx, tx, report.Event); err != nil {
		return ims.FieldReport{}, err
	}

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM field_report WHERE event = $1`,
		report.Event,
	).Scan(&report.Number)
	if err != nil {
		return ims.FieldReport{}, fmt.Errorf("failed to allocate field report number: %w", err)
	}

	if err := report.Validate(); err != nil {
		return ims.FieldReport{}, err
	}

	if err := insertFieldReportRow(ctx, tx, report); err != nil {
		return ims.FieldReport{}, err
	}

	if err := insertFieldReportEntries(ctx, tx, report.Event, report.Number, report.ReportEntries); err != nil {
		return ims.FieldReport{}, err
	}

	if err := tx.Commit(); err != nil {
		return ims.FieldReport{}, fmt.Errorf("failed to commit field report create: %w", err)
	}

	s.logger.Info("Created field report", "event_id", report.Event, "field_report_number", report.Number)
	s.observers.notify(WriteEvent{Class: WriteClassFieldReport, Event: report.Event, Number: report.Number})

	return report, nil
}

// ImportFieldReport implements FieldReportStore.
func (s *PostgresStore) ImportFieldReport(ctx context.Context, report ims.FieldReport) error {
	report.Created = report.Created.UTC()

	if err := report.Validate(); err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if err := lockEvent(ctx, tx, report.Event); err != nil {
		return err
	}

	var exists bool

	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM field_report WHERE event = $1 AND number = $2)`,
		report.Event, report.Number,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check field report number: %w", err)
	}

	if exists {
		return fmt.Errorf("%w: %s#%d", ErrDuplicateFieldReportNumber, report.Event, report.Number)
	}

	if report.Attached() {
		if err := requireIncident(ctx, tx, report.Event, report.Incident); err != nil {
			return err
		}
	}

	if err := insertFieldReportRow(ctx, tx, report); err != nil {
		return err
	}

	if err := insertFieldReportEntries(ctx, tx, report.Event, report.Number, report.ReportEntries); err != nil {
		return err
	}

	if report.Attached() {
		if err := insertAttachment(ctx, tx, report.Event, report.Number, report.Incident); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit field report import: %w", err)
	}

	return nil
}

// UpdateFieldReport implements FieldReportStore.
func (s *PostgresStore) UpdateFieldReport(
	ctx context.Context,
	event string,
	number int,
	changes FieldReportChanges,
	author string,
) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	report, err := lockFieldReport(ctx, tx, event, number)
	if err != nil {
		return err
	}

	appended, err := applyFieldReportChanges(&report, changes, author, time.Now().UTC())
	if err != nil {
		return err
	}

	if changes.Summary != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE field_report SET summary = $3 WHERE event = $1 AND number = $2`,
			event, number, nullString(report.Summary),
		)
		if err != nil {
			return fmt.Errorf("failed to update field report %s#%d: %w", event, number, err)
		}
	}

	if err := insertFieldReportEntries(ctx, tx, event, number, appended); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit field report update: %w", err)
	}

	s.observers.notify(WriteEvent{Class: WriteClassFieldReport, Event: event, Number: number})

	return nil
}

// AddReportEntriesToFieldReport implements FieldReportStore.
func (s *PostgresStore) AddReportEntriesToFieldReport(
	ctx context.Context,
	event string,
	number int,
	entries []ims.ReportEntry,
	author string,
) error {
	return s.UpdateFieldReport(ctx, event, number, FieldReportChanges{ReportEntries: entries}, author)
}

// AttachFieldReportToIncident implements FieldReportStore. Attaching
// replaces any existing attachment, since a field report belongs to at
// most one incident.
func (s *PostgresStore) AttachFieldReportToIncident(
	ctx context.Context,
	event string,
	number, incidentNumber int,
	author string,
) error {
	if author == "" {
		return fmt.Errorf("%w: mutation author is required", ims.ErrValidation)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if _, err := lockFieldReport(ctx, tx, event, number); err != nil {
		return err
	}

	if err := requireIncident(ctx, tx, event, incidentNumber); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM incident__field_report WHERE event = $1 AND field_report_number = $2`,
		event, number,
	)
	if err != nil {
		return fmt.Errorf("failed to clear previous attachment: %w", err)
	}

	if err := insertAttachment(ctx, tx, event, number, incidentNumber); err != nil {
		return err
	}

	entry := changedEntry(author, fieldAttachedIncident, strconv.Itoa(incidentNumber), time.Now().UTC())
	if err := insertFieldReportEntries(ctx, tx, event, number, []ims.ReportEntry{entry}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attachment: %w", err)
	}

	s.observers.notify(
		WriteEvent{Class: WriteClassFieldReport, Event: event, Number: number},
		WriteEvent{Class: WriteClassIncident, Event: event, Number: incidentNumber},
	)

	return nil
}

// DetachFieldReportFromIncident implements FieldReportStore. Detaching an
// unattached report is a no-op.
func (s *PostgresStore) DetachFieldReportFromIncident(
	ctx context.Context,
	event string,
	number int,
	author string,
) error {
	if author == "" {
		return fmt.Errorf("%w: mutation author is required", ims.ErrValidation)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if _, err := lockFieldReport(ctx, tx, event, number); err != nil {
		return err
	}

	previous, err := attachedIncident(ctx, tx, event, number)
	if err != nil {
		return err
	}

	if previous == 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM incident__field_report WHERE event = $1 AND field_report_number = $2`,
		event, number,
	)
	if err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}

	entry := changedEntry(author, fieldAttachedIncident, "", time.Now().UTC())
	if err := insertFieldReportEntries(ctx, tx, event, number, []ims.ReportEntry{entry}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit detachment: %w", err)
	}

	s.observers.notify(
		WriteEvent{Class: WriteClassFieldReport, Event: event, Number: number},
		WriteEvent{Class: WriteClassIncident, Event: event, Number: previous},
	)

	return nil
}

// IncidentsAttachedToFieldReport implements FieldReportStore.
func (s *PostgresStore) IncidentsAttachedToFieldReport(
	ctx context.Context,
	event string,
	number int,
) ([]IncidentRef, error) {
	if err := requireEvent(ctx, s.conn, event); err != nil {
		return nil, err
	}

	var reportExists bool

	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM field_report WHERE event = $1 AND number = $2)`,
		event, number,
	).Scan(&reportExists)
	if err != nil {
		return nil, fmt.Errorf("failed to check field report: %w", err)
	}

	if !reportExists {
		return nil, fmt.Errorf("%w: %s#%d", ErrNoSuchFieldReport, event, number)
	}

	incidentNumber, err := attachedIncident(ctx, s.conn, event, number)
	if err != nil {
		return nil, err
	}

	if incidentNumber == 0 {
		return []IncidentRef{}, nil
	}

	return []IncidentRef{{Event: event, Number: incidentNumber}}, nil
}

func scanFieldReport(row interface{ Scan(...any) error }, event string) (ims.FieldReport, error) {
	var (
		report  ims.FieldReport
		created time.Time
		summary sql.NullString
	)

	err := row.Scan(&report.Number, &created, &summary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ims.FieldReport{}, err
		}

		return ims.FieldReport{}, fmt.Errorf("failed to scan field report: %w", err)
	}

	report.Event = event
	report.Created = created.UTC()
	report.Summary = summary.String

	return report, nil
}

// lockFieldReport loads and locks a field report row for update, mapping
// a missing row to ErrNoSuchFieldReport (or ErrNoSuchEvent when the whole
// event is unknown).
func lockFieldReport(ctx context.Context, tx *sql.Tx, event string, number int) (ims.FieldReport, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT number, created, summary FROM field_report
		 WHERE event = $1 AND number = $2 FOR UPDATE`,
		event, number,
	)

	report, err := scanFieldReport(row, event)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if eventErr := requireEvent(ctx, tx, event); eventErr != nil {
				return ims.FieldReport{}, eventErr
			}

			return ims.FieldReport{}, fmt.Errorf("%w: %s#%d", ErrNoSuchFieldReport, event, number)
		}

		return ims.FieldReport{}, err
	}

	return report, nil
}

func requireIncident(ctx context.Context, q queryer, event string, number int) error {
	var exists bool

	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM incident WHERE event = $1 AND number = $2)`,
		event, number,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check incident: %w", err)
	}

	if !exists {
		return fmt.Errorf("%w: %s#%d", ErrNoSuchIncident, event, number)
	}

	return nil
}

// attachedIncident returns the attached incident number, or 0 when the
// report is unattached.
func attachedIncident(ctx context.Context, q queryer, event string, number int) (int, error) {
	var incidentNumber int

	err := q.QueryRowContext(ctx,
		`SELECT incident_number FROM incident__field_report
		 WHERE event = $1 AND field_report_number = $2`,
		event, number,
	).Scan(&incidentNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to query attachment: %w", err)
	}

	return incidentNumber, nil
}

func (s *PostgresStore) fieldReportAttachments(ctx context.Context, event string) (map[int]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT field_report_number, incident_number FROM incident__field_report WHERE event = $1`,
		event,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	out := make(map[int]int)

	for rows.Next() {
		var reportNumber, incidentNumber int

		if err := rows.Scan(&reportNumber, &incidentNumber); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}

		out[reportNumber] = incidentNumber
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachments: %w", err)
	}

	return out, nil
}

func (s *PostgresStore) fieldReportEntriesByNumber(ctx context.Context, event string) (map[int][]ims.ReportEntry, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT link.field_report_number, re.author, re.text, re.created, re.generated
		 FROM field_report__report_entry link
		 JOIN report_entry re ON re.id = link.report_entry
		 WHERE link.event = $1 ORDER BY re.created, re.id`,
		event,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query field report journals: %w", err)
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

func insertFieldReportRow(ctx context.Context, tx *sql.Tx, report ims.FieldReport) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO field_report (event, number, created, summary) VALUES ($1, $2, $3, $4)`,
		report.Event, report.Number, report.Created, nullString(report.Summary),
	)
	if err != nil {
		return fmt.Errorf("failed to insert field report %s#%d: %w", report.Event, report.Number, err)
	}

	return nil
}

func insertAttachment(ctx context.Context, tx *sql.Tx, event string, reportNumber, incidentNumber int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO incident__field_report (event, incident_number, field_report_number)
		 VALUES ($1, $2, $3)`,
		event, incidentNumber, reportNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}

	return nil
}

// insertFieldReportEntries appends journal rows and links them to the report.
func insertFieldReportEntries(ctx context.Context, tx *sql.Tx, event string, number int, entries []ims.ReportEntry) error {
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
			`INSERT INTO field_report__report_entry (event, field_report_number, report_entry)
			 VALUES ($1, $2, $3)`,
			event, number, entryID,
		)
		if err != nil {
			return fmt.Errorf("failed to link report entry: %w", err)
		}
	}

	return nil
}
