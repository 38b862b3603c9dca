// Package storage provides the transactional data store for the Incident
// Management System: the Store interface, an in-memory implementation for
// tests and demo deployments, and a production PostgreSQL implementation.
//
// Every mutation is atomic, writes the automatic journal entries that
// describe it, and reports a committed write to the configured
// WriteObserver so the notification bus can fan it out.
package storage

import (
	"context"
	"errors"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// Sentinel errors for store operations. Callers classify with errors.Is.
var (
	// ErrNoSuchEvent is returned when an operation references an unknown event.
	ErrNoSuchEvent = errors.New("no such event")

	// ErrNoSuchIncident is returned when an operation references an unknown incident number.
	ErrNoSuchIncident = errors.New("no such incident")

	// ErrNoSuchFieldReport is returned when an operation references an unknown field report number.
	ErrNoSuchFieldReport = errors.New("no such field report")

	// ErrNoSuchIncidentType is returned when show/hide references an unknown incident type.
	ErrNoSuchIncidentType = errors.New("no such incident type")

	// ErrNoSuchConcentricStreet is returned when an incident references a street
	// that is not in the event's dictionary.
	ErrNoSuchConcentricStreet = errors.New("no such concentric street")

	// ErrDuplicateIncidentNumber is returned when an import collides with an
	// existing incident number.
	ErrDuplicateIncidentNumber = errors.New("incident number already in use")

	// ErrDuplicateFieldReportNumber is returned when an import collides with an
	// existing field report number.
	ErrDuplicateFieldReportNumber = errors.New("field report number already in use")

	// ErrDuplicateConcentricStreet is returned when a street ID already exists
	// for the event.
	ErrDuplicateConcentricStreet = errors.New("concentric street already exists")

	// ErrNoDatabaseConnection is returned when a persistent store is built or
	// used without a live database connection.
	ErrNoDatabaseConnection = errors.New("no database connection")
)

type (
	// Store is the full transactional store contract. Both MemoryStore and
	// PostgresStore implement it.
	Store interface {
		EventStore
		IncidentTypeStore
		AccessStore
		StreetStore
		IncidentStore
		FieldReportStore
		Exporter

		// HealthCheck verifies the backing storage is reachable.
		HealthCheck(ctx context.Context) error

		// Close releases backing resources. Safe to call more than once.
		Close() error
	}

	// EventStore manages the event namespace.
	EventStore interface {
		// Events returns all events, ordered by ID.
		Events(ctx context.Context) ([]ims.Event, error)

		// CreateEvent adds an event. Creating an existing event is a no-op.
		CreateEvent(ctx context.Context, event ims.Event) error
	}

	// IncidentTypeStore manages the process-wide incident type catalog.
	IncidentTypeStore interface {
		// IncidentTypes returns the catalog ordered by name, including hidden
		// entries only when includeHidden is set.
		IncidentTypes(ctx context.Context, includeHidden bool) ([]ims.IncidentType, error)

		// CreateIncidentType adds a catalog entry. Creation is idempotent; an
		// existing entry keeps its current hidden flag.
		CreateIncidentType(ctx context.Context, name string, hidden bool) error

		// ShowIncidentTypes clears the hidden flag on the named entries.
		ShowIncidentTypes(ctx context.Context, names []string) error

		// HideIncidentTypes sets the hidden flag on the named entries.
		HideIncidentTypes(ctx context.Context, names []string) error
	}

	// AccessStore manages the per-event ACL expression lists.
	AccessStore interface {
		Readers(ctx context.Context, event string) ([]string, error)
		Writers(ctx context.Context, event string) ([]string, error)
		Reporters(ctx context.Context, event string) ([]string, error)

		// SetReaders replaces the readers ACL. Duplicates are collapsed.
		SetReaders(ctx context.Context, event string, expressions []string) error

		// SetWriters replaces the writers ACL. Duplicates are collapsed.
		SetWriters(ctx context.Context, event string, expressions []string) error

		// SetReporters replaces the reporters ACL. Duplicates are collapsed.
		SetReporters(ctx context.Context, event string, expressions []string) error
	}

	// StreetStore manages per-event concentric street dictionaries. Streets
	// are add-only; no deletion exists at any layer.
	StreetStore interface {
		// ConcentricStreets returns the event's street dictionary (ID to name).
		ConcentricStreets(ctx context.Context, event string) (map[string]string, error)

		// CreateConcentricStreet adds a street to the event's dictionary.
		CreateConcentricStreet(ctx context.Context, event, id, name string) error
	}

	// IncidentStore manages incidents and their journals.
	IncidentStore interface {
		// Incidents returns all of the event's incidents ordered by number.
		Incidents(ctx context.Context, event string) ([]ims.Incident, error)

		// IncidentWithNumber returns one incident.
		IncidentWithNumber(ctx context.Context, event string, number int) (ims.Incident, error)

		// CreateIncident stores a new incident, allocating the next number in
		// the event. Initial non-default attribute values are journaled as
		// automatic entries attributed to author. Returns the stored incident.
		CreateIncident(ctx context.Context, incident ims.Incident, author string) (ims.Incident, error)

		// ImportIncident stores an incident honoring its provided number, for
		// bulk import. No journaling occurs; the journal comes with the
		// incident. Returns ErrDuplicateIncidentNumber on collision.
		ImportIncident(ctx context.Context, incident ims.Incident) error

		// UpdateIncident applies every change in changes inside a single
		// transaction, appending one automatic journal entry per changed
		// field plus any report entries carried by changes.
		UpdateIncident(ctx context.Context, event string, number int, changes IncidentChanges, author string) error

		// AddReportEntriesToIncident appends user report entries to the
		// incident's journal, attributed to author.
		AddReportEntriesToIncident(ctx context.Context, event string, number int, entries []ims.ReportEntry, author string) error
	}

	// FieldReportStore manages field reports, their journals, and their
	// attachment to incidents.
	FieldReportStore interface {
		// FieldReports returns all of the event's field reports ordered by number.
		FieldReports(ctx context.Context, event string) ([]ims.FieldReport, error)

		// FieldReportWithNumber returns one field report.
		FieldReportWithNumber(ctx context.Context, event string, number int) (ims.FieldReport, error)

		// CreateFieldReport stores a new field report, allocating the next
		// number in the event. Returns the stored report.
		CreateFieldReport(ctx context.Context, report ims.FieldReport, author string) (ims.FieldReport, error)

		// ImportFieldReport stores a field report honoring its provided
		// number, for bulk import. No journaling occurs.
		ImportFieldReport(ctx context.Context, report ims.FieldReport) error

		// UpdateFieldReport applies changes in a single transaction.
		UpdateFieldReport(ctx context.Context, event string, number int, changes FieldReportChanges, author string) error

		// AddReportEntriesToFieldReport appends user report entries to the
		// field report's journal, attributed to author.
		AddReportEntriesToFieldReport(ctx context.Context, event string, number int, entries []ims.ReportEntry, author string) error

		// AttachFieldReportToIncident attaches the field report to an incident
		// in the same event, replacing any existing attachment.
		AttachFieldReportToIncident(ctx context.Context, event string, number, incidentNumber int, author string) error

		// DetachFieldReportFromIncident detaches the field report.
		DetachFieldReportFromIncident(ctx context.Context, event string, number int, author string) error

		// IncidentsAttachedToFieldReport returns the incidents the field
		// report is attached to. At most one today; a set shape is kept for
		// forward compatibility.
		IncidentsAttachedToFieldReport(ctx context.Context, event string, number int) ([]IncidentRef, error)
	}

	// Exporter serializes the full logical store state into a portable
	// document, and restores such a document into an empty store.
	Exporter interface {
		Export(ctx context.Context) (*ExportDocument, error)
		Import(ctx context.Context, doc *ExportDocument) error
	}

	// IncidentRef identifies an incident by (event, number). Incidents and
	// field reports reference each other by ref, never by pointer.
	IncidentRef struct {
		Event  string
		Number int
	}

	// IncidentChanges describes a partial incident update. Nil fields are
	// untouched. Slices replace the stored set wholesale; ReportEntries are
	// appended to the journal.
	IncidentChanges struct {
		Priority *ims.IncidentPriority
		State    *ims.IncidentState
		Summary  *string

		LocationName         *string
		LocationConcentric   *string
		LocationRadialHour   *OptionalInt
		LocationRadialMinute *OptionalInt
		LocationDescription  *string

		RangerHandles *[]string
		IncidentTypes *[]string

		ReportEntries []ims.ReportEntry
	}

	// FieldReportChanges describes a partial field report update.
	FieldReportChanges struct {
		Summary *string

		ReportEntries []ims.ReportEntry
	}

	// OptionalInt wraps a clearable integer change: a nil Value clears the
	// stored value, a non-nil Value sets it.
	OptionalInt struct {
		Value *int
	}
)

// IsEmpty reports whether the change set would touch nothing.
func (c IncidentChanges) IsEmpty() bool {
	return c.Priority == nil &&
		c.State == nil &&
		c.Summary == nil &&
		c.LocationName == nil &&
		c.LocationConcentric == nil &&
		c.LocationRadialHour == nil &&
		c.LocationRadialMinute == nil &&
		c.LocationDescription == nil &&
		c.RangerHandles == nil &&
		c.IncidentTypes == nil &&
		len(c.ReportEntries) == 0
}

// IsEmpty reports whether the change set would touch nothing.
func (c FieldReportChanges) IsEmpty() bool {
	return c.Summary == nil && len(c.ReportEntries) == 0
}

// The per-field setter family. Each helper applies exactly one field change
// through UpdateIncident, so the journaling and version guarantees hold
// uniformly no matter how a caller reaches the store.

// SetIncidentPriority sets the incident's priority.
func SetIncidentPriority(
	ctx context.Context,
	store IncidentStore,
	event string,
	number int,
	priority ims.IncidentPriority,
	author string,
) error {
	return store.UpdateIncident(ctx, event, number, IncidentChanges{Priority: &priority}, author)
}

// SetIncidentState sets the incident's lifecycle state.
func SetIncidentState(
	ctx context.Context,
	store IncidentStore,
	event string,
	number int,
	state ims.IncidentState,
	author string,
) error {
	return store.UpdateIncident(ctx, event, number, IncidentChanges{State: &state}, author)
}

// SetIncidentSummary sets the incident's summary line.
func SetIncidentSummary(
	ctx context.Context,
	store IncidentStore,
	event string,
	number int,
	summary string,
	author string,
) error {
	return store.UpdateIncident(ctx, event, number, IncidentChanges{Summary: &summary}, author)
}

// SetIncidentLocationName sets the location's name.
func SetIncidentLocationName(
	ctx context.Context,
	store IncidentStore,
	event string,
	number int,
	name string,
	author string,
) error {
	return store.UpdateIncident(ctx, event, number, IncidentChanges{LocationName: &name}, author)
}

// SetIncidentLocationConcentricStreet sets the location's concentric street ID.
func SetIncidentLocationConcentricStreet(
	ctx context.Context,
	store IncidentStore,
	event string,
	number int,
	street string,
	author string,
) error {
	return store.UpdateIncident(ctx, event, number, IncidentChanges{LocationConcentric: &street}, author)
}

// SetIncidentLocationRadialHour sets or clears the location's radial hour.
func SetIncidentLocationRadialHour(
	ctx context.Context,
	store IncidentStore,
	event string,
	number int,
	hour *int,
	author string,
) error {
	return store.UpdateIncident(
		ctx, event, number, IncidentChanges{LocationRadialHour: &OptionalInt{Value: hour}}, author,
	)
}

// SetIncidentLocationRadialMinute sets or clears the location's radial minute.
func SetIncidentLocationRadialMinute(
	ctx context.Context,
	store IncidentStore,
	event string,
	number int,
	minute *int,
	author string,
) error {
	return store.UpdateIncident(
		ctx, event, number, IncidentChanges{LocationRadialMinute: &OptionalInt{Value: minute}}, author,
	)
}

// SetIncidentLocationDescription sets the location's free-form description.
func SetIncidentLocationDescription(
	ctx context.Context,
	store IncidentStore,
	event string,
	number int,
	description string,
	author string,
) error {
	return store.UpdateIncident(ctx, event, number, IncidentChanges{LocationDescription: &description}, author)
}

// SetIncidentRangers replaces the incident's assigned Ranger handles.
func SetIncidentRangers(
	ctx context.Context,
	store IncidentStore,
	event string,
	number int,
	handles []string,
	author string,
) error {
	return store.UpdateIncident(ctx, event, number, IncidentChanges{RangerHandles: &handles}, author)
}

// SetIncidentIncidentTypes replaces the incident's assigned incident types.
func SetIncidentIncidentTypes(
	ctx context.Context,
	store IncidentStore,
	event string,
	number int,
	types []string,
	author string,
) error {
	return store.UpdateIncident(ctx, event, number, IncidentChanges{IncidentTypes: &types}, author)
}

// SetFieldReportSummary sets the field report's summary line.
func SetFieldReportSummary(
	ctx context.Context,
	store FieldReportStore,
	event string,
	number int,
	summary string,
	author string,
) error {
	return store.UpdateFieldReport(ctx, event, number, FieldReportChanges{Summary: &summary}, author)
}
