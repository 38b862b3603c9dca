package storage

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// Compile-time interface verification.
var _ Store = (*MemoryStore)(nil)

type (
	// MemoryStore is a mutex-guarded in-memory Store. It backs unit tests
	// and single-process demo deployments; nothing survives a restart.
	MemoryStore struct {
		logger    *slog.Logger
		mutex     sync.RWMutex
		observers observerList
		events    map[string]*memoryEvent
		types     map[string]*ims.IncidentType
	}

	// memoryEvent holds everything owned by one event.
	memoryEvent struct {
		access       map[ims.AccessMode][]string
		streets      map[string]string
		incidents    map[int]*ims.Incident
		fieldReports map[int]*ims.FieldReport

		// Allocation high-water marks. Numbers are never reused, so these
		// only move up, even when imports supply their own numbers.
		maxIncident    int
		maxFieldReport int
	}
)

// NewMemoryStore creates an empty in-memory store with the system incident
// types pre-seeded, matching what migrations seed for the postgres store.
func NewMemoryStore() *MemoryStore {
	store := &MemoryStore{
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("IMS_LOG_LEVEL", slog.LevelInfo),
		})).With("component", "memory_store"),
		events: make(map[string]*memoryEvent),
		types:  make(map[string]*ims.IncidentType),
	}

	for _, name := range []string{ims.IncidentTypeAdmin, ims.IncidentTypeJunk} {
		store.types[name] = &ims.IncidentType{Name: name, Hidden: true}
	}

	return store
}

// AddObserver registers a committed-write observer. Not safe to call
// concurrently with mutations; register observers before serving traffic.
func (s *MemoryStore) AddObserver(observer WriteObserver) {
	s.observers = append(s.observers, observer)
}

// HealthCheck implements Store. The memory store is always healthy.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Events implements EventStore.
func (s *MemoryStore) Events(_ context.Context) ([]ims.Event, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := slices.Sorted(maps.Keys(s.events))

	events := make([]ims.Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, ims.Event{ID: id})
	}

	return events, nil
}

// CreateEvent implements EventStore.
func (s *MemoryStore) CreateEvent(_ context.Context, event ims.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return nil
	}

	s.events[event.ID] = newMemoryEvent()
	s.logger.Info("Created event", "event_id", event.ID)

	return nil
}

func newMemoryEvent() *memoryEvent {
	return &memoryEvent{
		access: map[ims.AccessMode][]string{
			ims.AccessModeRead:   {},
			ims.AccessModeWrite:  {},
			ims.AccessModeReport: {},
		},
		streets:      make(map[string]string),
		incidents:    make(map[int]*ims.Incident),
		fieldReports: make(map[int]*ims.FieldReport),
	}
}

// IncidentTypes implements IncidentTypeStore.
func (s *MemoryStore) IncidentTypes(_ context.Context, includeHidden bool) ([]ims.IncidentType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := slices.Sorted(maps.Keys(s.types))

	types := make([]ims.IncidentType, 0, len(names))

	for _, name := range names {
		t := s.types[name]
		if t.Hidden && !includeHidden {
			continue
		}

		types = append(types, *t)
	}

	return types, nil
}

// CreateIncidentType implements IncidentTypeStore.
func (s *MemoryStore) CreateIncidentType(_ context.Context, name string, hidden bool) error {
	t := ims.IncidentType{Name: name, Hidden: hidden}
	if err := t.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.types[name]; ok {
		return nil
	}

	s.types[name] = &t

	return nil
}

// ShowIncidentTypes implements IncidentTypeStore.
func (s *MemoryStore) ShowIncidentTypes(_ context.Context, names []string) error {
	return s.setTypesHidden(names, false)
}

// HideIncidentTypes implements IncidentTypeStore.
func (s *MemoryStore) HideIncidentTypes(_ context.Context, names []string) error {
	return s.setTypesHidden(names, true)
}

func (s *MemoryStore) setTypesHidden(names []string, hidden bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, name := range names {
		if _, ok := s.types[name]; !ok {
			return fmt.Errorf("%w: %q", ErrNoSuchIncidentType, name)
		}
	}

	for _, name := range names {
		s.types[name].Hidden = hidden
	}

	return nil
}

// Readers implements AccessStore.
func (s *MemoryStore) Readers(_ context.Context, event string) ([]string, error) {
	return s.accessFor(event, ims.AccessModeRead)
}

// Writers implements AccessStore.
func (s *MemoryStore) Writers(_ context.Context, event string) ([]string, error) {
	return s.accessFor(event, ims.AccessModeWrite)
}

// Reporters implements AccessStore.
func (s *MemoryStore) Reporters(_ context.Context, event string) ([]string, error) {
	return s.accessFor(event, ims.AccessModeReport)
}

func (s *MemoryStore) accessFor(event string, mode ims.AccessMode) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	e, ok := s.events[event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchEvent, event)
	}

	return slices.Clone(e.access[mode]), nil
}

// SetReaders implements AccessStore.
func (s *MemoryStore) SetReaders(_ context.Context, event string, expressions []string) error {
	return s.setAccess(event, ims.AccessModeRead, expressions)
}

// SetWriters implements AccessStore.
func (s *MemoryStore) SetWriters(_ context.Context, event string, expressions []string) error {
	return s.setAccess(event, ims.AccessModeWrite, expressions)
}

// SetReporters implements AccessStore.
func (s *MemoryStore) SetReporters(_ context.Context, event string, expressions []string) error {
	return s.setAccess(event, ims.AccessModeReport, expressions)
}

func (s *MemoryStore) setAccess(event string, mode ims.AccessMode, expressions []string) error {
	for _, expression := range expressions {
		if err := ims.ValidateAccessExpression(expression); err != nil {
			return err
		}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.events[event]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchEvent, event)
	}

	e.access[mode] = normalizeSet(expressions)

	return nil
}

// ConcentricStreets implements StreetStore.
func (s *MemoryStore) ConcentricStreets(_ context.Context, event string) (map[string]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	e, ok := s.events[event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchEvent, event)
	}

	return maps.Clone(e.streets), nil
}

// CreateConcentricStreet implements StreetStore.
func (s *MemoryStore) CreateConcentricStreet(_ context.Context, event, id, name string) error {
	if id == "" || name == "" {
		return fmt.Errorf("%w: concentric street requires an ID and a name", ims.ErrValidation)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.events[event]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchEvent, event)
	}

	if _, ok := e.streets[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateConcentricStreet, id)
	}

	e.streets[id] = name

	return nil
}

// Incidents implements IncidentStore.
func (s *MemoryStore) Incidents(_ context.Context, event string) ([]ims.Incident, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	e, ok := s.events[event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchEvent, event)
	}

	numbers := slices.Sorted(maps.Keys(e.incidents))

	incidents := make([]ims.Incident, 0, len(numbers))
	for _, number := range numbers {
		incidents = append(incidents, copyIncident(e.incidents[number]))
	}

	return incidents, nil
}

// IncidentWithNumber implements IncidentStore.
func (s *MemoryStore) IncidentWithNumber(_ context.Context, event string, number int) (ims.Incident, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	incident, err := s.incident(event, number)
	if err != nil {
		return ims.Incident{}, err
	}

	return copyIncident(incident), nil
}

// incident looks up a stored incident. Callers hold the mutex.
func (s *MemoryStore) incident(event string, number int) (*ims.Incident, error) {
	e, ok := s.events[event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchEvent, event)
	}

	incident, ok := e.incidents[number]
	if !ok {
		return nil, fmt.Errorf("%w: %s#%d", ErrNoSuchIncident, event, number)
	}

	return incident, nil
}

// CreateIncident implements IncidentStore.
func (s *MemoryStore) CreateIncident(_ context.Context, incident ims.Incident, author string) (ims.Incident, error) {
	if author == "" {
		return ims.Incident{}, fmt.Errorf("%w: mutation author is required", ims.ErrValidation)
	}

	incident = prepareNewIncident(incident, author, time.Now().UTC())

	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.events[incident.Event]
	if !ok {
		return ims.Incident{}, fmt.Errorf("%w: %q", ErrNoSuchEvent, incident.Event)
	}

	if err := s.checkStreet(e, incident.Location.Concentric); err != nil {
		return ims.Incident{}, err
	}

	if err := s.checkTypes(incident.IncidentTypes); err != nil {
		return ims.Incident{}, err
	}

	incident.Number = e.maxIncident + 1

	if err := incident.Validate(); err != nil {
		return ims.Incident{}, err
	}

	e.maxIncident = incident.Number
	stored := copyIncident(&incident)
	e.incidents[incident.Number] = &stored

	s.logger.Info("Created incident", "event_id", incident.Event, "incident_number", incident.Number)
	s.observers.notify(WriteEvent{Class: WriteClassIncident, Event: incident.Event, Number: incident.Number})

	return copyIncident(&stored), nil
}

// ImportIncident implements IncidentStore.
func (s *MemoryStore) ImportIncident(_ context.Context, incident ims.Incident) error {
	incident.Created = incident.Created.UTC()
	incident.RangerHandles = normalizeSet(incident.RangerHandles)
	incident.IncidentTypes = normalizeSet(incident.IncidentTypes)
	incident.Location.Normalize()
	incident.Version = len(incident.ReportEntries)

	if err := incident.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.events[incident.Event]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchEvent, incident.Event)
	}

	if _, ok := e.incidents[incident.Number]; ok {
		return fmt.Errorf("%w: %s#%d", ErrDuplicateIncidentNumber, incident.Event, incident.Number)
	}

	if err := s.checkStreet(e, incident.Location.Concentric); err != nil {
		return err
	}

	if err := s.checkTypes(incident.IncidentTypes); err != nil {
		return err
	}

	stored := copyIncident(&incident)
	e.incidents[incident.Number] = &stored
	e.maxIncident = max(e.maxIncident, incident.Number)

	return nil
}

// UpdateIncident implements IncidentStore.
func (s *MemoryStore) UpdateIncident(
	_ context.Context,
	event string,
	number int,
	changes IncidentChanges,
	author string,
) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, err := s.incident(event, number)
	if err != nil {
		return err
	}

	updated := copyIncident(stored)
	if _, err := applyIncidentChanges(&updated, changes, author, time.Now().UTC()); err != nil {
		return err
	}

	if changes.LocationConcentric != nil {
		if err := s.checkStreet(s.events[event], updated.Location.Concentric); err != nil {
			return err
		}
	}

	if changes.IncidentTypes != nil {
		if err := s.checkTypes(updated.IncidentTypes); err != nil {
			return err
		}
	}

	*stored = updated

	s.observers.notify(WriteEvent{Class: WriteClassIncident, Event: event, Number: number})

	return nil
}

// AddReportEntriesToIncident implements IncidentStore.
func (s *MemoryStore) AddReportEntriesToIncident(
	ctx context.Context,
	event string,
	number int,
	entries []ims.ReportEntry,
	author string,
) error {
	return s.UpdateIncident(ctx, event, number, IncidentChanges{ReportEntries: entries}, author)
}

func (s *MemoryStore) checkStreet(e *memoryEvent, streetID string) error {
	if streetID == "" {
		return nil
	}

	if _, ok := e.streets[streetID]; !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchConcentricStreet, streetID)
	}

	return nil
}

// checkTypes verifies every assigned incident type exists in the catalog.
func (s *MemoryStore) checkTypes(names []string) error {
	for _, name := range names {
		if _, ok := s.types[name]; !ok {
			return fmt.Errorf("%w: %q", ErrNoSuchIncidentType, name)
		}
	}

	return nil
}

// FieldReports implements FieldReportStore.
func (s *MemoryStore) FieldReports(_ context.Context, event string) ([]ims.FieldReport, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	e, ok := s.events[event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchEvent, event)
	}

	numbers := slices.Sorted(maps.Keys(e.fieldReports))

	reports := make([]ims.FieldReport, 0, len(numbers))
	for _, number := range numbers {
		reports = append(reports, copyFieldReport(e.fieldReports[number]))
	}

	return reports, nil
}

// FieldReportWithNumber implements FieldReportStore.
func (s *MemoryStore) FieldReportWithNumber(_ context.Context, event string, number int) (ims.FieldReport, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	report, err := s.fieldReport(event, number)
	if err != nil {
		return ims.FieldReport{}, err
	}

	return copyFieldReport(report), nil
}

// fieldReport looks up a stored field report. Callers hold the mutex.
func (s *MemoryStore) fieldReport(event string, number int) (*ims.FieldReport, error) {
	e, ok := s.events[event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchEvent, event)
	}

	report, ok := e.fieldReports[number]
	if !ok {
		return nil, fmt.Errorf("%w: %s#%d", ErrNoSuchFieldReport, event, number)
	}

	return report, nil
}

// CreateFieldReport implements FieldReportStore.
func (s *MemoryStore) CreateFieldReport(
	_ context.Context,
	report ims.FieldReport,
	author string,
) (ims.FieldReport, error) {
	if author == "" {
		return ims.FieldReport{}, fmt.Errorf("%w: mutation author is required", ims.ErrValidation)
	}

	report = prepareNewFieldReport(report, author, time.Now().UTC())
	report.Incident = 0 // Reports are born unattached

	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.events[report.Event]
	if !ok {
		return ims.FieldReport{}, fmt.Errorf("%w: %q", ErrNoSuchEvent, report.Event)
	}

	report.Number = e.maxFieldReport + 1

	if err := report.Validate(); err != nil {
		return ims.FieldReport{}, err
	}

	e.maxFieldReport = report.Number
	stored := copyFieldReport(&report)
	e.fieldReports[report.Number] = &stored

	s.logger.Info("Created field report", "event_id", report.Event, "field_report_number", report.Number)
	s.observers.notify(WriteEvent{Class: WriteClassFieldReport, Event: report.Event, Number: report.Number})

	return copyFieldReport(&stored), nil
}

// ImportFieldReport implements FieldReportStore.
func (s *MemoryStore) ImportFieldReport(_ context.Context, report ims.FieldReport) error {
	report.Created = report.Created.UTC()

	if err := report.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.events[report.Event]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchEvent, report.Event)
	}

	if _, ok := e.fieldReports[report.Number]; ok {
		return fmt.Errorf("%w: %s#%d", ErrDuplicateFieldReportNumber, report.Event, report.Number)
	}

	if report.Attached() {
		if _, ok := e.incidents[report.Incident]; !ok {
			return fmt.Errorf("%w: %s#%d", ErrNoSuchIncident, report.Event, report.Incident)
		}
	}

	stored := copyFieldReport(&report)
	e.fieldReports[report.Number] = &stored
	e.maxFieldReport = max(e.maxFieldReport, report.Number)

	return nil
}

// UpdateFieldReport implements FieldReportStore.
func (s *MemoryStore) UpdateFieldReport(
	_ context.Context,
	event string,
	number int,
	changes FieldReportChanges,
	author string,
) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, err := s.fieldReport(event, number)
	if err != nil {
		return err
	}

	updated := copyFieldReport(stored)
	if _, err := applyFieldReportChanges(&updated, changes, author, time.Now().UTC()); err != nil {
		return err
	}

	*stored = updated

	s.observers.notify(WriteEvent{Class: WriteClassFieldReport, Event: event, Number: number})

	return nil
}

// AddReportEntriesToFieldReport implements FieldReportStore.
func (s *MemoryStore) AddReportEntriesToFieldReport(
	ctx context.Context,
	event string,
	number int,
	entries []ims.ReportEntry,
	author string,
) error {
	return s.UpdateFieldReport(ctx, event, number, FieldReportChanges{ReportEntries: entries}, author)
}

// AttachFieldReportToIncident implements FieldReportStore.
func (s *MemoryStore) AttachFieldReportToIncident(
	_ context.Context,
	event string,
	number, incidentNumber int,
	author string,
) error {
	if author == "" {
		return fmt.Errorf("%w: mutation author is required", ims.ErrValidation)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	report, err := s.fieldReport(event, number)
	if err != nil {
		return err
	}

	if _, err := s.incident(event, incidentNumber); err != nil {
		return err
	}

	report.Incident = incidentNumber
	report.ReportEntries = append(
		report.ReportEntries,
		changedEntry(author, fieldAttachedIncident, strconv.Itoa(incidentNumber), time.Now().UTC()),
	)

	s.observers.notify(
		WriteEvent{Class: WriteClassFieldReport, Event: event, Number: number},
		WriteEvent{Class: WriteClassIncident, Event: event, Number: incidentNumber},
	)

	return nil
}

// DetachFieldReportFromIncident implements FieldReportStore.
func (s *MemoryStore) DetachFieldReportFromIncident(
	_ context.Context,
	event string,
	number int,
	author string,
) error {
	if author == "" {
		return fmt.Errorf("%w: mutation author is required", ims.ErrValidation)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	report, err := s.fieldReport(event, number)
	if err != nil {
		return err
	}

	if !report.Attached() {
		return nil
	}

	previous := report.Incident
	report.Incident = 0
	report.ReportEntries = append(
		report.ReportEntries,
		changedEntry(author, fieldAttachedIncident, "", time.Now().UTC()),
	)

	s.observers.notify(
		WriteEvent{Class: WriteClassFieldReport, Event: event, Number: number},
		WriteEvent{Class: WriteClassIncident, Event: event, Number: previous},
	)

	return nil
}

// IncidentsAttachedToFieldReport implements FieldReportStore.
func (s *MemoryStore) IncidentsAttachedToFieldReport(
	_ context.Context,
	event string,
	number int,
) ([]IncidentRef, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	report, err := s.fieldReport(event, number)
	if err != nil {
		return nil, err
	}

	if !report.Attached() {
		return []IncidentRef{}, nil
	}

	return []IncidentRef{{Event: event, Number: report.Incident}}, nil
}

// Export implements Exporter.
func (s *MemoryStore) Export(ctx context.Context) (*ExportDocument, error) {
	return exportDocument(ctx, s)
}

// Import implements Exporter.
func (s *MemoryStore) Import(ctx context.Context, doc *ExportDocument) error {
	return importDocument(ctx, s, doc)
}

// copyIncident deep-copies an incident and orders its journal by entry
// timestamp, with insertion order breaking ties.
func copyIncident(incident *ims.Incident) ims.Incident {
	out := *incident
	out.RangerHandles = slices.Clone(incident.RangerHandles)
	out.IncidentTypes = slices.Clone(incident.IncidentTypes)
	out.Location.RadialHour = copyIntPtr(incident.Location.RadialHour)
	out.Location.RadialMinute = copyIntPtr(incident.Location.RadialMinute)
	out.ReportEntries = copyEntries(incident.ReportEntries)

	return out
}

// copyFieldReport deep-copies a field report, ordering entries like
// copyIncident does.
func copyFieldReport(report *ims.FieldReport) ims.FieldReport {
	out := *report
	out.ReportEntries = copyEntries(report.ReportEntries)

	return out
}

func copyEntries(entries []ims.ReportEntry) []ims.ReportEntry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b ims.ReportEntry) int {
		return a.Created.Compare(b.Created)
	})

	return out
}

func copyIntPtr(v *int) *int {
	if v == nil {
		return nil
	}

	value := *v

	return &value
}
