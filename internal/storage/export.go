package storage

import (
	"context"
	"fmt"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// The portable export document. One document captures the full logical
// state of a store; importing it into an empty store of the other backend
// yields the same document on re-export, modulo canonical ordering.
type (
	// ExportDocument is the top-level export structure.
	ExportDocument struct {
		IncidentTypes []ExportIncidentType `json:"incident_types"` //nolint:tagliatelle
		Events        []ExportEvent        `json:"events"`
	}

	// ExportIncidentType is one catalog entry.
	ExportIncidentType struct {
		Name   string `json:"name"`
		Hidden bool   `json:"hidden"`
	}

	// ExportAccess carries an event's three ACL expression lists.
	ExportAccess struct {
		Readers   []string `json:"readers"`
		Writers   []string `json:"writers"`
		Reporters []string `json:"reporters"`
	}

	// ExportEvent is one event with everything it owns. Field reports keep
	// the historic "incident_reports" wire key.
	ExportEvent struct {
		Event             string                `json:"event"`
		Access            ExportAccess          `json:"access"`
		ConcentricStreets map[string]string     `json:"concentric_streets"` //nolint:tagliatelle
		Incidents         []ims.IncidentJSON    `json:"incidents"`
		FieldReports      []ims.FieldReportJSON `json:"incident_reports"` //nolint:tagliatelle
	}
)

// exportDocument snapshots the store into a document. Reads happen
// per-collection, so callers wanting a perfectly consistent snapshot
// quiesce writers first.
func exportDocument(ctx context.Context, s Store) (*ExportDocument, error) {
	types, err := s.IncidentTypes(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("export incident types: %w", err)
	}

	doc := &ExportDocument{
		IncidentTypes: make([]ExportIncidentType, 0, len(types)),
		Events:        []ExportEvent{},
	}

	for _, t := range types {
		doc.IncidentTypes = append(doc.IncidentTypes, ExportIncidentType{Name: t.Name, Hidden: t.Hidden})
	}

	events, err := s.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("export events: %w", err)
	}

	for _, event := range events {
		exported, err := exportEvent(ctx, s, event.ID)
		if err != nil {
			return nil, err
		}

		doc.Events = append(doc.Events, exported)
	}

	return doc, nil
}

func exportEvent(ctx context.Context, s Store, eventID string) (ExportEvent, error) {
	out := ExportEvent{Event: eventID}

	var err error

	if out.Access.Readers, err = s.Readers(ctx, eventID); err != nil {
		return out, fmt.Errorf("export readers for %q: %w", eventID, err)
	}

	if out.Access.Writers, err = s.Writers(ctx, eventID); err != nil {
		return out, fmt.Errorf("export writers for %q: %w", eventID, err)
	}

	if out.Access.Reporters, err = s.Reporters(ctx, eventID); err != nil {
		return out, fmt.Errorf("export reporters for %q: %w", eventID, err)
	}

	if out.ConcentricStreets, err = s.ConcentricStreets(ctx, eventID); err != nil {
		return out, fmt.Errorf("export streets for %q: %w", eventID, err)
	}

	incidents, err := s.Incidents(ctx, eventID)
	if err != nil {
		return out, fmt.Errorf("export incidents for %q: %w", eventID, err)
	}

	out.Incidents = make([]ims.IncidentJSON, 0, len(incidents))
	for _, incident := range incidents {
		out.Incidents = append(out.Incidents, incident.ToJSON())
	}

	reports, err := s.FieldReports(ctx, eventID)
	if err != nil {
		return out, fmt.Errorf("export field reports for %q: %w", eventID, err)
	}

	out.FieldReports = make([]ims.FieldReportJSON, 0, len(reports))
	for _, report := range reports {
		out.FieldReports = append(out.FieldReports, report.ToJSON())
	}

	return out, nil
}

// importDocument restores a document into an empty store. Collisions with
// existing numbers surface as ErrDuplicate errors.
func importDocument(ctx context.Context, s Store, doc *ExportDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: import document is nil", ims.ErrValidation)
	}

	var hidden, visible []string

	for _, t := range doc.IncidentTypes {
		if err := s.CreateIncidentType(ctx, t.Name, t.Hidden); err != nil {
			return fmt.Errorf("import incident type %q: %w", t.Name, err)
		}

		if t.Hidden {
			hidden = append(hidden, t.Name)
		} else {
			visible = append(visible, t.Name)
		}
	}

	// Force the flags: pre-seeded catalog entries keep their stored flag
	// through CreateIncidentType, and the document wins on import.
	if len(hidden) > 0 {
		if err := s.HideIncidentTypes(ctx, hidden); err != nil {
			return fmt.Errorf("import hidden incident types: %w", err)
		}
	}

	if len(visible) > 0 {
		if err := s.ShowIncidentTypes(ctx, visible); err != nil {
			return fmt.Errorf("import visible incident types: %w", err)
		}
	}

	for _, event := range doc.Events {
		if err := importEvent(ctx, s, event); err != nil {
			return err
		}
	}

	return nil
}

func importEvent(ctx context.Context, s Store, event ExportEvent) error {
	if err := s.CreateEvent(ctx, ims.Event{ID: event.Event}); err != nil {
		return fmt.Errorf("import event %q: %w", event.Event, err)
	}

	if err := s.SetReaders(ctx, event.Event, event.Access.Readers); err != nil {
		return fmt.Errorf("import readers for %q: %w", event.Event, err)
	}

	if err := s.SetWriters(ctx, event.Event, event.Access.Writers); err != nil {
		return fmt.Errorf("import writers for %q: %w", event.Event, err)
	}

	if err := s.SetReporters(ctx, event.Event, event.Access.Reporters); err != nil {
		return fmt.Errorf("import reporters for %q: %w", event.Event, err)
	}

	for id, name := range event.ConcentricStreets {
		if err := s.CreateConcentricStreet(ctx, event.Event, id, name); err != nil {
			return fmt.Errorf("import street %q for %q: %w", id, event.Event, err)
		}
	}

	for _, in := range event.Incidents {
		incident := ims.IncidentFromJSON(in)
		incident.Event = event.Event // The envelope wins over the object's own key

		if err := s.ImportIncident(ctx, incident); err != nil {
			return fmt.Errorf("import incident %s#%d: %w", event.Event, in.Number, err)
		}
	}

	for _, in := range event.FieldReports {
		report := ims.FieldReportFromJSON(in)
		report.Event = event.Event

		if err := s.ImportFieldReport(ctx, report); err != nil {
			return fmt.Errorf("import field report %s#%d: %w", event.Event, in.Number, err)
		}
	}

	return nil
}
