package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/storage"
)

// incidentEdit accumulates a partial update while the request body is
// decoded key by key.
type incidentEdit struct {
	changes storage.IncidentChanges
	author  string
}

// incidentEditAppliers maps incident JSON keys to decoders that fold the
// key's value into the change set. A key absent from the body leaves the
// stored field untouched; unknown keys are ignored so clients can echo a
// previously fetched incident back with only the fields they changed.
var incidentEditAppliers = map[string]func(*incidentEdit, json.RawMessage) error{
	"priority":       applyPriorityEdit,
	"state":          applyStateEdit,
	"summary":        applySummaryEdit,
	"location":       applyLocationEdit,
	"ranger_handles": applyRangerHandlesEdit,
	"incident_types": applyIncidentTypesEdit,
	"report_entries": applyReportEntriesEdit,
}

// locationEditAppliers handles the keys of the nested location object.
// There is no applier for "type": the address type is recomputed from the
// populated fields on every write.
var locationEditAppliers = map[string]func(*incidentEdit, json.RawMessage) error{
	"name":          applyLocationNameEdit,
	"concentric":    applyLocationConcentricEdit,
	"radial_hour":   applyLocationRadialHourEdit,
	"radial_minute": applyLocationRadialMinuteEdit,
	"description":   applyLocationDescriptionEdit,
}

// handleEditIncident handles POST /ims/api/events/{eventID}/incidents/{number}.
//
// The body is a partial incident object. Fields present are applied, fields
// absent stay as stored, and each applied field journals an automatic
// report entry. The number and created timestamp are immutable; echoing the
// stored values back is tolerated, changing them is a 400.
func (s *Server) handleEditIncident(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	eventID := r.PathValue("eventID")

	number, problem := parseNumber(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if err := s.authority.Require(ctx, user, eventID, auth.AuthorizationWriteIncidents); err != nil {
		s.writeStoreError(w, r, "Incident edit authorization failed", err)

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var body map[string]json.RawMessage

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&body); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	stored, err := s.store.IncidentWithNumber(ctx, eventID, number)
	if err != nil {
		s.writeStoreError(w, r, "Failed to load incident for edit", err)

		return
	}

	if problem := checkImmutableIncidentKeys(body, stored); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	edit := &incidentEdit{author: user.Handle}

	for key, raw := range body {
		applier, ok := incidentEditAppliers[key]
		if !ok {
			continue
		}

		if err := applier(edit, raw); err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest("Invalid incident edit: "+err.Error()))

			return
		}
	}

	if edit.changes.IsEmpty() {
		w.WriteHeader(http.StatusNoContent)

		return
	}

	if err := s.store.UpdateIncident(ctx, eventID, number, edit.changes, user.Handle); err != nil {
		// The incident itself was just loaded, so a missing type or
		// street here is a bad reference in the body, not a bad URL.
		if errors.Is(err, storage.ErrNoSuchIncidentType) || errors.Is(err, storage.ErrNoSuchConcentricStreet) {
			WriteErrorResponse(w, r, s.logger, BadRequest("Invalid incident edit: "+err.Error()))

			return
		}

		s.writeStoreError(w, r, "Failed to update incident", err)

		return
	}

	s.logger.Info("Incident updated",
		slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
		slog.String("event", eventID),
		slog.Int("incident", number),
		slog.String("user", user.Handle),
	)

	w.WriteHeader(http.StatusNoContent)
}

// checkImmutableIncidentKeys rejects edits that would change the incident's
// identity or creation time. Clients routinely post back a whole fetched
// incident, so an exact echo of the stored values is allowed through.
func checkImmutableIncidentKeys(body map[string]json.RawMessage, stored ims.Incident) *ProblemDetail {
	if raw, ok := body["event"]; ok {
		var event string
		if err := json.Unmarshal(raw, &event); err != nil || event != stored.Event {
			return BadRequest("Incident event cannot be changed")
		}
	}

	if raw, ok := body["number"]; ok {
		var number int
		if err := json.Unmarshal(raw, &number); err != nil || number != stored.Number {
			return BadRequest("Incident number cannot be changed")
		}
	}

	if raw, ok := body["created"]; ok {
		var created time.Time
		if err := json.Unmarshal(raw, &created); err != nil || !created.Equal(stored.Created) {
			return BadRequest("Incident created timestamp cannot be changed")
		}
	}

	return nil
}

func applyPriorityEdit(e *incidentEdit, raw json.RawMessage) error {
	var value *int
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("priority: %w", err)
	}

	if value == nil {
		return errors.New("priority cannot be null")
	}

	priority := ims.IncidentPriority(*value)
	e.changes.Priority = &priority

	return nil
}

func applyStateEdit(e *incidentEdit, raw json.RawMessage) error {
	var value *string
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("state: %w", err)
	}

	if value == nil {
		return errors.New("state cannot be null")
	}

	state := ims.IncidentState(*value)
	e.changes.State = &state

	return nil
}

func applySummaryEdit(e *incidentEdit, raw json.RawMessage) error {
	value, err := decodeClearableString(raw, "summary")
	if err != nil {
		return err
	}

	e.changes.Summary = value

	return nil
}

// applyLocationEdit fans the nested location object out to the per-field
// setters. A null location is a no-op, matching an absent key.
func applyLocationEdit(e *incidentEdit, raw json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("location: %w", err)
	}

	for key, value := range fields {
		applier, ok := locationEditAppliers[key]
		if !ok {
			continue
		}

		if err := applier(e, value); err != nil {
			return err
		}
	}

	return nil
}

func applyLocationNameEdit(e *incidentEdit, raw json.RawMessage) error {
	value, err := decodeClearableString(raw, "location name")
	if err != nil {
		return err
	}

	e.changes.LocationName = value

	return nil
}

func applyLocationConcentricEdit(e *incidentEdit, raw json.RawMessage) error {
	value, err := decodeClearableString(raw, "location concentric")
	if err != nil {
		return err
	}

	e.changes.LocationConcentric = value

	return nil
}

func applyLocationRadialHourEdit(e *incidentEdit, raw json.RawMessage) error {
	value, err := decodeClearableInt(raw, "location radial_hour")
	if err != nil {
		return err
	}

	e.changes.LocationRadialHour = &storage.OptionalInt{Value: value}

	return nil
}

func applyLocationRadialMinuteEdit(e *incidentEdit, raw json.RawMessage) error {
	value, err := decodeClearableInt(raw, "location radial_minute")
	if err != nil {
		return err
	}

	e.changes.LocationRadialMinute = &storage.OptionalInt{Value: value}

	return nil
}

func applyLocationDescriptionEdit(e *incidentEdit, raw json.RawMessage) error {
	value, err := decodeClearableString(raw, "location description")
	if err != nil {
		return err
	}

	e.changes.LocationDescription = value

	return nil
}

func applyRangerHandlesEdit(e *incidentEdit, raw json.RawMessage) error {
	var handles []string
	if err := json.Unmarshal(raw, &handles); err != nil {
		return fmt.Errorf("ranger_handles: %w", err)
	}

	e.changes.RangerHandles = &handles

	return nil
}

func applyIncidentTypesEdit(e *incidentEdit, raw json.RawMessage) error {
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return fmt.Errorf("incident_types: %w", err)
	}

	e.changes.IncidentTypes = &names

	return nil
}

// applyReportEntriesEdit appends the body's entries to the journal. The
// author is always the requesting user; the store stamps timestamps.
func applyReportEntriesEdit(e *incidentEdit, raw json.RawMessage) error {
	var entries []ims.ReportEntryJSON
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("report_entries: %w", err)
	}

	for _, entry := range entries {
		appended := ims.ReportEntryFromJSON(entry)
		appended.Author = e.author
		appended.Generated = false
		e.changes.ReportEntries = append(e.changes.ReportEntries, appended)
	}

	return nil
}

// decodeClearableString decodes a string field where JSON null clears the
// stored value.
func decodeClearableString(raw json.RawMessage, field string) (*string, error) {
	var value *string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}

	if value == nil {
		value = new(string)
	}

	return value, nil
}

// decodeClearableInt decodes an integer field where JSON null clears the
// stored value. The nil result is meaningful and flows into OptionalInt.
func decodeClearableInt(raw json.RawMessage, field string) (*int, error) {
	var value *int
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}

	return value, nil
}
