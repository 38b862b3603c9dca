package storage

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// Journal field names as they appear in automatic entries, for example
// "Changed priority to: 2". Clients grep these strings; do not rephrase.
const (
	fieldPriority            = "priority"
	fieldState               = "state"
	fieldSummary             = "summary"
	fieldLocationName        = "location name"
	fieldLocationConcentric  = "location concentric street"
	fieldLocationRadialHour  = "location radial hour"
	fieldLocationRadialMin   = "location radial minute"
	fieldLocationDescription = "location description"
	fieldRangers             = "rangers"
	fieldIncidentTypes       = "incident types"
	fieldAttachedIncident    = "incident"
)

// changedEntry builds the automatic journal entry for one field change.
func changedEntry(author, field, value string, now time.Time) ims.ReportEntry {
	return ims.ReportEntry{
		Author:    author,
		Created:   now,
		Generated: true,
		Text:      fmt.Sprintf("Changed %s to: %s", field, value),
	}
}

// renderOptionalInt renders a clearable scalar; a cleared value renders empty.
func renderOptionalInt(v *int) string {
	if v == nil {
		return ""
	}

	return strconv.Itoa(*v)
}

// renderSet renders a set-valued field as a sorted, comma-separated list.
func renderSet(values []string) string {
	return strings.Join(values, ", ")
}

// normalizeSet sorts and deduplicates a set-valued field, dropping empty
// members. Always returns a non-nil slice.
func normalizeSet(values []string) []string {
	out := make([]string, 0, len(values))

	for _, v := range values {
		if v == "" {
			continue
		}

		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}

	slices.Sort(out)

	return out
}

// stampEntries prepares user-authored entries for the journal: the author is
// filled in when absent, timestamps default to now and normalize to UTC, and
// the generated flag is cleared since only the store writes generated entries.
func stampEntries(entries []ims.ReportEntry, author string, now time.Time) []ims.ReportEntry {
	out := make([]ims.ReportEntry, len(entries))

	for i, entry := range entries {
		if entry.Author == "" {
			entry.Author = author
		}

		if entry.Created.IsZero() {
			entry.Created = now
		}

		entry.Created = entry.Created.UTC()
		entry.Generated = false
		out[i] = entry
	}

	return out
}

// applyIncidentChanges mutates incident in place per changes, appending one
// automatic journal entry per changed field plus any user entries carried by
// changes, and bumps the version by the number of appended entries. The
// appended entries are returned so persistent stores can insert exactly
// those rows.
//
// Every requested change journals, including a write of the already-stored
// value: a set call always advances the version.
func applyIncidentChanges(
	incident *ims.Incident,
	changes IncidentChanges,
	author string,
	now time.Time,
) ([]ims.ReportEntry, error) {
	if author == "" {
		return nil, fmt.Errorf("%w: mutation author is required", ims.ErrValidation)
	}

	var appended []ims.ReportEntry

	record := func(field, value string) {
		appended = append(appended, changedEntry(author, field, value, now))
	}

	if changes.Priority != nil {
		if err := changes.Priority.Validate(); err != nil {
			return nil, err
		}

		incident.Priority = *changes.Priority
		record(fieldPriority, strconv.Itoa(int(incident.Priority)))
	}

	if changes.State != nil {
		if err := changes.State.Validate(); err != nil {
			return nil, err
		}

		incident.State = *changes.State
		record(fieldState, string(incident.State))
	}

	if changes.Summary != nil {
		incident.Summary = *changes.Summary
		record(fieldSummary, incident.Summary)
	}

	if changes.LocationName != nil {
		incident.Location.Name = *changes.LocationName
		record(fieldLocationName, incident.Location.Name)
	}

	if changes.LocationConcentric != nil {
		incident.Location.Concentric = *changes.LocationConcentric
		record(fieldLocationConcentric, incident.Location.Concentric)
	}

	if changes.LocationRadialHour != nil {
		incident.Location.RadialHour = changes.LocationRadialHour.Value
		record(fieldLocationRadialHour, renderOptionalInt(incident.Location.RadialHour))
	}

	if changes.LocationRadialMinute != nil {
		incident.Location.RadialMinute = changes.LocationRadialMinute.Value
		record(fieldLocationRadialMin, renderOptionalInt(incident.Location.RadialMinute))
	}

	if changes.LocationDescription != nil {
		incident.Location.Description = *changes.LocationDescription
		record(fieldLocationDescription, incident.Location.Description)
	}

	if changes.RangerHandles != nil {
		incident.RangerHandles = normalizeSet(*changes.RangerHandles)
		record(fieldRangers, renderSet(incident.RangerHandles))
	}

	if changes.IncidentTypes != nil {
		incident.IncidentTypes = normalizeSet(*changes.IncidentTypes)
		record(fieldIncidentTypes, renderSet(incident.IncidentTypes))
	}

	incident.Location.Normalize()

	if err := incident.Location.Validate(); err != nil {
		return nil, err
	}

	appended = append(appended, stampEntries(changes.ReportEntries, author, now)...)

	for _, entry := range appended {
		if err := entry.Validate(); err != nil {
			return nil, err
		}
	}

	incident.ReportEntries = append(incident.ReportEntries, appended...)
	incident.Version += len(appended)

	return appended, nil
}

// applyFieldReportChanges is the field report counterpart of
// applyIncidentChanges.
func applyFieldReportChanges(
	report *ims.FieldReport,
	changes FieldReportChanges,
	author string,
	now time.Time,
) ([]ims.ReportEntry, error) {
	if author == "" {
		return nil, fmt.Errorf("%w: mutation author is required", ims.ErrValidation)
	}

	var appended []ims.ReportEntry

	if changes.Summary != nil {
		report.Summary = *changes.Summary
		appended = append(appended, changedEntry(author, fieldSummary, report.Summary, now))
	}

	appended = append(appended, stampEntries(changes.ReportEntries, author, now)...)

	for _, entry := range appended {
		if err := entry.Validate(); err != nil {
			return nil, err
		}
	}

	report.ReportEntries = append(report.ReportEntries, appended...)

	return appended, nil
}

// prepareNewIncident fills creation defaults and builds the initial journal:
// one automatic entry per non-default initial attribute, then the caller's
// entries. The incident number is left to the store to allocate.
func prepareNewIncident(incident ims.Incident, author string, now time.Time) ims.Incident {
	if incident.Created.IsZero() {
		incident.Created = now
	}

	incident.Created = incident.Created.UTC()

	if incident.State == "" {
		incident.State = ims.IncidentStateNew
	}

	if incident.Priority == 0 {
		incident.Priority = ims.PriorityDefault
	}

	incident.RangerHandles = normalizeSet(incident.RangerHandles)
	incident.IncidentTypes = normalizeSet(incident.IncidentTypes)
	incident.Location.Normalize()

	var auto []ims.ReportEntry

	record := func(field, value string) {
		auto = append(auto, changedEntry(author, field, value, now))
	}

	if incident.Priority != ims.PriorityDefault {
		record(fieldPriority, strconv.Itoa(int(incident.Priority)))
	}

	if incident.State != ims.IncidentStateNew {
		record(fieldState, string(incident.State))
	}

	if incident.Summary != "" {
		record(fieldSummary, incident.Summary)
	}

	if incident.Location.Name != "" {
		record(fieldLocationName, incident.Location.Name)
	}

	if incident.Location.Concentric != "" {
		record(fieldLocationConcentric, incident.Location.Concentric)
	}

	if incident.Location.RadialHour != nil {
		record(fieldLocationRadialHour, renderOptionalInt(incident.Location.RadialHour))
	}

	if incident.Location.RadialMinute != nil {
		record(fieldLocationRadialMin, renderOptionalInt(incident.Location.RadialMinute))
	}

	if incident.Location.Description != "" {
		record(fieldLocationDescription, incident.Location.Description)
	}

	if len(incident.RangerHandles) > 0 {
		record(fieldRangers, renderSet(incident.RangerHandles))
	}

	if len(incident.IncidentTypes) > 0 {
		record(fieldIncidentTypes, renderSet(incident.IncidentTypes))
	}

	incident.ReportEntries = append(auto, stampEntries(incident.ReportEntries, author, now)...)
	incident.Version = len(incident.ReportEntries)

	return incident
}

// prepareNewFieldReport is the field report counterpart of prepareNewIncident.
func prepareNewFieldReport(report ims.FieldReport, author string, now time.Time) ims.FieldReport {
	if report.Created.IsZero() {
		report.Created = now
	}

	report.Created = report.Created.UTC()

	var auto []ims.ReportEntry

	if report.Summary != "" {
		auto = append(auto, changedEntry(author, fieldSummary, report.Summary, now))
	}

	report.ReportEntries = append(auto, stampEntries(report.ReportEntries, author, now)...)

	return report
}
