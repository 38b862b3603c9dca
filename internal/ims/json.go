package ims

import "time"

// Wire representations of the model types. The HTTP API and the portable
// export document both marshal through these, so the JSON key set stays
// identical across every surface. Timestamps travel as RFC 3339 UTC.
type (
	// IncidentJSON is the wire form of Incident. The version counter is
	// internal bookkeeping and deliberately has no key here.
	IncidentJSON struct {
		Event         string            `json:"event"`
		Number        int               `json:"number"`
		Created       time.Time         `json:"created"`
		State         string            `json:"state"`
		Priority      int               `json:"priority"`
		Summary       string            `json:"summary"`
		Location      *LocationJSON     `json:"location"`
		RangerHandles []string          `json:"ranger_handles"` //nolint:tagliatelle
		IncidentTypes []string          `json:"incident_types"` //nolint:tagliatelle
		ReportEntries []ReportEntryJSON `json:"report_entries"` //nolint:tagliatelle
	}

	// LocationJSON is the wire form of Location.
	LocationJSON struct {
		Name         string `json:"name"`
		Type         string `json:"type"`
		Concentric   string `json:"concentric"`
		RadialHour   *int   `json:"radial_hour"`   //nolint:tagliatelle
		RadialMinute *int   `json:"radial_minute"` //nolint:tagliatelle
		Description  string `json:"description"`
	}

	// ReportEntryJSON is the wire form of ReportEntry.
	ReportEntryJSON struct {
		Author      string    `json:"author"`
		Created     time.Time `json:"created"`
		SystemEntry bool      `json:"system_entry"` //nolint:tagliatelle
		Text        string    `json:"text"`
	}

	// FieldReportJSON is the wire form of FieldReport. The incident key is
	// null while the report is unattached.
	FieldReportJSON struct {
		Event         string            `json:"event"`
		Number        int               `json:"number"`
		Created       time.Time         `json:"created"`
		Summary       string            `json:"summary"`
		Incident      *int              `json:"incident"`
		ReportEntries []ReportEntryJSON `json:"report_entries"` //nolint:tagliatelle
	}
)

// ToJSON returns the wire form of the incident.
func (i Incident) ToJSON() IncidentJSON {
	out := IncidentJSON{
		Event:         i.Event,
		Number:        i.Number,
		Created:       i.Created.UTC(),
		State:         string(i.State),
		Priority:      int(i.Priority),
		Summary:       i.Summary,
		RangerHandles: emptyNotNil(i.RangerHandles),
		IncidentTypes: emptyNotNil(i.IncidentTypes),
		ReportEntries: entriesToJSON(i.ReportEntries),
	}

	if !i.Location.IsEmpty() || i.Location.Type != "" {
		location := i.Location.ToJSON()
		out.Location = &location
	}

	return out
}

// IncidentFromJSON builds a model incident from its wire form. Callers
// validate the result.
func IncidentFromJSON(in IncidentJSON) Incident {
	out := Incident{
		Event:         in.Event,
		Number:        in.Number,
		Created:       in.Created.UTC(),
		State:         IncidentState(in.State),
		Priority:      IncidentPriority(in.Priority),
		Summary:       in.Summary,
		RangerHandles: in.RangerHandles,
		IncidentTypes: in.IncidentTypes,
		ReportEntries: entriesFromJSON(in.ReportEntries),
	}

	if in.Location != nil {
		out.Location = LocationFromJSON(*in.Location)
	}

	return out
}

// ToJSON returns the wire form of the location.
func (l Location) ToJSON() LocationJSON {
	return LocationJSON{
		Name:         l.Name,
		Type:         string(l.Type),
		Concentric:   l.Concentric,
		RadialHour:   l.RadialHour,
		RadialMinute: l.RadialMinute,
		Description:  l.Description,
	}
}

// LocationFromJSON builds a model location from its wire form.
func LocationFromJSON(in LocationJSON) Location {
	return Location{
		Name:         in.Name,
		Type:         LocationType(in.Type),
		Concentric:   in.Concentric,
		RadialHour:   in.RadialHour,
		RadialMinute: in.RadialMinute,
		Description:  in.Description,
	}
}

// ToJSON returns the wire form of the journal entry.
func (e ReportEntry) ToJSON() ReportEntryJSON {
	return ReportEntryJSON{
		Author:      e.Author,
		Created:     e.Created.UTC(),
		SystemEntry: e.Generated,
		Text:        e.Text,
	}
}

// ReportEntryFromJSON builds a model journal entry from its wire form.
func ReportEntryFromJSON(in ReportEntryJSON) ReportEntry {
	return ReportEntry{
		Author:    in.Author,
		Created:   in.Created.UTC(),
		Generated: in.SystemEntry,
		Text:      in.Text,
	}
}

// ToJSON returns the wire form of the field report.
func (r FieldReport) ToJSON() FieldReportJSON {
	out := FieldReportJSON{
		Event:         r.Event,
		Number:        r.Number,
		Created:       r.Created.UTC(),
		Summary:       r.Summary,
		ReportEntries: entriesToJSON(r.ReportEntries),
	}

	if r.Attached() {
		incident := r.Incident
		out.Incident = &incident
	}

	return out
}

// FieldReportFromJSON builds a model field report from its wire form.
func FieldReportFromJSON(in FieldReportJSON) FieldReport {
	out := FieldReport{
		Event:         in.Event,
		Number:        in.Number,
		Created:       in.Created.UTC(),
		Summary:       in.Summary,
		ReportEntries: entriesFromJSON(in.ReportEntries),
	}

	if in.Incident != nil {
		out.Incident = *in.Incident
	}

	return out
}

func entriesToJSON(entries []ReportEntry) []ReportEntryJSON {
	out := make([]ReportEntryJSON, len(entries))
	for i, entry := range entries {
		out[i] = entry.ToJSON()
	}

	return out
}

func entriesFromJSON(entries []ReportEntryJSON) []ReportEntry {
	out := make([]ReportEntry, len(entries))
	for i, entry := range entries {
		out[i] = ReportEntryFromJSON(entry)
	}

	return out
}

func emptyNotNil(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}
