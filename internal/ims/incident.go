package ims

import (
	"fmt"
	"time"
)

// IncidentState is the lifecycle state of an incident.
type IncidentState string

// Incident lifecycle states, in escalation order.
const (
	IncidentStateNew        IncidentState = "new"
	IncidentStateOnHold     IncidentState = "on_hold"
	IncidentStateDispatched IncidentState = "dispatched"
	IncidentStateOnScene    IncidentState = "on_scene"
	IncidentStateClosed     IncidentState = "closed"
)

// Validate checks that the state is a known enum value.
func (s IncidentState) Validate() error {
	switch s {
	case IncidentStateNew, IncidentStateOnHold, IncidentStateDispatched,
		IncidentStateOnScene, IncidentStateClosed:
		return nil
	default:
		return fmt.Errorf("%w: unknown incident state %q", ErrValidation, string(s))
	}
}

// Incident priority bounds. 3 is the default for new incidents.
const (
	PriorityMin     = 1
	PriorityDefault = 3
	PriorityMax     = 5
)

// IncidentPriority is an urgency ranking from 1 (highest) to 5 (lowest).
type IncidentPriority int

// Validate checks the priority range.
func (p IncidentPriority) Validate() error {
	if p < PriorityMin || p > PriorityMax {
		return fmt.Errorf(
			"%w: incident priority must be between %d and %d, got %d",
			ErrValidation, PriorityMin, PriorityMax, int(p),
		)
	}

	return nil
}

// LocationType tags the address variant of a location.
type LocationType string

// Address variants: free-form text, or the event's concentric street grid.
const (
	LocationTypeText   LocationType = "text"
	LocationTypeGarett LocationType = "garett"
)

// Radial clock-face bounds for concentric addresses.
const (
	RadialHourMin   = 1
	RadialHourMax   = 12
	RadialMinuteMin = 0
	RadialMinuteMax = 59
)

// Location is an optional incident location. All inner fields are optional.
//
// The address part is a tagged union: a "text" address carries only the
// free-form description, while a "garett" address carries a concentric
// street ID plus a radial hour:minute pair addressing the event grid.
type Location struct {
	Name         string
	Type         LocationType
	Concentric   string
	RadialHour   *int
	RadialMinute *int
	Description  string
}

// IsEmpty reports whether the location carries no information at all.
func (l Location) IsEmpty() bool {
	return l.Name == "" &&
		l.Concentric == "" &&
		l.RadialHour == nil &&
		l.RadialMinute == nil &&
		l.Description == ""
}

// Normalize recomputes the address type from the populated fields: any
// concentric field makes the location a garett address, any other field
// makes it a text address, and an empty location has no type. Stores call
// this after field edits so the type tag never drifts from the data.
func (l *Location) Normalize() {
	switch {
	case l.Concentric != "" || l.RadialHour != nil || l.RadialMinute != nil:
		l.Type = LocationTypeGarett
	case l.Name != "" || l.Description != "":
		l.Type = LocationTypeText
	default:
		l.Type = ""
	}
}

// Validate checks the tagged-union shape and radial ranges.
func (l Location) Validate() error {
	if l.IsEmpty() && l.Type == "" {
		return nil
	}

	switch l.Type {
	case LocationTypeText:
		if l.Concentric != "" || l.RadialHour != nil || l.RadialMinute != nil {
			return fmt.Errorf("%w: text location cannot carry concentric address fields", ErrValidation)
		}
	case LocationTypeGarett:
		if l.RadialHour != nil && (*l.RadialHour < RadialHourMin || *l.RadialHour > RadialHourMax) {
			return fmt.Errorf(
				"%w: radial hour must be between %d and %d, got %d",
				ErrValidation, RadialHourMin, RadialHourMax, *l.RadialHour,
			)
		}

		if l.RadialMinute != nil && (*l.RadialMinute < RadialMinuteMin || *l.RadialMinute > RadialMinuteMax) {
			return fmt.Errorf(
				"%w: radial minute must be between %d and %d, got %d",
				ErrValidation, RadialMinuteMin, RadialMinuteMax, *l.RadialMinute,
			)
		}
	default:
		return fmt.Errorf("%w: unknown location type %q", ErrValidation, string(l.Type))
	}

	return nil
}

// Incident is an operational record owned by an event. Identity is the
// (event, number) pair; numbers are allocated monotonically per event and
// never reused.
type Incident struct {
	Event    string
	Number   int
	Created  time.Time
	State    IncidentState
	Priority IncidentPriority
	Summary  string
	Location Location

	// RangerHandles and IncidentTypes are set-valued; the store keeps them
	// sorted and deduplicated.
	RangerHandles []string
	IncidentTypes []string

	// ReportEntries is the append-only journal, in insertion order.
	ReportEntries []ReportEntry

	// Version increases on every mutation and equals the journal length.
	Version int
}

// Validate checks every incident invariant. It is total and idempotent:
// a second call on an unchanged value returns the same result.
func (i Incident) Validate() error {
	if err := ValidateEventID(i.Event); err != nil {
		return err
	}

	if i.Number < 1 {
		return fmt.Errorf("%w: incident number must be >= 1, got %d", ErrValidation, i.Number)
	}

	if err := validateTimestamp("incident created", i.Created); err != nil {
		return err
	}

	if err := i.State.Validate(); err != nil {
		return err
	}

	if err := i.Priority.Validate(); err != nil {
		return err
	}

	if err := i.Location.Validate(); err != nil {
		return err
	}

	for _, entry := range i.ReportEntries {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("incident %s#%d journal: %w", i.Event, i.Number, err)
		}
	}

	if i.Version < 0 {
		return fmt.Errorf("%w: incident version cannot be negative, got %d", ErrValidation, i.Version)
	}

	return nil
}

// validateTimestamp rejects zero timestamps; stored times are normalized
// to UTC on the way in, so a zero value means the caller never set one.
func validateTimestamp(what string, t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("%w: %s timestamp is not set", ErrValidation, what)
	}

	return nil
}
