package ims

import (
	"fmt"
	"time"
)

// ReportEntry is one append-only journal line on an incident or field
// report. Identity is the full content tuple; entries are never edited
// and their created timestamp never changes after insert.
type ReportEntry struct {
	Author  string
	Created time.Time
	Text    string

	// Generated marks automatic entries written by the store itself when
	// fields change; user-authored entries carry the requester's handle.
	Generated bool
}

// Validate checks the entry invariants.
func (e ReportEntry) Validate() error {
	if e.Author == "" {
		return fmt.Errorf("%w: report entry author cannot be empty", ErrValidation)
	}

	if e.Text == "" {
		return fmt.Errorf("%w: report entry text cannot be empty", ErrValidation)
	}

	return validateTimestamp("report entry created", e.Created)
}

// FieldReport is a field-originated narrative owned by an event,
// optionally attached to exactly one incident within the same event.
// An incident may carry many field reports.
type FieldReport struct {
	Event   string
	Number  int
	Created time.Time
	Summary string

	// Incident is the attached incident number, or 0 when unattached.
	Incident int

	// ReportEntries is the append-only journal, in insertion order.
	ReportEntries []ReportEntry
}

// Attached reports whether the field report is attached to an incident.
func (f FieldReport) Attached() bool {
	return f.Incident > 0
}

// Validate checks every field-report invariant.
func (f FieldReport) Validate() error {
	if err := ValidateEventID(f.Event); err != nil {
		return err
	}

	if f.Number < 1 {
		return fmt.Errorf("%w: field report number must be >= 1, got %d", ErrValidation, f.Number)
	}

	if f.Incident < 0 {
		return fmt.Errorf(
			"%w: attached incident number must be >= 1, got %d", ErrValidation, f.Incident,
		)
	}

	if err := validateTimestamp("field report created", f.Created); err != nil {
		return err
	}

	for _, entry := range f.ReportEntries {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("field report %s#%d journal: %w", f.Event, f.Number, err)
		}
	}

	return nil
}
