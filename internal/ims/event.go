// Package ims defines the domain model for the Incident Management System:
// events, incidents, field reports, report entries, and the access-control
// vocabulary shared by the store, the authorization engine, and the API.
//
// Core model types carry no wire tags; the canonical JSON forms live in
// json.go and every surface (HTTP API, export documents) marshals through
// them so wire keys never drift between surfaces.
package ims

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is the base error for every domain invariant violation.
// Callers classify with errors.Is(err, ims.ErrValidation).
var ErrValidation = errors.New("validation failed")

// Event is a top-level tenant, typically one per year's gathering.
// An event owns its ACLs, concentric-street dictionary, and the incident
// and field-report number spaces.
type Event struct {
	// ID is a non-empty URL-safe identifier, e.g. "2024".
	ID string
}

// Validate checks the event identifier.
func (e Event) Validate() error {
	return ValidateEventID(e.ID)
}

// ValidateEventID checks that an event identifier is non-empty and URL-safe.
func ValidateEventID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: event ID cannot be empty", ErrValidation)
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return fmt.Errorf("%w: event ID %q contains invalid character %q", ErrValidation, id, r)
		}
	}

	return nil
}

// System incident types that are always present in the catalog.
const (
	IncidentTypeAdmin = "Admin"
	IncidentTypeJunk  = "Junk"
)

// IncidentType is a catalog entry. Hidden types stay attached to existing
// incidents but are not offered for new assignment.
type IncidentType struct {
	Name   string
	Hidden bool
}

// Validate checks the catalog entry.
func (t IncidentType) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: incident type name cannot be empty", ErrValidation)
	}

	return nil
}

// AccessMode selects one of the three per-event ACLs.
type AccessMode string

// The access modes understood by the authorization engine.
const (
	AccessModeRead   AccessMode = "read"
	AccessModeWrite  AccessMode = "write"
	AccessModeReport AccessMode = "report"
)

// Validate checks that the mode is one of the known ACL modes.
func (m AccessMode) Validate() error {
	switch m {
	case AccessModeRead, AccessModeWrite, AccessModeReport:
		return nil
	default:
		return fmt.Errorf("%w: unknown access mode %q", ErrValidation, string(m))
	}
}

// EventAccess holds the three ACL expression lists for one event.
// Order within a list is insignificant; duplicates are collapsed by the
// store on write.
type EventAccess struct {
	Readers   []string
	Writers   []string
	Reporters []string
}

// Access expression prefixes. An expression is "*", "person:<handle>",
// or "position:<group>".
const (
	AccessExpressionWildcard = "*"
	personExpressionPrefix   = "person:"
	positionExpressionPrefix = "position:"
)

// ValidateAccessExpression checks the shape of a single ACL expression.
func ValidateAccessExpression(expression string) error {
	if expression == AccessExpressionWildcard {
		return nil
	}

	if name, ok := strings.CutPrefix(expression, personExpressionPrefix); ok {
		if name == "" {
			return fmt.Errorf("%w: person expression is missing a handle", ErrValidation)
		}

		return nil
	}

	if name, ok := strings.CutPrefix(expression, positionExpressionPrefix); ok {
		if name == "" {
			return fmt.Errorf("%w: position expression is missing a group", ErrValidation)
		}

		return nil
	}

	return fmt.Errorf("%w: unrecognized access expression %q", ErrValidation, expression)
}

// AccessExpressionMatches reports whether a single ACL expression matches
// a user: "*" matches any authenticated user, "person:<name>" matches the
// user's handle, and "position:<name>" matches any of the user's groups.
func AccessExpressionMatches(expression string, user *Ranger) bool {
	if user == nil {
		return false
	}

	if expression == AccessExpressionWildcard {
		return true
	}

	if name, ok := strings.CutPrefix(expression, personExpressionPrefix); ok {
		return name == user.Handle
	}

	if name, ok := strings.CutPrefix(expression, positionExpressionPrefix); ok {
		for _, group := range user.Groups {
			if name == group {
				return true
			}
		}
	}

	return false
}
