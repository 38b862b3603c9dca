package auth

import (
	"context"
	"strings"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/storage"
)

// Authorization is a capability bit-set computed per (user, event).
type Authorization uint8

// AuthorizationNone is the empty capability set, all an anonymous
// request ever gets.
const AuthorizationNone Authorization = 0

// The individual capabilities.
const (
	AuthorizationAdmin Authorization = 1 << iota
	AuthorizationReadPersonnel
	AuthorizationReadIncidents
	AuthorizationWriteIncidents
	AuthorizationReadFieldReports
	AuthorizationWriteFieldReports
)

// authorizationAll is every capability at once, what an administrator
// holds on any event.
const authorizationAll = AuthorizationAdmin |
	AuthorizationReadPersonnel |
	AuthorizationReadIncidents |
	AuthorizationWriteIncidents |
	AuthorizationReadFieldReports |
	AuthorizationWriteFieldReports

// authorizationNames is ordered by bit position for String.
var authorizationNames = []struct {
	bit  Authorization
	name string
}{
	{AuthorizationAdmin, "admin"},
	{AuthorizationReadPersonnel, "readPersonnel"},
	{AuthorizationReadIncidents, "readIncidents"},
	{AuthorizationWriteIncidents, "writeIncidents"},
	{AuthorizationReadFieldReports, "readFieldReports"},
	{AuthorizationWriteFieldReports, "writeFieldReports"},
}

// Has reports whether every capability in required is present.
func (a Authorization) Has(required Authorization) bool {
	return a&required == required
}

// String lists the held capabilities, for logs.
func (a Authorization) String() string {
	if a == AuthorizationNone {
		return "none"
	}

	var names []string

	for _, entry := range authorizationNames {
		if a.Has(entry.bit) {
			names = append(names, entry.name)
		}
	}

	return strings.Join(names, "|")
}

// Authority computes capabilities from the store's per-event ACLs. The
// administrator flag itself is settled earlier, when the authenticator
// resolves the request's User.
type Authority struct {
	access  storage.AccessStore
	reports storage.FieldReportStore
}

// NewAuthority creates the authorization engine.
func NewAuthority(access storage.AccessStore, reports storage.FieldReportStore) *Authority {
	return &Authority{
		access:  access,
		reports: reports,
	}
}

// AuthorizationsFor computes the capability set for user on event.
//
// Any authenticated user holds readPersonnel; administrators hold
// everything on every event. With an event given, a writers-ACL match
// grants incident and field-report read and write; otherwise a
// readers-ACL match grants incident read, and a reporters-ACL match
// grants field-report read and write. An empty event computes the
// event-independent set.
func (a *Authority) AuthorizationsFor(ctx context.Context, user *User, event string) (Authorization, error) {
	if user == nil {
		return AuthorizationNone, nil
	}

	if user.Admin {
		return authorizationAll, nil
	}

	authorizations := AuthorizationReadPersonnel

	if event == "" {
		return authorizations, nil
	}

	writers, err := a.access.Writers(ctx, event)
	if err != nil {
		return AuthorizationNone, err
	}

	if user.matchesAny(writers) {
		return authorizations |
			AuthorizationWriteIncidents | AuthorizationReadIncidents |
			AuthorizationWriteFieldReports | AuthorizationReadFieldReports, nil
	}

	readers, err := a.access.Readers(ctx, event)
	if err != nil {
		return AuthorizationNone, err
	}

	if user.matchesAny(readers) {
		authorizations |= AuthorizationReadIncidents
	}

	reporters, err := a.access.Reporters(ctx, event)
	if err != nil {
		return AuthorizationNone, err
	}

	if user.matchesAny(reporters) {
		authorizations |= AuthorizationWriteFieldReports | AuthorizationReadFieldReports
	}

	return authorizations, nil
}

// Require returns nil when user holds every capability in required on
// event, ErrNotAuthenticated for anonymous requests, and
// ErrNotAuthorized otherwise.
func (a *Authority) Require(ctx context.Context, user *User, event string, required Authorization) error {
	if user == nil {
		return ErrNotAuthenticated
	}

	authorizations, err := a.AuthorizationsFor(ctx, user, event)
	if err != nil {
		return err
	}

	if !authorizations.Has(required) {
		return ErrNotAuthorized
	}

	return nil
}

// CanReadFieldReport decides read access to one field report. A user
// with the field-report read capability may read any report in the
// event; a user with incident read may read a report only while it is
// attached to an incident, so incident viewers see linked narratives
// without gaining the unlinked ones.
func (a *Authority) CanReadFieldReport(ctx context.Context, user *User, event string, number int) (bool, error) {
	authorizations, err := a.AuthorizationsFor(ctx, user, event)
	if err != nil {
		return false, err
	}

	if authorizations.Has(AuthorizationReadFieldReports) {
		return true, nil
	}

	if !authorizations.Has(AuthorizationReadIncidents) {
		return false, nil
	}

	attached, err := a.reports.IncidentsAttachedToFieldReport(ctx, event, number)
	if err != nil {
		return false, err
	}

	return len(attached) > 0, nil
}

// RequireFieldReportRead is Require for the attachment policy.
func (a *Authority) RequireFieldReportRead(ctx context.Context, user *User, event string, number int) error {
	if user == nil {
		return ErrNotAuthenticated
	}

	allowed, err := a.CanReadFieldReport(ctx, user, event, number)
	if err != nil {
		return err
	}

	if !allowed {
		return ErrNotAuthorized
	}

	return nil
}

// HasEventAccess reports whether user holds any access to event at all:
// administrator, or a match on any of the three ACLs. The events list
// shows only events that pass this test.
func (a *Authority) HasEventAccess(ctx context.Context, user *User, event string) (bool, error) {
	if user == nil {
		return false, nil
	}

	if user.Admin {
		return true, nil
	}

	for _, acl := range []func(context.Context, string) ([]string, error){
		a.access.Readers, a.access.Writers, a.access.Reporters,
	} {
		expressions, err := acl(ctx, event)
		if err != nil {
			return false, err
		}

		if user.matchesAny(expressions) {
			return true, nil
		}
	}

	return false, nil
}
