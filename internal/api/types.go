// Package api provides the HTTP API server for the Incident Management System.
package api

type (
	// AuthRequest is the login request body for POST /ims/api/auth.
	// Identification is a Ranger handle or email address.
	AuthRequest struct {
		Identification string `json:"identification"`
		Password       string `json:"password"`
	}

	// AuthResponse carries the issued bearer token. Origin echoes the o
	// query parameter so interactive clients can restore their pre-login
	// location.
	AuthResponse struct {
		Token  string `json:"token"`
		Origin string `json:"o,omitempty"`
	}

	// AuthIdentity describes the current principal for GET /ims/api/auth.
	// An anonymous request gets {"authenticated": false} and empty fields.
	AuthIdentity struct {
		Authenticated bool   `json:"authenticated"`
		User          string `json:"user,omitempty"`
		Admin         bool   `json:"admin,omitempty"`
	}

	// EventJSON is the wire form of one event in the events list.
	EventJSON struct {
		ID string `json:"id"`
	}

	// EditEventsRequest is the admin body for POST /ims/api/events/.
	// Creation is add-only; events are never deleted.
	EditEventsRequest struct {
		Add []string `json:"add"`
	}

	// EditIncidentTypesRequest is the admin body for POST
	// /ims/api/incident_types/. Names listed under show/hide must already
	// exist; add is idempotent.
	EditIncidentTypesRequest struct {
		Add  []string `json:"add"`
		Show []string `json:"show"`
		Hide []string `json:"hide"`
	}

	// AccessJSON carries an event's three ACL expression lists in the
	// access document returned by GET /ims/api/access.
	AccessJSON struct {
		Readers   []string `json:"readers"`
		Writers   []string `json:"writers"`
		Reporters []string `json:"reporters"`
	}

	// AccessEditJSON is the per-event entry in the POST /ims/api/access
	// body. Nil lists are untouched; a present empty list clears the ACL.
	AccessEditJSON struct {
		Readers   *[]string `json:"readers"`
		Writers   *[]string `json:"writers"`
		Reporters *[]string `json:"reporters"`
	}

	// PersonnelJSON is the wire form of a directory Ranger. Credentials
	// never leave the server; the handle doubles as the stable identifier
	// for assignment pickers.
	PersonnelJSON struct {
		Handle      string `json:"handle"`
		Status      string `json:"status"`
		Onsite      bool   `json:"onsite"`
		DirectoryID string `json:"directory_id,omitempty"` //nolint:tagliatelle
	}
)
