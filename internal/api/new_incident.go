package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/storage"
)

// creationSkewAllowance tolerates client clocks running slightly ahead
// before a provided created timestamp counts as future-dated.
const creationSkewAllowance = time.Minute

// handleNewIncident handles POST /ims/api/events/{eventID}/incidents/.
//
// The body is a partial incident object; state defaults to "new" and
// priority to 3. The server allocates the number and answers
// 204 No Content with Incident-Number and Location headers.
//
// Timestamp policy: a missing created becomes the current time, and in
// either case the timestamp backdates to the oldest contained report
// entry, so an incident is never younger than its first narrative.
// A future-dated created is rejected with 400.
func (s *Server) handleNewIncident(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	eventID := r.PathValue("eventID")

	if err := s.authority.Require(ctx, user, eventID, auth.AuthorizationWriteIncidents); err != nil {
		s.writeStoreError(w, r, "Incident create authorization failed", err)

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var in ims.IncidentJSON

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&in); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	if in.Event != "" && in.Event != eventID {
		detail := fmt.Sprintf("Incident event %q does not match URL event %q", in.Event, eventID)
		WriteErrorResponse(w, r, s.logger, BadRequest(detail))

		return
	}

	if in.Number != 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Incident number is assigned by the server"))

		return
	}

	now := time.Now().UTC()

	if !in.Created.IsZero() && in.Created.After(now.Add(creationSkewAllowance)) {
		WriteErrorResponse(w, r, s.logger, BadRequest("Incident created timestamp cannot be in the future"))

		return
	}

	incident := ims.IncidentFromJSON(in)
	incident.Event = eventID

	// Entries arriving with the new incident are the requester's own
	// narrative: the author is never taken from the body. The store
	// stamps timestamps and clears the generated flag.
	for i := range incident.ReportEntries {
		incident.ReportEntries[i].Author = user.Handle
	}

	incident.Created = effectiveCreated(incident.Created, incident.ReportEntries, now)

	created, err := s.store.CreateIncident(ctx, incident, user.Handle)
	if err != nil {
		// A missing type or street names a bad reference in the body,
		// not a bad URL.
		if errors.Is(err, storage.ErrNoSuchIncidentType) || errors.Is(err, storage.ErrNoSuchConcentricStreet) {
			WriteErrorResponse(w, r, s.logger, BadRequest("Invalid incident: "+err.Error()))

			return
		}

		s.writeStoreError(w, r, "Failed to create incident", err)

		return
	}

	s.logger.Info("Incident created",
		slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
		slog.String("event", eventID),
		slog.Int("incident", created.Number),
		slog.String("user", user.Handle),
	)

	w.Header().Set("Incident-Number", strconv.Itoa(created.Number))
	w.Header().Set("Location", fmt.Sprintf("/ims/api/events/%s/incidents/%d", eventID, created.Number))
	w.WriteHeader(http.StatusNoContent)
}

// effectiveCreated resolves the stored created timestamp: the client's
// value or now, backdated to the oldest report entry if one predates it.
func effectiveCreated(created time.Time, entries []ims.ReportEntry, now time.Time) time.Time {
	if created.IsZero() {
		created = now
	}

	for _, entry := range entries {
		if !entry.Created.IsZero() && entry.Created.Before(created) {
			created = entry.Created
		}
	}

	return created
}
