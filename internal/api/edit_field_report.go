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

// Attachment actions accepted by the field report edit endpoint.
const (
	actionAttach = "attach"
	actionDetach = "detach"
)

// handleEditFieldReport handles POST /ims/api/events/{eventID}/field_reports/{number}.
//
// Two edit surfaces share the endpoint. The ?action=attach&incident=N and
// ?action=detach query forms manage the incident attachment, and the JSON
// body carries field edits (summary, appended report entries). A request
// may use either or both; the action applies first.
func (s *Server) handleEditFieldReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	eventID := r.PathValue("eventID")

	number, problem := parseNumber(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if err := s.authority.Require(ctx, user, eventID, auth.AuthorizationWriteFieldReports); err != nil {
		s.writeStoreError(w, r, "Field report edit authorization failed", err)

		return
	}

	// Action-only requests carry no body, so the media type is checked
	// only when one is present.
	if r.ContentLength != 0 && !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	query := r.URL.Query()

	// The query's event parameter is redundant with the URL path; a
	// contradiction means the client is attaching across events.
	if queryEvent := query.Get("event"); queryEvent != "" && queryEvent != eventID {
		detail := fmt.Sprintf("Field report belongs to event %q, not %q", eventID, queryEvent)
		WriteErrorResponse(w, r, s.logger, Conflict(detail))

		return
	}

	action := query.Get("action")

	incidentNumber := 0

	switch action {
	case "":
	case actionAttach:
		raw := query.Get("incident")

		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			WriteErrorResponse(w, r, s.logger, BadRequest("Invalid incident number: "+raw))

			return
		}

		incidentNumber = parsed
	case actionDetach:
	default:
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid action: "+action))

		return
	}

	changes, problem := s.parseFieldReportEdit(r, user.Handle, eventID, number)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	switch action {
	case actionAttach:
		if err := s.store.AttachFieldReportToIncident(ctx, eventID, number, incidentNumber, user.Handle); err != nil {
			s.writeStoreError(w, r, "Failed to attach field report", err)

			return
		}
	case actionDetach:
		if err := s.store.DetachFieldReportFromIncident(ctx, eventID, number, user.Handle); err != nil {
			s.writeStoreError(w, r, "Failed to detach field report", err)

			return
		}
	}

	if !changes.IsEmpty() {
		if err := s.store.UpdateFieldReport(ctx, eventID, number, changes, user.Handle); err != nil {
			s.writeStoreError(w, r, "Failed to update field report", err)

			return
		}
	}

	s.logger.Info("Field report updated",
		slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
		slog.String("event", eventID),
		slog.Int("field_report", number),
		slog.String("action", action),
		slog.String("user", user.Handle),
	)

	w.WriteHeader(http.StatusNoContent)
}

// parseFieldReportEdit decodes the body into a change set. An empty body
// is a valid no-op so action-only requests need not carry JSON. The
// number, created timestamp, and attachment may not be edited through the
// body; exact echoes of the stored values pass.
func (s *Server) parseFieldReportEdit(
	r *http.Request,
	author, eventID string,
	number int,
) (storage.FieldReportChanges, *ProblemDetail) {
	var changes storage.FieldReportChanges

	var body map[string]json.RawMessage

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return changes, nil
		}

		return changes, BadRequest("Invalid JSON: " + err.Error())
	}

	if len(body) == 0 {
		return changes, nil
	}

	stored, err := s.store.FieldReportWithNumber(r.Context(), eventID, number)
	if err != nil {
		return changes, problemForError(err)
	}

	if problem := checkImmutableFieldReportKeys(body, stored); problem != nil {
		return changes, problem
	}

	if raw, ok := body["summary"]; ok {
		value, err := decodeClearableString(raw, "summary")
		if err != nil {
			return changes, BadRequest("Invalid field report edit: " + err.Error())
		}

		changes.Summary = value
	}

	if raw, ok := body["report_entries"]; ok {
		var entries []ims.ReportEntryJSON
		if err := json.Unmarshal(raw, &entries); err != nil {
			return changes, BadRequest("Invalid field report edit: report_entries: " + err.Error())
		}

		for _, entry := range entries {
			appended := ims.ReportEntryFromJSON(entry)
			appended.Author = author
			appended.Generated = false
			changes.ReportEntries = append(changes.ReportEntries, appended)
		}
	}

	return changes, nil
}

// checkImmutableFieldReportKeys mirrors checkImmutableIncidentKeys for
// field reports. The incident key changes only through the action
// parameter, never through the body.
func checkImmutableFieldReportKeys(body map[string]json.RawMessage, stored ims.FieldReport) *ProblemDetail {
	if raw, ok := body["event"]; ok {
		var event string
		if err := json.Unmarshal(raw, &event); err != nil || event != stored.Event {
			return BadRequest("Field report event cannot be changed")
		}
	}

	if raw, ok := body["number"]; ok {
		var number int
		if err := json.Unmarshal(raw, &number); err != nil || number != stored.Number {
			return BadRequest("Field report number cannot be changed")
		}
	}

	if raw, ok := body["created"]; ok {
		var created time.Time
		if err := json.Unmarshal(raw, &created); err != nil || !created.Equal(stored.Created) {
			return BadRequest("Field report created timestamp cannot be changed")
		}
	}

	if raw, ok := body["incident"]; ok {
		var incident *int
		if err := json.Unmarshal(raw, &incident); err != nil {
			return BadRequest("Field report attachment changes only through the action parameter")
		}

		echoed := 0
		if incident != nil {
			echoed = *incident
		}

		if echoed != stored.Incident {
			return BadRequest("Field report attachment changes only through the action parameter")
		}
	}

	return nil
}
