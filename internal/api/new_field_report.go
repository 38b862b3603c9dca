package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// handleNewFieldReport handles POST /ims/api/events/{eventID}/field_reports/.
//
// The server allocates the number and answers 204 No Content with
// Field-Report-Number and Location headers. Reports are born unattached;
// attachment happens through the edit endpoint's action parameter. The
// created timestamp follows the same policy as incidents: missing means
// now, backdated to the oldest contained entry, future-dated is a 400.
func (s *Server) handleNewFieldReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	eventID := r.PathValue("eventID")

	if err := s.authority.Require(ctx, user, eventID, auth.AuthorizationWriteFieldReports); err != nil {
		s.writeStoreError(w, r, "Field report create authorization failed", err)

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var in ims.FieldReportJSON

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&in); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	if in.Event != "" && in.Event != eventID {
		detail := fmt.Sprintf("Field report event %q does not match URL event %q", in.Event, eventID)
		WriteErrorResponse(w, r, s.logger, BadRequest(detail))

		return
	}

	if in.Number != 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Field report number is assigned by the server"))

		return
	}

	now := time.Now().UTC()

	if !in.Created.IsZero() && in.Created.After(now.Add(creationSkewAllowance)) {
		WriteErrorResponse(w, r, s.logger, BadRequest("Field report created timestamp cannot be in the future"))

		return
	}

	report := ims.FieldReportFromJSON(in)
	report.Event = eventID

	for i := range report.ReportEntries {
		report.ReportEntries[i].Author = user.Handle
	}

	report.Created = effectiveCreated(report.Created, report.ReportEntries, now)

	created, err := s.store.CreateFieldReport(ctx, report, user.Handle)
	if err != nil {
		s.writeStoreError(w, r, "Failed to create field report", err)

		return
	}

	s.logger.Info("Field report created",
		slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
		slog.String("event", eventID),
		slog.Int("field_report", created.Number),
		slog.String("user", user.Handle),
	)

	w.Header().Set("Field-Report-Number", strconv.Itoa(created.Number))
	w.Header().Set("Location", fmt.Sprintf("/ims/api/events/%s/field_reports/%d", eventID, created.Number))
	w.WriteHeader(http.StatusNoContent)
}
