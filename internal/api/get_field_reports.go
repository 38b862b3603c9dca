package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
)

// handleGetFieldReports handles GET /ims/api/events/{eventID}/field_reports/.
//
// Visibility follows the attachment policy: the field-report read
// capability covers every report in the event, while plain incident
// readers see only reports attached to an incident. The optional
// ?incident=N query narrows the list to reports attached to incident N.
func (s *Server) handleGetFieldReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	eventID := r.PathValue("eventID")

	authorizations, err := s.authority.AuthorizationsFor(ctx, user, eventID)
	if err != nil {
		s.writeStoreError(w, r, "Field report list authorization failed", err)

		return
	}

	seesAll := authorizations.Has(auth.AuthorizationReadFieldReports)

	if !seesAll && !authorizations.Has(auth.AuthorizationReadIncidents) {
		err := auth.ErrNotAuthorized
		if user == nil {
			err = auth.ErrNotAuthenticated
		}

		s.writeStoreError(w, r, "Field report list authorization failed", err)

		return
	}

	incidentFilter := 0

	if raw := r.URL.Query().Get("incident"); raw != "" {
		number, err := strconv.Atoi(raw)
		if err != nil || number < 1 {
			WriteErrorResponse(w, r, s.logger, BadRequest("Invalid incident number: "+raw))

			return
		}

		incidentFilter = number
	}

	reports, err := s.store.FieldReports(ctx, eventID)
	if err != nil {
		s.writeStoreError(w, r, "Failed to list field reports", err)

		return
	}

	items := make([][]byte, 0, len(reports))

	for _, report := range reports {
		if incidentFilter != 0 && report.Incident != incidentFilter {
			continue
		}

		if !seesAll && !report.Attached() {
			continue
		}

		data, err := json.Marshal(report.ToJSON())
		if err != nil {
			s.writeStoreError(w, r, "Failed to serialize field report", err)

			return
		}

		items = append(items, data)
	}

	s.writeJSONCollection(w, r, items)
}

// handleGetFieldReport handles GET /ims/api/events/{eventID}/field_reports/{number}.
func (s *Server) handleGetFieldReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	eventID := r.PathValue("eventID")

	number, problem := parseNumber(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if err := s.authority.RequireFieldReportRead(ctx, user, eventID, number); err != nil {
		s.writeStoreError(w, r, "Field report read authorization failed", err)

		return
	}

	report, err := s.store.FieldReportWithNumber(ctx, eventID, number)
	if err != nil {
		s.writeStoreError(w, r, "Failed to load field report", err)

		return
	}

	data, err := json.Marshal(report.ToJSON())
	if err != nil {
		s.writeStoreError(w, r, "Failed to serialize field report", err)

		return
	}

	s.writeJSONEntity(w, r, data)
}
