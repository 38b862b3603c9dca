// Package api provides the HTTP API server for the Incident Management System.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
)

// parseNumber parses the {number} path segment. Incident and field
// report numbers start at 1.
func parseNumber(r *http.Request) (int, *ProblemDetail) {
	raw := r.PathValue("number")

	number, err := strconv.Atoi(raw)
	if err != nil || number < 1 {
		return 0, BadRequest("Invalid number: " + raw)
	}

	return number, nil
}

// handleGetIncidents handles GET /ims/api/events/{eventID}/incidents/.
// Streams the event's incidents, ordered by number, as a JSON array with
// one flush per incident. Requires incident read access on the event.
func (s *Server) handleGetIncidents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	eventID := r.PathValue("eventID")

	if err := s.authority.Require(ctx, user, eventID, auth.AuthorizationReadIncidents); err != nil {
		s.writeStoreError(w, r, "Incident read authorization failed", err)

		return
	}

	incidents, err := s.store.Incidents(ctx, eventID)
	if err != nil {
		s.writeStoreError(w, r, "Failed to load incidents", err)

		return
	}

	items := make([][]byte, 0, len(incidents))

	for _, incident := range incidents {
		item, err := json.Marshal(incident.ToJSON())
		if err != nil {
			s.logger.Error("Failed to marshal incident",
				slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
				slog.String("event", eventID),
				slog.Int("incident", incident.Number),
				slog.String("error", err.Error()),
			)
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

			return
		}

		items = append(items, item)
	}

	s.writeJSONCollection(w, r, items)
}

// handleGetIncident handles GET /ims/api/events/{eventID}/incidents/{number}.
func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	eventID := r.PathValue("eventID")

	number, problem := parseNumber(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if err := s.authority.Require(ctx, user, eventID, auth.AuthorizationReadIncidents); err != nil {
		s.writeStoreError(w, r, "Incident read authorization failed", err)

		return
	}

	incident, err := s.store.IncidentWithNumber(ctx, eventID, number)
	if err != nil {
		s.writeStoreError(w, r, "Failed to load incident", err)

		return
	}

	data, err := json.Marshal(incident.ToJSON())
	if err != nil {
		s.logger.Error("Failed to marshal incident",
			slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
			slog.String("event", eventID),
			slog.Int("incident", number),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	s.writeJSONEntity(w, r, data)
}
