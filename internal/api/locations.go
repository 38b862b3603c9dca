// Package api provides the HTTP API server for the Incident Management System.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
)

// handleGetLocations handles GET /ims/api/events/{eventID}/locations/.
// Returns the distinct non-empty locations appearing on the event's
// incidents, so clients can offer "previously seen" location completion.
// Requires incident read access on the event.
func (s *Server) handleGetLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	eventID := r.PathValue("eventID")

	if err := s.authority.Require(ctx, user, eventID, auth.AuthorizationReadIncidents); err != nil {
		s.writeStoreError(w, r, "Location read authorization failed", err)

		return
	}

	incidents, err := s.store.Incidents(ctx, eventID)
	if err != nil {
		s.writeStoreError(w, r, "Failed to load incidents", err)

		return
	}

	// Distinct by serialized form; sorted for a stable stream and ETag.
	seen := make(map[string]struct{})
	serialized := make([]string, 0, len(incidents))

	for _, incident := range incidents {
		if incident.Location.IsEmpty() {
			continue
		}

		item, err := json.Marshal(incident.Location.ToJSON())
		if err != nil {
			s.logger.Error("Failed to marshal location",
				slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
				slog.String("event", eventID),
				slog.Int("incident", incident.Number),
				slog.String("error", err.Error()),
			)
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

			return
		}

		if _, ok := seen[string(item)]; ok {
			continue
		}

		seen[string(item)] = struct{}{}
		serialized = append(serialized, string(item))
	}

	sort.Strings(serialized)

	items := make([][]byte, len(serialized))
	for i, item := range serialized {
		items[i] = []byte(item)
	}

	s.writeJSONCollection(w, r, items)
}
