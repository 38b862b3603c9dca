// Package api provides the HTTP API server for the Incident Management System.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// handleGetPersonnel handles GET /ims/api/personnel/.
// Returns the personnel roster as a streamed JSON array. Any
// authenticated user may read it; credentials and position membership
// never appear on the wire.
//
// A directory outage degrades to an empty roster rather than an error:
// assignment pickers go empty, incident handling keeps working.
func (s *Server) handleGetPersonnel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	if err := s.authority.Require(ctx, user, "", auth.AuthorizationReadPersonnel); err != nil {
		s.writeStoreError(w, r, "Personnel read authorization failed", err)

		return
	}

	var rangers []ims.Ranger

	if s.personnel != nil {
		var err error

		rangers, err = s.personnel.Personnel(ctx)
		if err != nil {
			s.logger.Warn("Personnel directory unavailable, serving empty roster",
				slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
				slog.String("error", err.Error()),
			)

			rangers = nil
		}
	}

	items := make([][]byte, 0, len(rangers))

	for _, ranger := range rangers {
		item, err := json.Marshal(PersonnelJSON{
			Handle:      ranger.Handle,
			Status:      ranger.Status,
			Onsite:      ranger.Onsite,
			DirectoryID: ranger.DirectoryID,
		})
		if err != nil {
			s.logger.Error("Failed to marshal personnel entry",
				slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
				slog.String("handle", ranger.Handle),
				slog.String("error", err.Error()),
			)
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

			return
		}

		items = append(items, item)
	}

	s.writeJSONCollection(w, r, items)
}
