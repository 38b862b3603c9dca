// Package api provides the HTTP API server for the Incident Management System.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
)

// handleGetIncidentTypes handles GET /ims/api/incident_types/.
// Returns the catalog as a streamed JSON array of names. Any
// authenticated user may read the visible catalog; ?hidden=true includes
// hidden entries and is limited to administrators, whose console derives
// the hidden set by comparing the two variants.
func (s *Server) handleGetIncidentTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	includeHidden := r.URL.Query().Get("hidden") == "true"

	required := auth.AuthorizationReadPersonnel
	if includeHidden {
		required = auth.AuthorizationAdmin
	}

	if err := s.authority.Require(ctx, user, "", required); err != nil {
		s.writeStoreError(w, r, "Incident type read authorization failed", err)

		return
	}

	types, err := s.store.IncidentTypes(ctx, includeHidden)
	if err != nil {
		s.writeStoreError(w, r, "Failed to load incident types", err)

		return
	}

	items := make([][]byte, 0, len(types))

	for _, incidentType := range types {
		item, err := json.Marshal(incidentType.Name)
		if err != nil {
			s.logger.Error("Failed to marshal incident type",
				slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
				slog.String("error", err.Error()),
			)
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

			return
		}

		items = append(items, item)
	}

	s.writeJSONCollection(w, r, items)
}

// handleEditIncidentTypes handles POST /ims/api/incident_types/,
// administrators only.
//
// The body is {"add": [...], "show": [...], "hide": [...]}. Adds are
// idempotent and created visible; show and hide toggle the hidden flag
// on existing entries and answer 404 for unknown names. Types are never
// deleted, so hiding is how a retired type leaves the pickers while
// staying attached to its incidents.
func (s *Server) handleEditIncidentTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	if err := s.authority.Require(ctx, user, "", auth.AuthorizationAdmin); err != nil {
		s.writeStoreError(w, r, "Incident type edit authorization failed", err)

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var edits EditIncidentTypesRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&edits); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	for _, name := range edits.Add {
		if name == "" {
			WriteErrorResponse(w, r, s.logger, BadRequest("Incident type name cannot be empty"))

			return
		}

		if err := s.store.CreateIncidentType(ctx, name, false); err != nil {
			s.writeStoreError(w, r, "Failed to create incident type", err)

			return
		}
	}

	if len(edits.Show) > 0 {
		if err := s.store.ShowIncidentTypes(ctx, edits.Show); err != nil {
			s.writeStoreError(w, r, "Failed to show incident types", err)

			return
		}
	}

	if len(edits.Hide) > 0 {
		if err := s.store.HideIncidentTypes(ctx, edits.Hide); err != nil {
			s.writeStoreError(w, r, "Failed to hide incident types", err)

			return
		}
	}

	s.logger.Info("Incident type catalog updated",
		slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
		slog.String("user", user.Handle),
		slog.Int("added", len(edits.Add)),
		slog.Int("shown", len(edits.Show)),
		slog.Int("hidden", len(edits.Hide)),
	)

	w.WriteHeader(http.StatusNoContent)
}
