// Package api provides the HTTP API server for the Incident Management System.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// handleGetStreets handles GET /ims/api/streets.
// Returns concentric street dictionaries keyed by event:
//
//	{"<event>": {"<street id>": "<street name>"}}
//
// With ?event_id=E the document holds that one event and requires
// incident read access on it. Without, it holds every event the caller
// can read incidents for.
func (s *Server) handleGetStreets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	document := make(map[string]map[string]string)

	if eventID := r.URL.Query().Get("event_id"); eventID != "" {
		if err := s.authority.Require(ctx, user, eventID, auth.AuthorizationReadIncidents); err != nil {
			s.writeStoreError(w, r, "Street read authorization failed", err)

			return
		}

		streets, err := s.store.ConcentricStreets(ctx, eventID)
		if err != nil {
			s.writeStoreError(w, r, "Failed to load concentric streets", err)

			return
		}

		document[eventID] = streets
	} else {
		events, err := s.store.Events(ctx)
		if err != nil {
			s.writeStoreError(w, r, "Failed to load events", err)

			return
		}

		for _, event := range events {
			authorizations, err := s.authority.AuthorizationsFor(ctx, user, event.ID)
			if err != nil {
				s.writeStoreError(w, r, "Failed to compute authorizations", err)

				return
			}

			if !authorizations.Has(auth.AuthorizationReadIncidents) {
				continue
			}

			streets, err := s.store.ConcentricStreets(ctx, event.ID)
			if err != nil {
				s.writeStoreError(w, r, "Failed to load concentric streets", err)

				return
			}

			document[event.ID] = streets
		}
	}

	data, err := json.Marshal(document)
	if err != nil {
		s.logger.Error("Failed to marshal streets document",
			slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	s.writeJSONEntity(w, r, data)
}

// handleEditStreets handles POST /ims/api/streets, administrators only.
//
// The body mirrors the GET document. Street dictionaries are add-only:
// entries matching the stored name are ignored, new IDs are created, and
// an attempt to rename an existing ID is rejected with 400. Removal is
// not expressible; absence from the body means "leave alone".
func (s *Server) handleEditStreets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	if err := s.authority.Require(ctx, user, "", auth.AuthorizationAdmin); err != nil {
		s.writeStoreError(w, r, "Street edit authorization failed", err)

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var edits map[string]map[string]string

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&edits); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	created := 0

	for event, streets := range edits {
		if err := ims.ValidateEventID(event); err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

			return
		}

		existing, err := s.store.ConcentricStreets(ctx, event)
		if err != nil {
			s.writeStoreError(w, r, "Failed to load concentric streets", err)

			return
		}

		for id, name := range streets {
			if id == "" || name == "" {
				WriteErrorResponse(w, r, s.logger, BadRequest("Street ID and name cannot be empty"))

				return
			}

			if stored, ok := existing[id]; ok {
				if stored == name {
					continue
				}

				detail := fmt.Sprintf("Street %q in event %q cannot be modified or removed", id, event)
				WriteErrorResponse(w, r, s.logger, BadRequest(detail))

				return
			}

			if err := s.store.CreateConcentricStreet(ctx, event, id, name); err != nil {
				s.writeStoreError(w, r, "Failed to create concentric street", err)

				return
			}

			created++
		}
	}

	s.logger.Info("Concentric streets updated",
		slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
		slog.String("user", user.Handle),
		slog.Int("created", created),
	)

	w.WriteHeader(http.StatusNoContent)
}
