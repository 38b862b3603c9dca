// Package api provides the HTTP API server for the Incident Management System.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// handleGetEvents handles GET /ims/api/events/.
// Returns the events the caller holds any access to, as a streamed JSON
// array of {"id": "..."} objects. Anonymous callers see an empty list
// rather than an error; the events list doubles as the login landing
// data for every client.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	events, err := s.store.Events(ctx)
	if err != nil {
		s.writeStoreError(w, r, "Failed to load events", err)

		return
	}

	items := make([][]byte, 0, len(events))

	for _, event := range events {
		visible, err := s.authority.HasEventAccess(ctx, user, event.ID)
		if err != nil {
			s.writeStoreError(w, r, "Failed to compute event access", err)

			return
		}

		if !visible {
			continue
		}

		item, err := json.Marshal(EventJSON{ID: event.ID})
		if err != nil {
			s.logger.Error("Failed to marshal event",
				slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
				slog.String("event", event.ID),
				slog.String("error", err.Error()),
			)
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

			return
		}

		items = append(items, item)
	}

	s.writeJSONCollection(w, r, items)
}

// handleEditEvents handles POST /ims/api/events/, administrators only.
// The body is {"add": ["2024", ...]}; creation is idempotent and events
// are never deleted.
func (s *Server) handleEditEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	if err := s.authority.Require(ctx, user, "", auth.AuthorizationAdmin); err != nil {
		s.writeStoreError(w, r, "Event edit authorization failed", err)

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var edits EditEventsRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&edits); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	for _, id := range edits.Add {
		event := ims.Event{ID: id}
		if err := event.Validate(); err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

			return
		}
	}

	for _, id := range edits.Add {
		if err := s.store.CreateEvent(ctx, ims.Event{ID: id}); err != nil {
			s.writeStoreError(w, r, "Failed to create event", err)

			return
		}
	}

	s.logger.Info("Events created",
		slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
		slog.String("user", user.Handle),
		slog.Int("count", len(edits.Add)),
	)

	w.WriteHeader(http.StatusNoContent)
}
