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

// handleGetAccess handles GET /ims/api/access.
// Returns the full per-event ACL document, administrators only:
//
//	{"<event>": {"readers": [...], "writers": [...], "reporters": [...]}}
func (s *Server) handleGetAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	if err := s.authority.Require(ctx, user, "", auth.AuthorizationAdmin); err != nil {
		s.writeStoreError(w, r, "Access document authorization failed", err)

		return
	}

	events, err := s.store.Events(ctx)
	if err != nil {
		s.writeStoreError(w, r, "Failed to load events", err)

		return
	}

	document := make(map[string]AccessJSON, len(events))

	for _, event := range events {
		access, err := s.loadEventAccess(r, event.ID)
		if err != nil {
			s.writeStoreError(w, r, "Failed to load event access", err)

			return
		}

		document[event.ID] = access
	}

	data, err := json.Marshal(document)
	if err != nil {
		s.logger.Error("Failed to marshal access document",
			slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	s.writeJSONEntity(w, r, data)
}

// loadEventAccess reads one event's three ACLs.
func (s *Server) loadEventAccess(r *http.Request, event string) (AccessJSON, error) {
	ctx := r.Context()

	readers, err := s.store.Readers(ctx, event)
	if err != nil {
		return AccessJSON{}, fmt.Errorf("readers for %s: %w", event, err)
	}

	writers, err := s.store.Writers(ctx, event)
	if err != nil {
		return AccessJSON{}, fmt.Errorf("writers for %s: %w", event, err)
	}

	reporters, err := s.store.Reporters(ctx, event)
	if err != nil {
		return AccessJSON{}, fmt.Errorf("reporters for %s: %w", event, err)
	}

	return AccessJSON{
		Readers:   emptyNotNilStrings(readers),
		Writers:   emptyNotNilStrings(writers),
		Reporters: emptyNotNilStrings(reporters),
	}, nil
}

// handleEditAccess handles POST /ims/api/access, administrators only.
//
// The body mirrors the GET document but is partial both ways: only the
// events present are touched, and per event only the lists present are
// replaced. A present empty list clears that ACL. Every expression must
// validate; one bad expression fails the whole request with 400 before
// anything is written.
func (s *Server) handleEditAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	if err := s.authority.Require(ctx, user, "", auth.AuthorizationAdmin); err != nil {
		s.writeStoreError(w, r, "Access edit authorization failed", err)

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var edits map[string]AccessEditJSON

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&edits); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	// Validate everything up front so a bad expression cannot leave the
	// document half-applied.
	for event, edit := range edits {
		if err := ims.ValidateEventID(event); err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

			return
		}

		for _, list := range []*[]string{edit.Readers, edit.Writers, edit.Reporters} {
			if list == nil {
				continue
			}

			for _, expression := range *list {
				if err := ims.ValidateAccessExpression(expression); err != nil {
					WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

					return
				}
			}
		}
	}

	for event, edit := range edits {
		if err := s.applyAccessEdit(r, event, edit); err != nil {
			s.writeStoreError(w, r, "Failed to apply access edit", err)

			return
		}
	}

	s.logger.Info("Access document updated",
		slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
		slog.String("user", user.Handle),
		slog.Int("events", len(edits)),
	)

	w.WriteHeader(http.StatusNoContent)
}

// applyAccessEdit replaces the ACL lists present in the edit.
func (s *Server) applyAccessEdit(r *http.Request, event string, edit AccessEditJSON) error {
	ctx := r.Context()

	if edit.Readers != nil {
		if err := s.store.SetReaders(ctx, event, *edit.Readers); err != nil {
			return fmt.Errorf("set readers for %s: %w", event, err)
		}
	}

	if edit.Writers != nil {
		if err := s.store.SetWriters(ctx, event, *edit.Writers); err != nil {
			return fmt.Errorf("set writers for %s: %w", event, err)
		}
	}

	if edit.Reporters != nil {
		if err := s.store.SetReporters(ctx, event, *edit.Reporters); err != nil {
			return fmt.Errorf("set reporters for %s: %w", event, err)
		}
	}

	return nil
}

// emptyNotNilStrings keeps ACL lists as [] rather than null on the wire.
func emptyNotNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}
