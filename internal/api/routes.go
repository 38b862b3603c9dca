// Package api provides the HTTP API server for the Incident Management System.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
)

const (
	healthCheckTimeout     = 2 * time.Second
	contentTypeProblemJSON = "application/problem+json"
)

// Route represents an HTTP route configuration with a path and handler.
// Used for declarative route registration with middleware bypass support.
type Route struct {
	Path    string           // The route pattern (e.g., "GET /ims/api/ping")
	Handler http.HandlerFunc // The HTTP handler function for this route
}

// setupRoutes sets up all HTTP routes for the API server.
//
// Everything lives under the /ims/api/ prefix. Collection endpoints use
// the {$} anchor so an item pattern and its collection never shadow each
// other. The bare event URL /ims/api/events/{id}/ has no operation and
// falls through to the 404 handler.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public endpoints: liveness, readiness, and login. Login is public
	// for POST only, so an expired token in the Authorization header
	// cannot lock a client out of re-authenticating.
	s.registerPublicRoutes(
		mux,
		Route{"GET /ims/api/ping", s.handlePing},   // Liveness probe
		Route{"GET /ims/api/ready", s.handleReady}, // Readiness probe backed by store health
		Route{"POST /ims/api/auth", s.handleLogin},
		Route{"/", s.handleNotFound}, // Catch-all handler for 404 responses
	)

	// Identity of the current principal
	mux.HandleFunc("GET /ims/api/auth", s.handleAuthIdentity)

	// Admin surfaces
	mux.HandleFunc("GET /ims/api/access", s.handleGetAccess)
	mux.HandleFunc("POST /ims/api/access", s.handleEditAccess)
	mux.HandleFunc("GET /ims/api/streets", s.handleGetStreets)
	mux.HandleFunc("POST /ims/api/streets", s.handleEditStreets)

	// Catalog and directory reads
	mux.HandleFunc("GET /ims/api/personnel/{$}", s.handleGetPersonnel)
	mux.HandleFunc("GET /ims/api/incident_types/{$}", s.handleGetIncidentTypes)
	mux.HandleFunc("POST /ims/api/incident_types/{$}", s.handleEditIncidentTypes)

	// Events and everything they own
	mux.HandleFunc("GET /ims/api/events/{$}", s.handleGetEvents)
	mux.HandleFunc("POST /ims/api/events/{$}", s.handleEditEvents)
	mux.HandleFunc("GET /ims/api/events/{eventID}/locations/{$}", s.handleGetLocations)
	mux.HandleFunc("GET /ims/api/events/{eventID}/incidents/{$}", s.handleGetIncidents)
	mux.HandleFunc("POST /ims/api/events/{eventID}/incidents/{$}", s.handleNewIncident)
	mux.HandleFunc("GET /ims/api/events/{eventID}/incidents/{number}", s.handleGetIncident)
	mux.HandleFunc("POST /ims/api/events/{eventID}/incidents/{number}", s.handleEditIncident)
	mux.HandleFunc("GET /ims/api/events/{eventID}/field_reports/{$}", s.handleGetFieldReports)
	mux.HandleFunc("POST /ims/api/events/{eventID}/field_reports/{$}", s.handleNewFieldReport)
	mux.HandleFunc("GET /ims/api/events/{eventID}/field_reports/{number}", s.handleGetFieldReport)
	mux.HandleFunc("POST /ims/api/events/{eventID}/field_reports/{number}", s.handleEditFieldReport)

	// Server-sent event stream
	mux.HandleFunc("GET /ims/api/eventsource", s.handleEventSource)
}

// registerPublicRoutes registers HTTP routes that bypass authentication.
// This is a convenience method that:
//  1. Registers the route handler with the HTTP mux
//  2. Registers the pattern as a public endpoint (bypasses auth middleware)
//
// The middleware matches both bare paths and method-qualified patterns,
// so the mux pattern doubles as the bypass key. Patterns here must be
// literal paths: a wildcard would register fine with the mux but never
// match the bypass lookup.
//
// Security Warning: Never register an endpoint that serves incident data
// as a public route.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		if strings.ContainsAny(route.Path, "{}") {
			s.logger.Warn("Public route pattern contains wildcards, ignoring route",
				slog.String("path", route.Path),
			)

			continue
		}

		mux.Handle(route.Path, route.Handler)
		middleware.RegisterPublicEndpoint(route.Path)
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	_, err := w.Write([]byte("ack"))
	if err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to readiness probes with a storage health check.
//
// Response codes:
//   - 200 OK: The store is healthy and ready to accept traffic
//   - 503 Service Unavailable: The store is unhealthy or unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)

		_, writeErr := w.Write([]byte("storage unavailable"))
		if writeErr != nil {
			s.logger.Error("Failed to write unavailable response",
				slog.String("correlation_id", correlationID),
				slog.String("error", writeErr.Error()),
			)
		}

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	_, err := w.Write([]byte("ready"))
	if err != nil {
		s.logger.Error("Failed to write ready response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
