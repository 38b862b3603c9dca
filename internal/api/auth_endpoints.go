// Package api provides the HTTP API server for the Incident Management System.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/directory"
)

// handleLogin handles POST /ims/api/auth.
//
// The body carries {"identification", "password"}; identification is a
// Ranger handle or email address. On success the response is
// 200 {"token": "..."} suitable for the Authorization: Bearer header.
// The optional o query parameter is echoed back so interactive clients
// can restore their pre-login location.
//
// Failure modes:
//   - 400: malformed body or empty identification
//   - 401: unknown user, wrong password, or login disabled
//   - 500: personnel backend unreachable
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.auth == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Authentication is not configured"))

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var request AuthRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&request); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	if strings.TrimSpace(request.Identification) == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Identification cannot be empty"))

		return
	}

	token, err := s.auth.Login(r.Context(), request.Identification, request.Password)
	if err != nil {
		s.writeLoginFailure(w, r, request.Identification, err)

		return
	}

	response := AuthResponse{
		Token:  token,
		Origin: r.URL.Query().Get("o"),
	}

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal auth response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logWriteFailure(r, err)

		return
	}

	s.logger.Info("Login succeeded",
		slog.String("correlation_id", correlationID),
		slog.String("identification", request.Identification),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// writeLoginFailure classifies a login error and answers it. Credential
// failures deliberately do not reveal whether the user exists; directory
// outages surface as 500 because login cannot degrade.
func (s *Server) writeLoginFailure(w http.ResponseWriter, r *http.Request, identification string, err error) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, directory.ErrNoSuchUser) {
		s.logger.Warn("Login failed",
			slog.String("correlation_id", correlationID),
			slog.String("identification", identification),
			slog.String("remote_addr", r.RemoteAddr),
		)
		WriteErrorResponse(w, r, s.logger, Unauthorized("Invalid credentials"))

		return
	}

	s.logger.Error("Login failed against personnel backend",
		slog.String("correlation_id", correlationID),
		slog.String("identification", identification),
		slog.String("error", err.Error()),
	)
	WriteErrorResponse(w, r, s.logger, InternalServerError("Unable to verify credentials"))
}

// handleAuthIdentity handles GET /ims/api/auth: it reports the principal
// attached by the authentication middleware. Anonymous requests get
// {"authenticated": false} rather than an error, so clients can use this
// endpoint to probe a cached token.
func (s *Server) handleAuthIdentity(w http.ResponseWriter, r *http.Request) {
	identity := AuthIdentity{}

	if user := middleware.GetUser(r.Context()); user != nil {
		identity.Authenticated = true
		identity.User = user.Handle
		identity.Admin = user.Admin
	}

	data, err := json.Marshal(identity)
	if err != nil {
		s.logger.Error("Failed to marshal identity response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logWriteFailure(r, err)
	}
}
