package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/auth"
)

// handleEventSource handles GET /ims/api/eventsource.
//
// The connection stays open and one text/event-stream frame goes out per
// committed store write, starting with the InitialEvent counter frame.
// Any authenticated user may subscribe: frames carry only (event, number)
// references, and reading the referenced entities goes back through the
// authorized endpoints.
func (s *Server) handleEventSource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	if user == nil {
		s.writeStoreError(w, r, "Event stream authorization failed", auth.ErrNotAuthenticated)

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")

	// The server-wide write deadline would sever a long-lived stream;
	// this connection manages its own lifetime through the request
	// context instead.
	controller := http.NewResponseController(w)
	if err := controller.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Warn("Event stream write deadline not cleared",
			slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
			slog.String("error", err.Error()),
		)
	}

	initial, frames := s.eventBus.Subscribe(ctx)

	if err := writeFrame(w, controller, initial.Render()); err != nil {
		s.logWriteFailure(r, err)

		return
	}

	s.logger.Info("Event stream connected",
		slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
		slog.String("user", user.Handle),
	)

	// Returning cancels the request context, which deregisters the
	// listener and closes frames.
	for frame := range frames {
		if err := writeFrame(w, controller, frame.Render()); err != nil {
			s.logWriteFailure(r, err)

			return
		}
	}
}

// writeFrame pushes one rendered frame through any buffering in the
// response path so subscribers see it immediately.
func writeFrame(w http.ResponseWriter, controller *http.ResponseController, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}

	return controller.Flush()
}
