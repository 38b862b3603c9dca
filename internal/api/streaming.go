// Package api provides the HTTP API server for the Incident Management System.
package api

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/api/middleware"
)

// Read responses carry an ETag derived from a content hash, so clients
// and proxies can revalidate cheaply. Collections hash the per-item
// serializations produced for streaming; the hash is therefore available
// before the first byte of the body goes out.

// collectionETag hashes the item serializations into a quoted ETag.
func collectionETag(items [][]byte) string {
	h := sha256.New()
	for _, item := range items {
		_, _ = h.Write(item)
	}

	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
}

// entityETag hashes a single serialized document into a quoted ETag.
func entityETag(data []byte) string {
	sum := sha256.Sum256(data)

	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// writeJSONCollection streams pre-serialized items as a JSON array,
// flushing after each item so large collections render progressively.
// Responds 304 Not Modified when the client already holds the current
// representation.
func (s *Server) writeJSONCollection(w http.ResponseWriter, r *http.Request, items [][]byte) {
	etag := collectionETag(items)
	if clientHasCurrent(r, etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	if _, err := w.Write([]byte("[")); err != nil {
		s.logWriteFailure(r, err)

		return
	}

	for i, item := range items {
		if i > 0 {
			if _, err := w.Write([]byte(",")); err != nil {
				s.logWriteFailure(r, err)

				return
			}
		}

		if _, err := w.Write(item); err != nil {
			s.logWriteFailure(r, err)

			return
		}

		_ = rc.Flush()
	}

	if _, err := w.Write([]byte("]")); err != nil {
		s.logWriteFailure(r, err)
	}
}

// writeJSONEntity writes one serialized JSON document with its ETag.
func (s *Server) writeJSONEntity(w http.ResponseWriter, r *http.Request, data []byte) {
	etag := entityETag(data)
	if clientHasCurrent(r, etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logWriteFailure(r, err)
	}
}

// clientHasCurrent reports whether the request's If-None-Match matches
// the computed ETag. Only the exact single-value form is recognized;
// anything fancier revalidates the hard way.
func clientHasCurrent(r *http.Request, etag string) bool {
	return r.Header.Get("If-None-Match") == etag
}

// logWriteFailure records a failed response write. Headers are out by
// then, so logging is all that is left to do.
func (s *Server) logWriteFailure(r *http.Request, err error) {
	s.logger.Error("Failed to write response",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}
