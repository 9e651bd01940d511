package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/hearth/internal/api/middleware"
	"github.com/phrazzld/hearth/internal/platform/logger"
)

const maxIDLength = 128

// getPathID extracts an entity id from the URL path parameters.
func getPathID(r *http.Request, paramName string) (string, error) {
	id := chi.URLParam(r, paramName)
	if id == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidID, paramName)
	}
	if len(id) > maxIDLength {
		return "", fmt.Errorf("%w: %s is too long", ErrInvalidID, paramName)
	}
	return id, nil
}

// handleActorAndPathID extracts the acting user and an id from the path.
// It writes an error response and returns false if either is missing.
func handleActorAndPathID(w http.ResponseWriter, r *http.Request, paramName string) (string, string, bool) {
	log := logger.FromContextOrDefault(r.Context(), slog.Default())

	actor, ok := middleware.GetActor(r)
	if !ok {
		log.Warn("actor not found in request context")
		HandleAPIError(w, r, ErrInvalidRequest, "User not identified")
		return "", "", false
	}

	id, err := getPathID(r, paramName)
	if err != nil {
		log.Warn("invalid "+paramName, slog.String("value", chi.URLParam(r, paramName)))
		HandleAPIError(w, r, err, "")
		return "", "", false
	}
	return actor, id, true
}
