package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aristath/pitmetrics/internal/database"
	"github.com/aristath/pitmetrics/internal/engine"
	"github.com/aristath/pitmetrics/internal/parse"
	"github.com/aristath/pitmetrics/internal/version"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	databases := make(map[string]string)

	for _, db := range []*database.DB{s.pitDB, s.cacheDB} {
		if db == nil {
			continue
		}
		if err := db.Conn().PingContext(r.Context()); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("Health check ping failed")
			databases[db.Name()] = "unreachable"
			status = http.StatusServiceUnavailable
			continue
		}
		databases[db.Name()] = "ok"
	}

	health := "healthy"
	if status != http.StatusOK {
		health = "unhealthy"
	}

	writeJSON(s.log, w, status, map[string]interface{}{
		"status":    health,
		"version":   version.Version,
		"service":   "pitmetrics",
		"databases": databases,
	})
}

// writeJSON writes a JSON response
func writeJSON(log zerolog.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// statusFor maps request-level errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest),
		errors.Is(err, parse.ErrSyntax),
		errors.Is(err, parse.ErrUnknownField):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes {"error": msg} with the status statusFor picks
func writeError(log zerolog.Logger, w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
		msg = "Internal server error"
	}
	writeJSON(log, w, status, map[string]string{"error": msg})
}
