package preview

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

const defaultReleaseLimit = 50

// handleReleases lists the most recent ledger entries, newest first
func (s *Server) handleReleases(w http.ResponseWriter, r *http.Request) {
	if s.config.Ledger == nil {
		writeErrorResponse(w, http.StatusNotFound, "release ledger not configured")
		return
	}

	limit := defaultReleaseLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErrorResponse(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	releases, err := s.config.Ledger.Recent(limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, releases)
}

// handleState reports the persisted publish signal
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.config.State == nil {
		writeErrorResponse(w, http.StatusNotFound, "state not configured")
		return
	}
	rec, err := s.config.State.Load()
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"pending":   rec.Pending,
		"run_id":    rec.RunID,
		"raised_at": rec.RaisedAt,
		"releases":  len(rec.Releases),
	})
}

func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
