package main

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"mailreach/internal/store"
)

func (s *server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing 'id' parameter")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	rows, err := s.app.Store.JobResults(r.Context(), id, limit, offset)
	if err != nil {
		s.log.Error("❌ Job results query failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch results")
		return
	}

	// Return an empty array `[]` instead of `null` when nothing is done yet.
	if rows == nil {
		rows = []store.JobResultRow{}
	}

	writeJSON(w, http.StatusOK, rows)
}
