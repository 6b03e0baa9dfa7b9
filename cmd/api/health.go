package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// handleHealth reports liveness. A degraded store (writes buffering in
// memory) is still a 200: the node keeps serving verifications, so only a
// dead backend flips the check to 503.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := s.app.Store.Ping(ctx); err != nil {
		status = "store unreachable"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":          status,
		"degraded":        s.app.Store.Degraded(),
		"buffered_writes": s.app.Store.Pending(),
		"uptime":          time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.app.Store.Stats(r.Context())
	if err != nil {
		s.log.Error("❌ Stats query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
