package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mailreach/internal/models"
	"mailreach/internal/validator"
)

type batchEntry struct {
	Email   string `json:"email"`
	First   string `json:"first,omitempty"`
	Last    string `json:"last,omitempty"`
	Company string `json:"company,omitempty"`
}

type batchRequest struct {
	Entries []batchEntry `json:"entries"`
	// Emails is shorthand for entries without person hints.
	Emails []string `json:"emails"`
}

type batchResponse struct {
	Results  []*models.Verdict `json:"results"`
	Count    int               `json:"count"`
	Duration string            `json:"duration"`
}

// handleBatch verifies a list synchronously, bounded by BATCH_MAX. Anything
// bigger belongs in a CSV job.
func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reqs := make([]validator.Request, 0, len(req.Entries)+len(req.Emails))
	for _, e := range req.Entries {
		reqs = append(reqs, validator.Request{
			Email: e.Email,
			Hint:  models.PersonHint{First: e.First, Last: e.Last, Company: e.Company},
		})
	}
	for _, email := range req.Emails {
		reqs = append(reqs, validator.Request{Email: email})
	}

	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch: provide 'entries' or 'emails'")
		return
	}
	if max := s.app.Cfg.BatchMax; len(reqs) > max {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch too large: %d addresses (max %d); upload a CSV job instead", len(reqs), max))
		return
	}

	start := time.Now()
	results := s.app.Verifier.VerifyBatch(r.Context(), reqs)

	writeJSON(w, http.StatusOK, batchResponse{
		Results:  results,
		Count:    len(results),
		Duration: time.Since(start).String(),
	})
}
