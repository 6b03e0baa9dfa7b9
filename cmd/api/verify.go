package main

import (
	"encoding/json"
	"net/http"
	"time"

	"mailreach/internal/models"
)

type verifyRequest struct {
	Email   string `json:"email"`
	First   string `json:"first"`
	Last    string `json:"last"`
	Company string `json:"company"`
}

// verifyResponse is the stored verdict plus request-scoped fields.
type verifyResponse struct {
	*models.Verdict
	Reason   string `json:"reason,omitempty"`
	Duration string `json:"duration"`
}

// handleVerify answers for a single address. GET takes query parameters,
// POST a JSON body; both accept optional person hints that sharpen the
// pattern and enrichment tiers.
func (s *server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var email string
	var hint models.PersonHint

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		email = q.Get("email")
		hint = models.PersonHint{First: q.Get("first"), Last: q.Get("last"), Company: q.Get("company")}
	case http.MethodPost:
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		email = req.Email
		hint = models.PersonHint{First: req.First, Last: req.Last, Company: req.Company}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if email == "" {
		writeError(w, http.StatusBadRequest, "missing 'email' parameter")
		return
	}

	start := time.Now()
	verdict, err := s.app.Verifier.Verify(r.Context(), email, hint)
	if err != nil {
		// The only error Verify returns is malformed input.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Verdict:  verdict,
		Reason:   verdict.Error,
		Duration: time.Since(start).String(),
	})
}
