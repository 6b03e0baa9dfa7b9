package main

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailreach/internal/queue"
	"mailreach/internal/validator"
)

const (
	maxUploadBytes = 10 << 20
	inlineChunk    = 100
)

type uploadResponse struct {
	JobID     string `json:"job_id"`
	TotalRows int    `json:"total_rows"`
	Message   string `json:"message"`
}

// handleUpload accepts a CSV (addresses in the first column), registers a
// job and fans the rows out to queue workers. Without a queue the rows are
// processed inline on a background goroutine, chunk by chunk.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or malformed")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' field in form data")
		return
	}
	defer file.Close()

	emails, err := readEmailColumn(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid CSV format")
		return
	}
	if len(emails) == 0 {
		writeError(w, http.StatusBadRequest, "CSV contains no addresses")
		return
	}

	jobID := uuid.New().String()
	if err := s.app.Store.CreateJob(r.Context(), jobID, len(emails)); err != nil {
		s.log.Error("❌ Job create failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	// Queue what we can; anything the broker refuses falls back to inline
	// processing so the job always reaches its total.
	var leftover []string
	if s.app.Queue.Enabled() {
		for i, email := range emails {
			err := s.app.Queue.Enqueue(r.Context(), queue.Task{Kind: queue.KindVerify, Email: email, JobID: jobID})
			if err != nil {
				s.log.Error("❌ Enqueue failed, finishing job inline",
					zap.String("job_id", jobID), zap.Int("queued", i), zap.Error(err))
				leftover = emails[i:]
				break
			}
		}
	} else {
		leftover = emails
	}
	if len(leftover) > 0 {
		go s.processInline(jobID, leftover)
	}

	s.log.Info("Job accepted", zap.String("job_id", jobID), zap.Int("rows", len(emails)))
	writeJSON(w, http.StatusAccepted, uploadResponse{
		JobID:     jobID,
		TotalRows: len(emails),
		Message:   "Job created. Poll /jobs/status?id=" + jobID,
	})
}

// readEmailColumn pulls column 0 from a CSV, tolerating ragged rows and an
// optional header line.
func readEmailColumn(f io.Reader) ([]string, error) {
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var emails []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 0 {
			continue
		}
		if v := strings.TrimSpace(record[0]); v != "" {
			emails = append(emails, v)
		}
	}
	if len(emails) > 0 && !strings.Contains(emails[0], "@") {
		emails = emails[1:] // header row
	}
	return emails, nil
}

// processInline runs job rows in-process. Chunked so one giant upload cannot
// hold a batch budget indefinitely, and so progress becomes visible to
// status polls as it happens.
func (s *server) processInline(jobID string, emails []string) {
	for start := 0; start < len(emails); start += inlineChunk {
		end := min(start+inlineChunk, len(emails))
		reqs := make([]validator.Request, 0, end-start)
		for _, email := range emails[start:end] {
			reqs = append(reqs, validator.Request{Email: email})
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.app.Cfg.BatchBudget())
		results := s.app.Verifier.VerifyBatch(ctx, reqs)
		cancel()

		for _, v := range results {
			jctx, jcancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.app.Store.AddJobResult(jctx, jobID, v); err != nil {
				s.log.Error("❌ Job result write failed",
					zap.String("job_id", jobID), zap.String("email", v.Email), zap.Error(err))
			}
			jcancel()
		}
	}
	s.log.Info("✅ Inline job finished", zap.String("job_id", jobID), zap.Int("rows", len(emails)))
}
