package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mailreach/internal/models"
)

// ErrNotFound is returned by Get when no verdict exists for the address.
var ErrNotFound = errors.New("verdict not found")

// Filter narrows a Scan. Zero fields match everything.
type Filter struct {
	Reachability models.Reachability
	Domain       string
	OlderThan    time.Duration
	Limit        int
}

// Store persists one verdict per normalized address. Put follows
// last-writer-wins on verified_at: a replayed older verdict never clobbers a
// newer one.
type Store interface {
	// Get returns the verdict and its age. A miss is ErrNotFound.
	Get(ctx context.Context, normalized string) (*models.Verdict, time.Duration, error)
	Put(ctx context.Context, v *models.Verdict) error
	Stats(ctx context.Context) (*models.StoreStats, error)
	// Scan streams matching verdicts to fn; a non-nil return stops the scan.
	Scan(ctx context.Context, f Filter, fn func(*models.Verdict) error) error
	Ping(ctx context.Context) error
	Close()
}

// Job tracks one bulk upload batch.
type Job struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Total       int        `json:"total_count"`
	Processed   int        `json:"processed_count"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Job statuses.
const (
	JobPending   = "pending"
	JobCompleted = "completed"
)

// JobResultRow is one verified address inside a job, with the verdict kept
// as stored JSON so the API can return it untouched.
type JobResultRow struct {
	Email        string              `json:"email"`
	Reachability models.Reachability `json:"reachability"`
	Data         json.RawMessage     `json:"data"`
}

// JobStore tracks bulk jobs. AddJobResult appends the verdict and advances
// the job's progress atomically, completing the job when the last address
// lands.
type JobStore interface {
	CreateJob(ctx context.Context, id string, total int) error
	Job(ctx context.Context, id string) (*Job, error)
	AddJobResult(ctx context.Context, jobID string, v *models.Verdict) error
	JobResults(ctx context.Context, jobID string, limit, offset int) ([]JobResultRow, error)
}

// Backend is the full persistence surface.
type Backend interface {
	Store
	JobStore
}

// Migrate copies every verdict from src into dst, preserving timestamps.
// Returns how many rows were copied.
func Migrate(ctx context.Context, src Store, dst Store, progress func(copied int)) (int, error) {
	n := 0
	err := src.Scan(ctx, Filter{}, func(v *models.Verdict) error {
		if err := dst.Put(ctx, v); err != nil {
			return err
		}
		n++
		if progress != nil && n%1000 == 0 {
			progress(n)
		}
		return nil
	})
	return n, err
}
