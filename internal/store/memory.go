package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"mailreach/internal/models"
)

// Memory is a map-backed Backend. It exists for tests and for running the
// verifier without persistence, and it pins down the store contract the SQL
// backends follow: last-writer-wins on verified_at, ErrNotFound on misses.
type Memory struct {
	mu       sync.RWMutex
	verdicts map[string]*models.Verdict
	jobs     map[string]*Job
	results  map[string][]JobResultRow
}

func NewMemory() *Memory {
	return &Memory{
		verdicts: make(map[string]*models.Verdict),
		jobs:     make(map[string]*Job),
		results:  make(map[string][]JobResultRow),
	}
}

func (m *Memory) Get(_ context.Context, normalized string) (*models.Verdict, time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.verdicts[normalized]
	if !ok {
		return nil, 0, ErrNotFound
	}
	c := *v
	return &c, time.Since(v.VerifiedAt), nil
}

func (m *Memory) Put(_ context.Context, v *models.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.verdicts[v.Normalized]; ok && old.VerifiedAt.After(v.VerifiedAt) {
		return nil
	}
	c := *v
	m.verdicts[v.Normalized] = &c
	return nil
}

func (m *Memory) Stats(_ context.Context) (*models.StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &models.StoreStats{ByReachability: make(map[models.Reachability]int64)}
	for _, v := range m.verdicts {
		s.ByReachability[v.Reachability]++
		s.Total++
		if v.CatchAll {
			s.CatchAll++
		}
	}
	return s, nil
}

func (m *Memory) Scan(_ context.Context, f Filter, fn func(*models.Verdict) error) error {
	m.mu.RLock()
	var matched []*models.Verdict
	cutoff := time.Now().Add(-f.OlderThan)
	for _, v := range m.verdicts {
		if f.Reachability != "" && v.Reachability != f.Reachability {
			continue
		}
		if f.Domain != "" && v.Domain != f.Domain {
			continue
		}
		if f.OlderThan > 0 && !v.VerifiedAt.Before(cutoff) {
			continue
		}
		c := *v
		matched = append(matched, &c)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].VerifiedAt.Before(matched[j].VerifiedAt)
	})
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	for _, v := range matched {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func (m *Memory) CreateJob(_ context.Context, id string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id] = &Job{ID: id, Status: JobPending, Total: total, CreatedAt: time.Now()}
	return nil
}

func (m *Memory) Job(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *j
	return &c, nil
}

func (m *Memory) AddJobResult(_ context.Context, jobID string, v *models.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	m.results[jobID] = append(m.results[jobID], JobResultRow{
		Email:        v.Email,
		Reachability: v.Reachability,
		Data:         data,
	})
	j.Processed++
	if j.Processed >= j.Total {
		j.Status = JobCompleted
		now := time.Now()
		j.CompletedAt = &now
	}
	return nil
}

func (m *Memory) JobResults(_ context.Context, jobID string, limit, offset int) ([]JobResultRow, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.results[jobID]
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]JobResultRow, len(rows))
	copy(out, rows)
	return out, nil
}
