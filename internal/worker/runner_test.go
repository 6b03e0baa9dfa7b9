package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mailreach/internal/models"
	"mailreach/internal/queue"
	"mailreach/internal/store"
	"mailreach/internal/syntax"
)

// fakeSource serves a fixed task list and then reports the queue disabled,
// which makes Run return once everything is drained.
type fakeSource struct {
	mu    sync.Mutex
	tasks []*queue.Task
}

func (s *fakeSource) Dequeue(ctx context.Context) (*queue.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return nil, queue.ErrDisabled
	}
	t := s.tasks[0]
	s.tasks = s.tasks[1:]
	return t, nil
}

type blockingSource struct{}

func (blockingSource) Dequeue(ctx context.Context) (*queue.Task, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakePipeline struct {
	mu        sync.Mutex
	verified  []string
	refreshed []string
}

func (p *fakePipeline) Verify(_ context.Context, email string, _ models.PersonHint) (*models.Verdict, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verified = append(p.verified, email)
	if !strings.Contains(email, "@") {
		return nil, syntax.ErrSyntax
	}
	return &models.Verdict{
		Email:        email,
		Normalized:   email,
		Reachability: models.ReachabilitySafe,
		Status:       models.StatusDeliverable,
		Deliverable:  models.Bool(true),
		VerifiedAt:   time.Now().UTC(),
		Tier:         models.TierSMTP,
	}, nil
}

func (p *fakePipeline) Refresh(_ context.Context, email string, _ models.PersonHint) (*models.Verdict, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshed = append(p.refreshed, email)
	return &models.Verdict{Email: email, Normalized: email, Tier: models.TierSMTP}, nil
}

func TestRunnerDrainsJobTasks(t *testing.T) {
	mem := store.NewMemory()
	if err := mem.CreateJob(context.Background(), "job1", 2); err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{tasks: []*queue.Task{
		{Kind: queue.KindVerify, Email: "ann@corp.test", JobID: "job1"},
		{Kind: queue.KindVerify, Email: "not-an-email", JobID: "job1"},
	}}
	pipe := &fakePipeline{}
	r := &Runner{Tasks: src, Pipeline: pipe, Jobs: mem}

	if err := r.Run(context.Background()); !errors.Is(err, queue.ErrDisabled) {
		t.Fatalf("Run returned %v, want ErrDisabled after draining", err)
	}

	job, err := mem.Job(context.Background(), "job1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != store.JobCompleted || job.Processed != 2 {
		t.Errorf("job = %s/%d processed, want completed/2", job.Status, job.Processed)
	}
	if job.CompletedAt == nil {
		t.Error("completed job has no completion time")
	}

	rows, err := mem.JobResults(context.Background(), "job1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d result rows, want 2", len(rows))
	}
	if rows[0].Email != "ann@corp.test" || rows[0].Reachability != models.ReachabilitySafe {
		t.Errorf("row 0 = %s/%s, want ann@corp.test/safe", rows[0].Email, rows[0].Reachability)
	}
	// The malformed line still gets a row so the upload stays accountable.
	if rows[1].Email != "not-an-email" || rows[1].Reachability != models.ReachabilityInvalid {
		t.Errorf("row 1 = %s/%s, want not-an-email/invalid", rows[1].Email, rows[1].Reachability)
	}
}

func TestRunnerRoutesRefreshAndConfirm(t *testing.T) {
	src := &fakeSource{tasks: []*queue.Task{
		{Kind: queue.KindRefresh, Email: "stale@corp.test"},
		{Kind: queue.KindConfirm, Email: "fast@gmail.com"},
	}}
	pipe := &fakePipeline{}
	r := &Runner{Tasks: src, Pipeline: pipe}

	if err := r.Run(context.Background()); !errors.Is(err, queue.ErrDisabled) {
		t.Fatalf("Run returned %v, want ErrDisabled", err)
	}
	if len(pipe.verified) != 0 {
		t.Errorf("Verify called for %v, want none", pipe.verified)
	}
	if len(pipe.refreshed) != 2 || pipe.refreshed[0] != "stale@corp.test" || pipe.refreshed[1] != "fast@gmail.com" {
		t.Errorf("Refresh calls = %v, want both background kinds routed there", pipe.refreshed)
	}
}

func TestRunnerDropsUnknownKind(t *testing.T) {
	src := &fakeSource{tasks: []*queue.Task{{Kind: "compact", Email: "x@y.test"}}}
	pipe := &fakePipeline{}
	r := &Runner{Tasks: src, Pipeline: pipe}

	if err := r.Run(context.Background()); !errors.Is(err, queue.ErrDisabled) {
		t.Fatalf("Run returned %v, want ErrDisabled", err)
	}
	if len(pipe.verified) != 0 || len(pipe.refreshed) != 0 {
		t.Errorf("unknown kind reached the pipeline: verify=%v refresh=%v", pipe.verified, pipe.refreshed)
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{Tasks: blockingSource{}, Pipeline: &fakePipeline{}}

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunnerVerifyWithoutJobSkipsBookkeeping(t *testing.T) {
	src := &fakeSource{tasks: []*queue.Task{{Kind: queue.KindVerify, Email: "solo@corp.test"}}}
	pipe := &fakePipeline{}
	r := &Runner{Tasks: src, Pipeline: pipe, Jobs: store.NewMemory()}

	if err := r.Run(context.Background()); !errors.Is(err, queue.ErrDisabled) {
		t.Fatalf("Run returned %v, want ErrDisabled", err)
	}
	if len(pipe.verified) != 1 || pipe.verified[0] != "solo@corp.test" {
		t.Errorf("Verify calls = %v, want [solo@corp.test]", pipe.verified)
	}
}
