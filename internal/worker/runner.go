// Package worker drains the background task queue: bulk job members, stale
// verdict refreshes and fast-tier confirmations. It runs in the same binary
// as the API or as a separate process, any number of replicas; BLPOP hands
// each task to exactly one of them.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mailreach/internal/metrics"
	"mailreach/internal/models"
	"mailreach/internal/queue"
	"mailreach/internal/store"
	"mailreach/internal/validator"
)

// dequeueBackoff spaces retries after a broker error so a dead Redis does not
// spin the loop.
const dequeueBackoff = time.Second

// Pipeline is the verification surface the worker drives. Verify serves bulk
// job members through the full tier stack; Refresh is the background lane
// that bypasses the cache and cannot schedule further work.
type Pipeline interface {
	Verify(ctx context.Context, email string, hint models.PersonHint) (*models.Verdict, error)
	Refresh(ctx context.Context, email string, hint models.PersonHint) (*models.Verdict, error)
}

// Source yields tasks. *queue.Queue satisfies it.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Task, error)
}

// Runner consumes tasks until its context ends.
type Runner struct {
	Tasks    Source
	Pipeline Pipeline
	Jobs     store.JobStore // nil when bulk jobs are not served here
	Log      *zap.Logger
	Budget   time.Duration // per-task; zero means a minute
}

// Run blocks on the queue and processes tasks one at a time. Scale by running
// more replicas, not by adding goroutines here: the SMTP limiter is shared
// per process, and one task already fans out inside the dispatcher.
func (r *Runner) Run(ctx context.Context) error {
	if r.Log == nil {
		r.Log = zap.NewNop()
	}
	if r.Budget <= 0 {
		r.Budget = time.Minute
	}
	r.Log.Info("👷 Worker started, waiting for tasks")

	for {
		task, err := r.Tasks.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, queue.ErrDisabled) {
				return err
			}
			r.Log.Error("❌ Queue error", zap.Error(err))
			select {
			case <-time.After(dequeueBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		r.handle(ctx, task)
	}
}

func (r *Runner) handle(ctx context.Context, t *queue.Task) {
	tctx, cancel := context.WithTimeout(ctx, r.Budget)
	defer cancel()

	switch t.Kind {
	case queue.KindVerify:
		r.verify(tctx, t)
	case queue.KindRefresh, queue.KindConfirm:
		if _, err := r.Pipeline.Refresh(tctx, t.Email, t.Hint); err != nil {
			r.Log.Warn("Refresh task failed", zap.String("email", t.Email), zap.Error(err))
			metrics.JobTasks.WithLabelValues(t.Kind, "failed").Inc()
			return
		}
		metrics.JobTasks.WithLabelValues(t.Kind, "done").Inc()
	default:
		r.Log.Warn("Unknown task kind dropped", zap.String("kind", t.Kind), zap.String("email", t.Email))
		metrics.JobTasks.WithLabelValues(t.Kind, "dropped").Inc()
	}
}

// verify runs one bulk job member. A malformed address still produces a row:
// the uploader wants every line of the file accounted for.
func (r *Runner) verify(ctx context.Context, t *queue.Task) {
	verdict, err := r.Pipeline.Verify(ctx, t.Email, t.Hint)
	if err != nil {
		verdict = validator.SyntaxVerdict(t.Email)
	}

	if t.JobID != "" && r.Jobs != nil {
		// Job bookkeeping gets its own grace period so a verification that
		// ate the whole budget still lands its row.
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.Jobs.AddJobResult(jctx, t.JobID, verdict); err != nil {
			r.Log.Error("❌ Job result write failed",
				zap.String("job_id", t.JobID),
				zap.String("email", t.Email),
				zap.Error(err))
			metrics.JobTasks.WithLabelValues(t.Kind, "failed").Inc()
			return
		}
	}

	r.Log.Debug("✅ Task processed",
		zap.String("email", t.Email),
		zap.String("reachability", string(verdict.Reachability)),
		zap.String("tier", string(verdict.Tier)))
	metrics.JobTasks.WithLabelValues(t.Kind, "done").Inc()
}
