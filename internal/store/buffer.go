package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mailreach/internal/models"
)

const (
	// DefaultBufferSize bounds how many verdicts survive a store outage.
	DefaultBufferSize = 10000

	defaultFlushInterval = 5 * time.Second
	flushWriteTimeout    = 5 * time.Second
)

// Buffered wraps a Backend so a database outage degrades writes instead of
// failing verifications. A failed Put lands in a bounded in-memory queue,
// oldest entries dropped first when it overflows, and a background loop
// replays it until the backend answers again. Reads pass through untouched:
// a buffered verdict is not visible until it flushes. Replays arriving after
// a fresher direct write are discarded by the upsert's verified_at guard.
type Buffered struct {
	Backend

	log      *zap.Logger
	max      int
	interval time.Duration

	mu      sync.Mutex
	pending []*models.Verdict
	dropped uint64

	degraded atomic.Bool
}

func NewBuffered(b Backend, size int, log *zap.Logger) *Buffered {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Buffered{
		Backend:  b,
		log:      log,
		max:      size,
		interval: defaultFlushInterval,
	}
}

// Start launches the background flush loop. It stops when ctx is cancelled.
func (b *Buffered) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(b.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.flush(ctx)
			}
		}
	}()
}

// Put never fails: if the backend is down the verdict is queued for replay.
func (b *Buffered) Put(ctx context.Context, v *models.Verdict) error {
	if err := b.Backend.Put(ctx, v); err != nil {
		b.enqueue(v)
		if b.degraded.CompareAndSwap(false, true) {
			b.log.Warn("⚠️ Verdict store unreachable, buffering writes", zap.Error(err))
		}
	}
	return nil
}

// Degraded reports whether writes are currently being buffered.
func (b *Buffered) Degraded() bool { return b.degraded.Load() }

// Pending reports how many verdicts await replay.
func (b *Buffered) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close replays what it can, then closes the backend.
func (b *Buffered) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b.flush(ctx)
	b.Backend.Close()
}

func (b *Buffered) enqueue(v *models.Verdict) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, v)
	if over := len(b.pending) - b.max; over > 0 {
		b.pending = append([]*models.Verdict(nil), b.pending[over:]...)
		b.dropped += uint64(over)
		b.log.Warn("⚠️ Verdict buffer full, dropping oldest",
			zap.Int("dropped", over), zap.Uint64("dropped_total", b.dropped))
	}
}

// flush replays queued verdicts oldest first. On the first write error the
// remainder goes back to the front of the queue and the round ends.
func (b *Buffered) flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	for i, v := range batch {
		wctx, cancel := context.WithTimeout(ctx, flushWriteTimeout)
		err := b.Backend.Put(wctx, v)
		cancel()
		if err != nil {
			b.requeue(batch[i:])
			return
		}
	}

	b.mu.Lock()
	empty := len(b.pending) == 0
	b.mu.Unlock()
	if empty && b.degraded.CompareAndSwap(true, false) {
		b.log.Info("✅ Verdict store recovered, buffer drained",
			zap.Int("replayed", len(batch)))
	}
}

// requeue puts unflushed verdicts back ahead of anything buffered meanwhile.
func (b *Buffered) requeue(rest []*models.Verdict) {
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]*models.Verdict, 0, len(rest)+len(b.pending))
	merged = append(merged, rest...)
	merged = append(merged, b.pending...)
	if over := len(merged) - b.max; over > 0 {
		merged = merged[over:]
		b.dropped += uint64(over)
	}
	b.pending = merged
}
