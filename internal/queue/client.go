// Package queue is the Redis task queue behind bulk jobs and background
// re-verification. It is optional: without REDIS_URL the queue is nil and
// the dispatcher falls back to inline goroutines.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mailreach/internal/models"
)

const queueName = "mailreach:tasks"

// ErrDisabled is returned when no Redis backend is configured.
var ErrDisabled = errors.New("queue disabled")

// Task kinds.
const (
	KindVerify  = "verify"  // bulk job member: verify and record under JobID
	KindRefresh = "refresh" // re-verify a stale cached verdict
	KindConfirm = "confirm" // SMTP confirmation behind a fast-tier safe
)

type Task struct {
	Kind  string            `json:"kind"`
	Email string            `json:"email"`
	JobID string            `json:"job_id,omitempty"`
	Hint  models.PersonHint `json:"hint,omitzero"`
}

type Queue struct {
	client *redis.Client
}

// New connects to Redis and pings it to make sure it's alive. An empty URL
// returns a nil queue, which all methods treat as disabled.
func New(redisURL string) (*Queue, error) {
	if redisURL == "" {
		return nil, nil
	}

	var opts *redis.Options
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Queue{client: client}, nil
}

// Enabled reports whether a backend is configured.
func (q *Queue) Enabled() bool { return q != nil && q.client != nil }

func (q *Queue) Enqueue(ctx context.Context, t Task) error {
	if !q.Enabled() {
		return ErrDisabled
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, queueName, data).Err()
}

// Schedule hands a background task to the queue with its own short deadline,
// so callers on a request path never block on Redis. It satisfies the
// dispatcher's scheduler hook.
func (q *Queue) Schedule(kind, email string, hint models.PersonHint) error {
	if !q.Enabled() {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return q.Enqueue(ctx, Task{Kind: kind, Email: email, Hint: hint})
}

// Dequeue blocks until a task arrives or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	if !q.Enabled() {
		return nil, ErrDisabled
	}
	res, err := q.client.BLPop(ctx, 0, queueName).Result()
	if err != nil {
		return nil, err
	}
	var t Task
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		return nil, fmt.Errorf("malformed task %q: %w", res[1], err)
	}
	return &t, nil
}

// Len reports how many tasks are waiting.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	if !q.Enabled() {
		return 0, nil
	}
	return q.client.LLen(ctx, queueName).Result()
}

func (q *Queue) Close() error {
	if !q.Enabled() {
		return nil
	}
	return q.client.Close()
}
