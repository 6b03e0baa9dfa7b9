package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"mailreach/internal/models"
)

// A nil queue must behave as cleanly disabled: the API and dispatcher call
// these methods without checking for Redis first.
func TestDisabledQueue(t *testing.T) {
	q, err := New("")
	if err != nil {
		t.Fatalf("New(\"\") returned error: %v", err)
	}
	if q != nil {
		t.Fatalf("New(\"\") = %v, want nil queue", q)
	}
	if q.Enabled() {
		t.Fatal("nil queue reports Enabled")
	}

	ctx := context.Background()
	if err := q.Enqueue(ctx, Task{Kind: KindVerify, Email: "a@b.test"}); !errors.Is(err, ErrDisabled) {
		t.Errorf("Enqueue error = %v, want ErrDisabled", err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrDisabled) {
		t.Errorf("Dequeue error = %v, want ErrDisabled", err)
	}
	if err := q.Schedule(KindRefresh, "a@b.test", models.PersonHint{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("Schedule error = %v, want ErrDisabled", err)
	}
	if n, err := q.Len(ctx); n != 0 || err != nil {
		t.Errorf("Len = %d, %v, want 0, nil", n, err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("Close error = %v", err)
	}
}

func TestInvalidRedisURL(t *testing.T) {
	if _, err := New("http://localhost:6379"); err == nil {
		t.Fatal("expected error for non-redis scheme")
	}
}

// Tasks cross process boundaries between the API and the worker, so the
// encoded shape is a contract: empty hints and job ids must stay off the
// wire.
func TestTaskWireFormat(t *testing.T) {
	data, err := json.Marshal(Task{Kind: KindVerify, Email: "ann@corp.test", JobID: "j1"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"kind":"verify","email":"ann@corp.test","job_id":"j1"}`
	if string(data) != want {
		t.Errorf("encoded task = %s, want %s", data, want)
	}

	var decoded Task
	raw := `{"kind":"refresh","email":"x@y.test","hint":{"first":"Jane","last":"Doe"}}`
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Kind != KindRefresh || decoded.Hint.First != "Jane" || decoded.Hint.Last != "Doe" {
		t.Errorf("decoded task = %+v", decoded)
	}
	if decoded.JobID != "" {
		t.Errorf("JobID = %q, want empty", decoded.JobID)
	}
}
