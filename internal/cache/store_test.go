package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mailreach/internal/lookup"
	"mailreach/internal/models"
)

type fakeResolver struct {
	calls int32
	delay time.Duration
	res   *lookup.MXResult
	err   error
}

func (f *fakeResolver) ResolveMX(ctx context.Context, domain string) (*lookup.MXResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func gmailMX() *lookup.MXResult {
	return &lookup.MXResult{
		Records: []models.MX{{Host: "gmail-smtp-in.l.google.com", Pref: 5}},
		TTL:     time.Hour,
	}
}

func TestFactsCachesAndClassifies(t *testing.T) {
	r := &fakeResolver{res: gmailMX()}
	s := New(r, Options{})
	ctx := context.Background()

	facts, err := s.Facts(ctx, "gmail.com")
	if err != nil {
		t.Fatalf("Facts failed: %v", err)
	}
	if facts.Provider != lookup.ProviderGmail {
		t.Errorf("provider = %q, want gmail", facts.Provider)
	}
	if facts.Prior != 0.45 {
		t.Errorf("prior = %v, want 0.45", facts.Prior)
	}
	if len(facts.MXRecords) != 1 {
		t.Fatalf("records = %+v, want one", facts.MXRecords)
	}

	if _, err := s.Facts(ctx, "gmail.com"); err != nil {
		t.Fatalf("second Facts failed: %v", err)
	}
	if n := atomic.LoadInt32(&r.calls); n != 1 {
		t.Errorf("resolver called %d times, want 1", n)
	}
}

func TestFactsSingleFlight(t *testing.T) {
	r := &fakeResolver{res: gmailMX(), delay: 50 * time.Millisecond}
	s := New(r, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Facts(context.Background(), "gmail.com"); err != nil {
				t.Errorf("Facts failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&r.calls); n != 1 {
		t.Errorf("resolver called %d times for 16 concurrent misses, want 1", n)
	}
}

func TestFactsNegativeCache(t *testing.T) {
	r := &fakeResolver{err: lookup.ErrNoDomain}
	s := New(r, Options{})
	ctx := context.Background()

	facts, err := s.Facts(ctx, "nxdomain.invalid")
	if !errors.Is(err, lookup.ErrNoDomain) {
		t.Fatalf("err = %v, want ErrNoDomain", err)
	}
	if facts.ResolveError != models.ReasonNXDomain {
		t.Errorf("resolve error = %q, want nxdomain", facts.ResolveError)
	}

	if _, err := s.Facts(ctx, "nxdomain.invalid"); !errors.Is(err, lookup.ErrNoDomain) {
		t.Fatalf("cached err = %v, want ErrNoDomain", err)
	}
	if n := atomic.LoadInt32(&r.calls); n != 1 {
		t.Errorf("resolver called %d times, want 1 (failure cached)", n)
	}
}

func TestFactsTemporaryErrorNotCached(t *testing.T) {
	r := &fakeResolver{err: lookup.ErrDNSTemporary}
	s := New(r, Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.Facts(ctx, "flaky.example"); !errors.Is(err, lookup.ErrDNSTemporary) {
			t.Fatalf("err = %v, want ErrDNSTemporary", err)
		}
	}
	if n := atomic.LoadInt32(&r.calls); n != 2 {
		t.Errorf("resolver called %d times, want 2 (temporary failures retried)", n)
	}
}

func TestFactsHonorsRecordTTL(t *testing.T) {
	r := &fakeResolver{res: &lookup.MXResult{
		Records: []models.MX{{Host: "mx.short.example", Pref: 10}},
		TTL:     10 * time.Millisecond,
	}}
	s := New(r, Options{})
	ctx := context.Background()

	if _, err := s.Facts(ctx, "short.example"); err != nil {
		t.Fatalf("Facts failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := s.Facts(ctx, "short.example"); err != nil {
		t.Fatalf("Facts after expiry failed: %v", err)
	}
	if n := atomic.LoadInt32(&r.calls); n != 2 {
		t.Errorf("resolver called %d times, want 2 after TTL expiry", n)
	}
}

func TestFactsCapsRecordTTL(t *testing.T) {
	r := &fakeResolver{res: &lookup.MXResult{
		Records: []models.MX{{Host: "mx.long.example", Pref: 10}},
		TTL:     48 * time.Hour,
	}}
	s := New(r, Options{MaxDNSTTL: 10 * time.Millisecond})
	ctx := context.Background()

	if _, err := s.Facts(ctx, "long.example"); err != nil {
		t.Fatalf("Facts failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := s.Facts(ctx, "long.example"); err != nil {
		t.Fatalf("Facts after cap failed: %v", err)
	}
	if n := atomic.LoadInt32(&r.calls); n != 2 {
		t.Errorf("resolver called %d times, want 2 (record TTL capped)", n)
	}
}

func TestCatchAllCachedAndSingleFlight(t *testing.T) {
	r := &fakeResolver{res: gmailMX()}
	s := New(r, Options{})
	var probes int32
	probe := func(ctx context.Context, facts models.DomainFacts) (models.CatchAllState, error) {
		atomic.AddInt32(&probes, 1)
		time.Sleep(30 * time.Millisecond)
		return models.CatchAllYes, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := s.CatchAll(context.Background(), "acme.example", probe)
			if err != nil {
				t.Errorf("CatchAll failed: %v", err)
			}
			if state != models.CatchAllYes {
				t.Errorf("state = %q, want yes", state)
			}
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&probes); n != 1 {
		t.Errorf("probe ran %d times for 8 concurrent calls, want 1", n)
	}

	// Cached now; no further probe.
	if _, err := s.CatchAll(context.Background(), "acme.example", probe); err != nil {
		t.Fatalf("cached CatchAll failed: %v", err)
	}
	if n := atomic.LoadInt32(&probes); n != 1 {
		t.Errorf("probe ran %d times after cache fill, want 1", n)
	}

	facts, err := s.Facts(context.Background(), "acme.example")
	if err != nil {
		t.Fatalf("Facts failed: %v", err)
	}
	if facts.CatchAll != models.CatchAllYes {
		t.Errorf("facts catch-all = %q, want yes", facts.CatchAll)
	}
}

func TestCatchAllProbeErrorNotCached(t *testing.T) {
	r := &fakeResolver{res: gmailMX()}
	s := New(r, Options{})
	var probes int32
	boom := errors.New("connection refused")
	probe := func(ctx context.Context, facts models.DomainFacts) (models.CatchAllState, error) {
		atomic.AddInt32(&probes, 1)
		return models.CatchAllUnknown, boom
	}

	for i := 0; i < 2; i++ {
		if _, err := s.CatchAll(context.Background(), "down.example", probe); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want probe error", err)
		}
	}
	if n := atomic.LoadInt32(&probes); n != 2 {
		t.Errorf("probe ran %d times, want 2 (errors never cached)", n)
	}
}

func TestCleanup(t *testing.T) {
	r := &fakeResolver{res: &lookup.MXResult{
		Records: []models.MX{{Host: "mx.tiny.example", Pref: 10}},
		TTL:     5 * time.Millisecond,
	}}
	s := New(r, Options{})

	if _, err := s.Facts(context.Background(), "tiny.example"); err != nil {
		t.Fatalf("Facts failed: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	time.Sleep(20 * time.Millisecond)
	s.Cleanup()
	if s.Len() != 0 {
		t.Errorf("len = %d after cleanup, want 0", s.Len())
	}
}
