package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mailreach/internal/lookup"
	"mailreach/internal/models"
)

const (
	// Applied when the resolver cannot see record TTLs (system stub resolver).
	defaultDNSTTL = time.Hour

	// Failed resolutions and unreachable catch-all probes are remembered
	// briefly so a burst of addresses on a dead domain costs one lookup.
	defaultNegativeTTL = time.Hour

	DefaultMaxDNSTTL   = 24 * time.Hour
	DefaultCatchAllTTL = 7 * 24 * time.Hour
)

// CatchAllFunc probes whether the domain's MX accepts an address that cannot
// exist. It must only return yes/no after a completed SMTP round-trip.
type CatchAllFunc func(ctx context.Context, facts models.DomainFacts) (models.CatchAllState, error)

// Options tune per-attribute lifetimes. Zero values pick the defaults above.
type Options struct {
	MaxDNSTTL   time.Duration
	CatchAllTTL time.Duration
	NegativeTTL time.Duration
}

type entry struct {
	facts    models.DomainFacts
	mxErr    error
	mxExpiry int64
	caExpiry int64
}

// Store is the thread-safe per-domain knowledge cache: MX set, provider
// classification and catch-all state, each with its own expiry. Concurrent
// misses on the same domain collapse into a single resolution.
type Store struct {
	mu       sync.RWMutex
	items    map[string]*entry
	group    singleflight.Group
	resolver lookup.MXResolver

	maxDNSTTL   time.Duration
	catchAllTTL time.Duration
	negativeTTL time.Duration
}

func New(resolver lookup.MXResolver, opts Options) *Store {
	if opts.MaxDNSTTL <= 0 {
		opts.MaxDNSTTL = DefaultMaxDNSTTL
	}
	if opts.CatchAllTTL <= 0 {
		opts.CatchAllTTL = DefaultCatchAllTTL
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = defaultNegativeTTL
	}
	return &Store{
		items:       make(map[string]*entry),
		resolver:    resolver,
		maxDNSTTL:   opts.MaxDNSTTL,
		catchAllTTL: opts.CatchAllTTL,
		negativeTTL: opts.NegativeTTL,
	}
}

// Facts returns the domain's MX set and provider classification, resolving on
// a cache miss. Resolution failures come back as (facts, sentinel error) with
// facts.ResolveError set; permanent failures are negatively cached, temporary
// ones are not.
func (s *Store) Facts(ctx context.Context, domain string) (models.DomainFacts, error) {
	if facts, err, ok := s.cachedMX(domain); ok {
		return facts, err
	}
	v, err, _ := s.group.Do("mx:"+domain, func() (interface{}, error) {
		if facts, ferr, ok := s.cachedMX(domain); ok {
			return facts, ferr
		}
		return s.resolve(ctx, domain)
	})
	facts, _ := v.(models.DomainFacts)
	if facts.Domain == "" {
		facts.Domain = domain
	}
	return facts, err
}

func (s *Store) resolve(ctx context.Context, domain string) (models.DomainFacts, error) {
	res, err := s.resolver.ResolveMX(ctx, domain)
	now := time.Now()
	facts := models.DomainFacts{Domain: domain, MXCheckedAt: now}
	if err != nil {
		if errors.Is(err, lookup.ErrDNSTemporary) {
			facts.ResolveError = models.ReasonDNSTemporary
			return facts, err
		}
		facts.ResolveError = lookup.DNSReason(err)
		s.storeMX(domain, facts, err, s.negativeTTL)
		return facts, err
	}

	facts.MXRecords = res.Records
	p := lookup.ClassifyProvider(domain, res.Records)
	facts.Provider = p.Tag
	facts.Prior = p.Prior
	facts.ProviderAt = now

	ttl := res.TTL
	if ttl <= 0 {
		ttl = defaultDNSTTL
	}
	if ttl > s.maxDNSTTL {
		ttl = s.maxDNSTTL
	}
	s.storeMX(domain, facts, nil, ttl)
	return facts, nil
}

// CatchAll returns the domain's catch-all state, running probe on a miss.
// Concurrent misses share one probe. A probe error leaves the cache untouched.
func (s *Store) CatchAll(ctx context.Context, domain string, probe CatchAllFunc) (models.CatchAllState, error) {
	if state, ok := s.cachedCatchAll(domain); ok {
		return state, nil
	}
	v, err, _ := s.group.Do("ca:"+domain, func() (interface{}, error) {
		if state, ok := s.cachedCatchAll(domain); ok {
			return state, nil
		}
		facts, ferr := s.Facts(ctx, domain)
		if ferr != nil {
			return models.CatchAllUnknown, ferr
		}
		state, perr := probe(ctx, facts)
		if perr != nil {
			return models.CatchAllUnknown, perr
		}
		if state != models.CatchAllUnknown {
			ttl := s.catchAllTTL
			if state == models.CatchAllUnreachable {
				ttl = s.negativeTTL
			}
			s.storeCatchAll(domain, state, ttl)
		}
		return state, nil
	})
	state, _ := v.(models.CatchAllState)
	if state == "" {
		state = models.CatchAllUnknown
	}
	return state, err
}

func (s *Store) cachedMX(domain string) (models.DomainFacts, error, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[domain]
	if !ok || time.Now().UnixNano() > e.mxExpiry {
		return models.DomainFacts{}, nil, false
	}
	return e.facts, e.mxErr, true
}

func (s *Store) cachedCatchAll(domain string) (models.CatchAllState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[domain]
	if !ok || time.Now().UnixNano() > e.caExpiry {
		return models.CatchAllUnknown, false
	}
	if e.facts.CatchAll == "" || e.facts.CatchAll == models.CatchAllUnknown {
		return models.CatchAllUnknown, false
	}
	return e.facts.CatchAll, true
}

func (s *Store) storeMX(domain string, facts models.DomainFacts, err error, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[domain]
	if !ok {
		e = &entry{}
		s.items[domain] = e
	}
	// Catch-all knowledge outlives MX refreshes.
	facts.CatchAll = e.facts.CatchAll
	facts.CatchAllAt = e.facts.CatchAllAt
	if facts.CatchAll == "" {
		facts.CatchAll = models.CatchAllUnknown
	}
	e.facts = facts
	e.mxErr = err
	e.mxExpiry = time.Now().Add(ttl).UnixNano()
}

func (s *Store) storeCatchAll(domain string, state models.CatchAllState, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[domain]
	if !ok {
		e = &entry{facts: models.DomainFacts{Domain: domain}}
		s.items[domain] = e
	}
	e.facts.CatchAll = state
	e.facts.CatchAllAt = time.Now()
	e.caExpiry = time.Now().Add(ttl).UnixNano()
}

// Len reports how many domains are currently held, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Cleanup removes entries whose every attribute has expired.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixNano()
	for k, e := range s.items {
		if now > e.mxExpiry && now > e.caExpiry {
			delete(s.items, k)
		}
	}
}

// Janitor runs Cleanup on the given interval until ctx is done.
func (s *Store) Janitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Cleanup()
		}
	}
}
