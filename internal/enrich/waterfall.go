package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"mailreach/internal/models"
	"mailreach/internal/pattern"
)

const DefaultConcurrency = 8

// Provider is one person-data source.
type Provider interface {
	Name() string
	// Cost orders providers; free sources run before paid ones.
	Cost() float64
	// Search returns nil when the source has no record of the address.
	Search(ctx context.Context, email string, hint models.PersonHint) (*models.Candidate, error)
}

// Waterfall consults providers cheapest-first and stops at the first
// candidate that plausibly belongs to the address. Provider outages are
// collected, never fatal: an unreachable vendor means no candidate, not an
// error verdict.
type Waterfall struct {
	providers []Provider
	sem       chan struct{}
}

func NewWaterfall(concurrency int, providers ...Provider) *Waterfall {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	sorted := make([]Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Cost() < sorted[j].Cost() })
	return &Waterfall{providers: sorted, sem: make(chan struct{}, concurrency)}
}

// Find returns the first plausible candidate, or nil with any provider
// errors joined for the caller's log.
func (w *Waterfall) Find(ctx context.Context, addr models.Address, hint models.PersonHint) (*models.Candidate, error) {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-w.sem }()

	var errs []error
	for _, p := range w.providers {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		cand, err := p.Search(ctx, addr.Normalized, hint)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if cand == nil {
			continue
		}
		if !plausible(addr.Local, cand) {
			continue
		}
		return cand, errors.Join(errs...)
	}
	return nil, errors.Join(errs...)
}

// plausible rejects weak candidates and ones whose name contradicts the
// local part; a vendor knowing some other person at this address is not
// evidence the mailbox works.
func plausible(local string, c *models.Candidate) bool {
	if c.Confidence < 0.5 {
		return false
	}
	first, last := splitName(c.Name)
	est := pattern.Score(local, models.PersonHint{First: first, Last: last})
	return est.HintMatch != pattern.HintContradiction
}

func splitName(name string) (first, last string) {
	fields := strings.Fields(strings.ToLower(name))
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], fields[len(fields)-1]
	}
}
