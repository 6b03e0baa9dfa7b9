// Package validator is the tiered dispatcher. It routes each address through
// progressively more expensive checks (stored verdict, DNS and provider
// classification, SMTP conversation, name-pattern scoring, enrichment and a
// final re-probe) and stops at the first tier that produces a defensible
// verdict. Every terminal verdict is written through to the store, including
// unknowns, so repeat traffic is answered from tier 1.
package validator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailreach/internal/cache"
	"mailreach/internal/config"
	"mailreach/internal/lookup"
	"mailreach/internal/metrics"
	"mailreach/internal/models"
	"mailreach/internal/pattern"
	"mailreach/internal/queue"
	"mailreach/internal/store"
	"mailreach/internal/syntax"
)

const (
	// batchWorkers caps how many domain groups verify concurrently. The SMTP
	// limiter is the real throttle; this only bounds goroutine fan-out.
	batchWorkers = 16

	// retryDelay spaces the inline retry after a temporary DNS failure.
	retryDelay = time.Minute

	// pendingWindow suppresses duplicate background work for one address.
	pendingWindow = 10 * time.Minute
	pendingCap    = 4096
)

// Prober is the SMTP side of the pipeline. A batch call issues one RCPT per
// recipient over a shared conversation and keeps input order.
type Prober interface {
	ProbeBatch(ctx context.Context, facts models.DomainFacts, emails []string) ([]lookup.ProbeResult, error)
	ProbeCatchAll(ctx context.Context, facts models.DomainFacts) (models.CatchAllState, error)
}

// Facts serves per-domain knowledge: MX records, provider classification and
// the memoized catch-all state.
type Facts interface {
	Facts(ctx context.Context, domain string) (models.DomainFacts, error)
	CatchAll(ctx context.Context, domain string, probe cache.CatchAllFunc) (models.CatchAllState, error)
}

// Enricher looks for the person behind an address.
type Enricher interface {
	Find(ctx context.Context, addr models.Address, hint models.PersonHint) (*models.Candidate, error)
}

// Scheduler hands follow-up work (stale refreshes, fast-tier confirmations,
// DNS retries) to a background executor. *queue.Queue satisfies it.
type Scheduler interface {
	Schedule(kind, email string, hint models.PersonHint) error
}

// Options are the dispatcher's tuning knobs. Zero values fall back to the
// shipped defaults, except TieredEnabled which is honored as given.
type Options struct {
	TieredEnabled     bool
	FastThreshold     float64 // fast-tier confidence gate
	PatternStrong     float64 // pattern-tier safe gate on corporate stacks
	PatternMediumLow  float64 // enrichment band, inclusive
	PatternMediumHigh float64 // enrichment band, exclusive
	Freshness         time.Duration
	Budget            time.Duration // single verification
	BatchBudget       time.Duration
}

func (o *Options) withDefaults() {
	if o.FastThreshold == 0 {
		o.FastThreshold = 0.85
	}
	if o.PatternStrong == 0 {
		o.PatternStrong = 0.88
	}
	if o.PatternMediumLow == 0 {
		o.PatternMediumLow = 0.70
	}
	if o.PatternMediumHigh == 0 {
		o.PatternMediumHigh = 0.88
	}
	if o.Freshness == 0 {
		o.Freshness = 30 * 24 * time.Hour
	}
	if o.Budget == 0 {
		o.Budget = 20 * time.Second
	}
	if o.BatchBudget == 0 {
		o.BatchBudget = 30 * time.Second
	}
}

// OptionsFromConfig maps the service configuration onto dispatcher options.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		TieredEnabled:     c.TieredEnabled,
		FastThreshold:     c.FastThreshold,
		PatternStrong:     c.PatternStrong,
		PatternMediumLow:  c.PatternMediumLow,
		PatternMediumHigh: c.PatternMediumHigh,
		Freshness:         c.Freshness,
		Budget:            c.Budget(),
		BatchBudget:       c.BatchBudget(),
	}
}

// Deps are the capabilities the dispatcher drives. Store, Facts and Prober
// are required. Enricher may be nil, which disables tiers 5 and 6; Scheduler
// may be nil, which runs background work on inline goroutines.
type Deps struct {
	Store     store.Store
	Facts     Facts
	Prober    Prober
	Enricher  Enricher
	Scheduler Scheduler
	Log       *zap.Logger
}

type Verifier struct {
	store    store.Store
	facts    Facts
	prober   Prober
	enricher Enricher
	sched    Scheduler
	log      *zap.Logger
	opts     Options

	mu      sync.Mutex
	pending map[string]time.Time // background work scheduled recently
}

func New(deps Deps, opts Options) *Verifier {
	opts.withDefaults()
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{
		store:    deps.Store,
		facts:    deps.Facts,
		prober:   deps.Prober,
		enricher: deps.Enricher,
		sched:    deps.Scheduler,
		log:      log,
		opts:     opts,
		pending:  make(map[string]time.Time),
	}
}

// Request is one batch entry.
type Request struct {
	Email string            `json:"email"`
	Hint  models.PersonHint `json:"hint,omitzero"`
}

// member is one address inside a domain group, carrying its slot in the
// caller's result slice.
type member struct {
	idx  int
	addr models.Address
	hint models.PersonHint
}

// Verify answers for one address: stored verdict first, then the live
// pipeline. The only error it returns is malformed input; every other
// condition is expressed as a verdict.
func (v *Verifier) Verify(ctx context.Context, email string, hint models.PersonHint) (*models.Verdict, error) {
	addr, err := syntax.Parse(email)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, v.opts.Budget)
	defer cancel()

	if hit := v.cacheTier(ctx, addr, hint); hit != nil {
		return hit, nil
	}
	out := make([]*models.Verdict, 1)
	v.verifyGroup(ctx, []member{{addr: addr, hint: hint}}, out, false)
	return out[0], nil
}

// VerifyBatch verifies a list in one pass, preserving input order. Entries
// on the same domain share the DNS lookup, the catch-all probe and a single
// SMTP conversation. Malformed entries come back as invalid verdicts instead
// of failing the batch.
func (v *Verifier) VerifyBatch(ctx context.Context, reqs []Request) []*models.Verdict {
	ctx, cancel := context.WithTimeout(ctx, v.opts.BatchBudget)
	defer cancel()

	out := make([]*models.Verdict, len(reqs))
	groups := make(map[string][]member)
	for i, r := range reqs {
		addr, err := syntax.Parse(r.Email)
		if err != nil {
			out[i] = SyntaxVerdict(r.Email)
			metrics.Verifications.WithLabelValues(string(models.TierFast), string(models.ReachabilityInvalid)).Inc()
			continue
		}
		if hit := v.cacheTier(ctx, addr, r.Hint); hit != nil {
			out[i] = hit
			continue
		}
		groups[addr.ASCIIDomain] = append(groups[addr.ASCIIDomain], member{idx: i, addr: addr, hint: r.Hint})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)
	for _, members := range groups {
		members := members
		g.Go(func() error {
			v.verifyGroup(gctx, members, out, false)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Refresh re-runs the live pipeline for one address, bypassing the verdict
// cache and the fast-tier confidence exit, and writes the result through.
// The queue worker calls this for refresh and confirm tasks.
func (v *Verifier) Refresh(ctx context.Context, email string, hint models.PersonHint) (*models.Verdict, error) {
	addr, err := syntax.Parse(email)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, v.opts.Budget)
	defer cancel()

	out := make([]*models.Verdict, 1)
	v.verifyGroup(ctx, []member{{addr: addr, hint: hint}}, out, true)
	return out[0], nil
}

// SyntaxVerdict records a malformed input as an invalid verdict, for batch
// slots and job rows where an error return has nowhere to go.
func SyntaxVerdict(raw string) *models.Verdict {
	addr, _ := syntax.Parse(raw)
	normalized := addr.Normalized
	if normalized == "" {
		normalized = strings.ToLower(strings.TrimSpace(raw))
	}
	return &models.Verdict{
		Email:        raw,
		Normalized:   normalized,
		Reachability: models.ReachabilityInvalid,
		Status:       models.StatusUndeliverable,
		Deliverable:  models.Bool(false),
		Domain:       addr.Domain,
		VerifiedAt:   time.Now().UTC(),
		Error:        models.ReasonSyntax,
		Tier:         models.TierFast,
	}
}

// cacheTier answers from the verdict store. A stale hit is still served; the
// caller gets a sub-millisecond answer and the refresh happens behind the
// request. Read failures degrade to a miss.
func (v *Verifier) cacheTier(ctx context.Context, addr models.Address, hint models.PersonHint) *models.Verdict {
	rec, age, err := v.store.Get(ctx, addr.Normalized)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			v.log.Warn("verdict read failed", zap.String("email", addr.Normalized), zap.Error(err))
		}
		metrics.CacheLookups.WithLabelValues("verdict", "miss").Inc()
		return nil
	}
	result := "hit"
	if age > v.opts.Freshness {
		result = "stale"
		v.schedule(queue.KindRefresh, addr.Normalized, hint, 0)
	}
	metrics.CacheLookups.WithLabelValues("verdict", result).Inc()
	metrics.Verifications.WithLabelValues(string(models.TierCache), string(rec.Reachability)).Inc()

	out := *rec
	out.Tier = models.TierCache
	return &out
}

// verifyGroup runs tiers 2-6 for one domain's addresses and fills the
// members' slots in out. background suppresses the fast-tier confidence exit
// and any further scheduling, so queued work cannot spawn more queued work.
func (v *Verifier) verifyGroup(ctx context.Context, members []member, out []*models.Verdict, background bool) {
	domain := members[0].addr.ASCIIDomain

	facts, err := v.facts.Facts(ctx, domain)
	if err != nil {
		for _, m := range members {
			out[m.idx] = v.record(ctx, v.dnsFailure(m.addr, err))
		}
		// SERVFAIL and resolver timeouts deserve one more look once the
		// resolver recovers; hard failures are negatively cached upstream.
		if !background && errors.Is(err, lookup.ErrDNSTemporary) {
			for _, m := range members {
				v.schedule(queue.KindRefresh, m.addr.Normalized, m.hint, retryDelay)
			}
		}
		return
	}
	prov := lookup.ProviderByTag(facts.Provider)

	// Tier 2: everything decidable without an SMTP conversation.
	probes := members[:0:0]
	for _, m := range members {
		if verdict := v.fastTier(m.addr, facts, prov, background); verdict != nil {
			out[m.idx] = v.record(ctx, verdict)
			if verdict.Reachability == models.ReachabilitySafe && !background {
				v.schedule(queue.KindConfirm, m.addr.Normalized, m.hint, 0)
			}
			continue
		}
		probes = append(probes, m)
	}
	if len(probes) == 0 {
		return
	}

	// Providers whose RCPT accepts anything give probes no signal; a
	// conversation would only spend reputation.
	if prov.ProbeUnreliable {
		for _, m := range probes {
			verdict := v.newVerdict(m.addr, facts, models.TierSMTP)
			verdict.Reachability = models.ReachabilityRisky
			verdict.Status = models.StatusUnknown
			verdict.Error = models.ReasonProbeUnreliable
			out[m.idx] = v.record(ctx, verdict)
		}
		return
	}

	// Tier 3: catch-all state first, so a 250 on the real address can be
	// read for what it is.
	state := models.CatchAllUnknown
	if !prov.SkipCatchAll {
		if state, err = v.facts.CatchAll(ctx, domain, v.prober.ProbeCatchAll); err != nil {
			v.log.Debug("catch-all probe failed", zap.String("domain", domain), zap.Error(err))
			state = models.CatchAllUnknown
		}
	}

	emails := make([]string, len(probes))
	for i, m := range probes {
		emails[i] = m.addr.Normalized
	}
	results, err := v.prober.ProbeBatch(ctx, facts, emails)
	if err != nil {
		upgradeable := v.opts.TieredEnabled && failureReason(err) == models.ReasonUnreachable
		for _, m := range probes {
			verdict := v.probeFailure(m.addr, facts, state, err)
			if upgradeable {
				verdict = v.upgrade(ctx, m, facts, state, prov, verdict)
			}
			out[m.idx] = v.record(ctx, verdict)
		}
		return
	}

	for i, m := range probes {
		r := results[i]
		metrics.ObserveProbe(probeOutcome(r), r.Duration)
		verdict := v.applyProbe(m.addr, facts, state, r)
		if v.opts.TieredEnabled && verdict.Reachability != models.ReachabilityInvalid && smtpInconclusive(r, state) {
			verdict = v.upgrade(ctx, m, facts, state, prov, verdict)
		}
		out[m.idx] = v.record(ctx, verdict)
	}
}

// fastTier handles disposable and parked domains plus the provider
// confidence shortcut. Returning nil sends the address on to SMTP.
func (v *Verifier) fastTier(addr models.Address, facts models.DomainFacts, prov lookup.Provider, background bool) *models.Verdict {
	if addr.Disposable {
		verdict := v.newVerdict(addr, facts, models.TierFast)
		verdict.Reachability = models.ReachabilityInvalid
		verdict.Status = models.StatusUndeliverable
		verdict.Deliverable = models.Bool(false)
		verdict.Error = models.ReasonDisposable
		return verdict
	}
	if parkedDomain(facts) {
		verdict := v.newVerdict(addr, facts, models.TierFast)
		verdict.Reachability = models.ReachabilityInvalid
		verdict.Status = models.StatusUndeliverable
		verdict.Deliverable = models.Bool(false)
		verdict.Error = models.ReasonParkedMX
		return verdict
	}
	if background || !v.opts.TieredEnabled || addr.Role {
		return nil
	}
	if FastConfidence(addr, prov) >= v.opts.FastThreshold {
		verdict := v.newVerdict(addr, facts, models.TierFast)
		verdict.Reachability = models.ReachabilitySafe
		verdict.Status = models.StatusDeliverable
		verdict.Deliverable = models.Bool(true)
		return verdict
	}
	return nil
}

// upgrade walks the pattern, enrichment and re-verify tiers after an
// inconclusive SMTP round. It only improves on base: an unknown may become
// risky, safe or invalid, and a catch-all risky may become safe when
// enrichment plus a second 250 vouch for the person.
func (v *Verifier) upgrade(ctx context.Context, m member, facts models.DomainFacts, state models.CatchAllState, prov lookup.Provider, base *models.Verdict) *models.Verdict {
	if ctx.Err() != nil {
		return base
	}

	// Tier 4: role addresses are not person-patterned; an unknown becomes an
	// explicit risky so callers stop re-probing shared inboxes.
	if m.addr.Role {
		if base.Reachability == models.ReachabilityUnknown {
			verdict := *base
			verdict.Reachability = models.ReachabilityRisky
			verdict.Tier = models.TierPattern
			verdict.Error = models.ReasonRoleAccount
			return &verdict
		}
		return base
	}

	est := pattern.Score(m.addr.Local, m.hint)
	if est.Confidence >= v.opts.PatternStrong {
		// A firstname.lastname on corporate infrastructure is safe on its
		// own, but never on a catch-all domain and never above an SMTP tier
		// that already said risky.
		if prov.Corporate && state != models.CatchAllYes && base.Reachability == models.ReachabilityUnknown {
			verdict := *base
			verdict.Reachability = models.ReachabilitySafe
			verdict.Status = models.StatusDeliverable
			verdict.Deliverable = models.Bool(true)
			verdict.Error = ""
			verdict.Tier = models.TierPattern
			return &verdict
		}
		return base
	}
	if est.Confidence < v.opts.PatternMediumLow || est.Confidence >= v.opts.PatternMediumHigh || v.enricher == nil {
		return base
	}

	// Tier 5: cheap-then-expensive identity waterfall.
	cand, err := v.enricher.Find(ctx, m.addr, m.hint)
	if cand == nil {
		if err != nil {
			v.log.Debug("enrichment failed", zap.String("email", m.addr.Normalized), zap.Error(err))
		}
		return base
	}
	v.log.Debug("enrichment hit",
		zap.String("email", m.addr.Normalized),
		zap.String("source", cand.Source),
		zap.Float64("confidence", cand.Confidence))

	// Tier 6: one more RCPT with the identity evidence in hand.
	return v.reverify(ctx, m.addr, facts, base)
}

// reverify is the post-enrichment SMTP round. A 250 here is trusted even on
// catch-all domains; anything short of a hard mailbox rejection lands on
// risky_enriched rather than unknown, because the person is real.
func (v *Verifier) reverify(ctx context.Context, addr models.Address, facts models.DomainFacts, base *models.Verdict) *models.Verdict {
	verdict := *base
	verdict.Tier = models.TierReverify

	results, err := v.prober.ProbeBatch(ctx, facts, []string{addr.Normalized})
	if err == nil && results[0].Err != nil {
		err = results[0].Err
	}
	if err != nil {
		switch failureReason(err) {
		case models.ReasonOverloaded, models.ReasonTimeout:
			verdict.Reachability = models.ReachabilityUnknown
			verdict.Status = models.StatusUnknown
			verdict.Deliverable = nil
			verdict.Error = failureReason(err)
		default:
			verdict.Reachability = models.ReachabilityRisky
			verdict.Status = models.StatusRiskyEnriched
			verdict.Deliverable = nil
			verdict.Error = models.ReasonEnrichedNoProof
		}
		return &verdict
	}

	r := results[0]
	metrics.ObserveProbe(probeOutcome(r), r.Duration)
	if r.MXHost != "" {
		verdict.MXHost = r.MXHost
	}
	verdict.SmtpCode = r.Code
	verdict.SmtpMessage = r.Message

	switch r.Class {
	case lookup.ClassAccept:
		verdict.Reachability = models.ReachabilitySafe
		verdict.Status = models.StatusDeliverable
		verdict.Deliverable = models.Bool(true)
		verdict.Error = ""
	case lookup.ClassMailboxUnknown, lookup.ClassMailboxDisabled:
		verdict.Reachability = models.ReachabilityInvalid
		verdict.Status = models.StatusUndeliverable
		verdict.Deliverable = models.Bool(false)
		verdict.Error = r.Reason()
	case lookup.ClassMailboxFull:
		verdict.Reachability = models.ReachabilityRisky
		verdict.Status = models.StatusDeliverable
		verdict.Deliverable = models.Bool(true)
		verdict.Error = models.ReasonMailboxFull
	default:
		verdict.Reachability = models.ReachabilityRisky
		verdict.Status = models.StatusRiskyEnriched
		verdict.Deliverable = nil
		verdict.Error = models.ReasonEnrichedNoProof
	}
	return &verdict
}

// schedule hands follow-up work to the queue, or to an inline goroutine when
// none is wired. A small in-process ledger keeps a read storm on one stale
// address from fanning out into duplicate refreshes.
func (v *Verifier) schedule(kind, email string, hint models.PersonHint, delay time.Duration) {
	v.mu.Lock()
	if t, ok := v.pending[email]; ok && time.Since(t) < pendingWindow {
		v.mu.Unlock()
		return
	}
	if len(v.pending) > pendingCap {
		for k, t := range v.pending {
			if time.Since(t) >= pendingWindow {
				delete(v.pending, k)
			}
		}
	}
	v.pending[email] = time.Now()
	v.mu.Unlock()

	if v.sched != nil {
		err := v.sched.Schedule(kind, email, hint)
		if err == nil {
			metrics.JobTasks.WithLabelValues(kind, "queued").Inc()
			return
		}
		if !errors.Is(err, queue.ErrDisabled) {
			v.log.Warn("schedule failed, falling back inline", zap.String("kind", kind), zap.Error(err))
		}
	}

	metrics.JobTasks.WithLabelValues(kind, "inline").Inc()
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), v.opts.Budget)
		defer cancel()
		if _, err := v.Refresh(ctx, email, hint); err != nil {
			v.log.Debug("background refresh failed", zap.String("email", email), zap.Error(err))
		}
		v.mu.Lock()
		delete(v.pending, email)
		v.mu.Unlock()
	}()
}

// record persists a terminal verdict and counts it. The write uses a
// detached context so a request that just blew its budget still gets its
// unknown stored.
func (v *Verifier) record(ctx context.Context, verdict *models.Verdict) *models.Verdict {
	metrics.Verifications.WithLabelValues(string(verdict.Tier), string(verdict.Reachability)).Inc()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := v.store.Put(sctx, verdict); err != nil {
		v.log.Warn("verdict write failed", zap.String("email", verdict.Normalized), zap.Error(err))
	}
	return verdict
}

// newVerdict seeds a verdict with everything known before SMTP.
func (v *Verifier) newVerdict(addr models.Address, facts models.DomainFacts, tier models.Tier) *models.Verdict {
	verdict := &models.Verdict{
		Email:      addr.Raw,
		Normalized: addr.Normalized,
		Disposable: addr.Disposable,
		Role:       addr.Role,
		Free:       addr.Free,
		Provider:   facts.Provider,
		Domain:     addr.Domain,
		VerifiedAt: time.Now().UTC(),
		Tier:       tier,
	}
	if len(facts.MXRecords) > 0 {
		verdict.MXHost = facts.MXRecords[0].Host
	}
	return verdict
}

func (v *Verifier) dnsFailure(addr models.Address, err error) *models.Verdict {
	verdict := v.newVerdict(addr, models.DomainFacts{}, models.TierFast)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		verdict.Reachability = models.ReachabilityUnknown
		verdict.Status = models.StatusUnknown
		verdict.Error = models.ReasonTimeout
	case errors.Is(err, lookup.ErrDNSTemporary):
		verdict.Reachability = models.ReachabilityUnknown
		verdict.Status = models.StatusUnknown
		verdict.Error = models.ReasonDNSTemporary
	default:
		verdict.Reachability = models.ReachabilityInvalid
		verdict.Status = models.StatusUndeliverable
		verdict.Deliverable = models.Bool(false)
		verdict.Error = lookup.DNSReason(err)
	}
	return verdict
}

func (v *Verifier) probeFailure(addr models.Address, facts models.DomainFacts, state models.CatchAllState, err error) *models.Verdict {
	verdict := v.newVerdict(addr, facts, models.TierSMTP)
	verdict.CatchAll = state == models.CatchAllYes
	verdict.Reachability = models.ReachabilityUnknown
	verdict.Status = models.StatusUnknown
	verdict.Error = failureReason(err)
	return verdict
}

// parkedDomain reports MX records that all point at parking services, which
// never host real mailboxes.
func parkedDomain(facts models.DomainFacts) bool {
	if len(facts.MXRecords) == 0 {
		return false
	}
	for _, mx := range facts.MXRecords {
		if !lookup.IsParkedMX(mx.Host) {
			return false
		}
	}
	return true
}
