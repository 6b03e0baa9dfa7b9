package lookup

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mailreach/internal/models"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultCommandTimeout = 5 * time.Second
	DefaultProbeBudget    = 20 * time.Second
	DefaultPerHostLimit   = 4
	DefaultBatchSize      = 750
)

var (
	// ErrOverloaded means the probe wait queue is full; callers report the
	// address as unknown rather than queueing unboundedly.
	ErrOverloaded = errors.New("smtp probe capacity exhausted")

	// ErrUnreachable means no MX host completed a conversation.
	ErrUnreachable = errors.New("no mx host reachable")
)

// DialFunc opens the TCP connection to an MX host. Swapped out for proxied
// dialing and for tests.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Limiter caps concurrent probes across all hosts. Callers beyond the cap
// wait in a bounded queue; once the queue is full further callers fail fast
// with ErrOverloaded.
type Limiter struct {
	slots    chan struct{}
	waiters  int32
	maxQueue int32
}

func NewLimiter(concurrency, queue int) *Limiter {
	if concurrency <= 0 {
		concurrency = 1
	}
	if queue < 0 {
		queue = 0
	}
	return &Limiter{
		slots:    make(chan struct{}, concurrency),
		maxQueue: int32(queue),
	}
}

func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	default:
	}
	if atomic.AddInt32(&l.waiters, 1) > l.maxQueue {
		atomic.AddInt32(&l.waiters, -1)
		return ErrOverloaded
	}
	defer atomic.AddInt32(&l.waiters, -1)
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) Release() { <-l.slots }

// InFlight reports how many probes currently hold a slot.
func (l *Limiter) InFlight() int { return len(l.slots) }

// hostLimiter keeps a small per-MX-host cap so one domain cannot monopolize
// the global budget, and so receiving servers see polite parallelism.
type hostLimiter struct {
	mu    sync.Mutex
	hosts map[string]*hostSem
	per   int
}

type hostSem struct {
	ch   chan struct{}
	refs int
}

func (h *hostLimiter) acquire(ctx context.Context, host string) (func(), error) {
	h.mu.Lock()
	if h.hosts == nil {
		h.hosts = make(map[string]*hostSem)
	}
	s := h.hosts[host]
	if s == nil {
		s = &hostSem{ch: make(chan struct{}, h.per)}
		h.hosts[host] = s
	}
	s.refs++
	h.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			h.drop(host, s)
		}, nil
	case <-ctx.Done():
		h.drop(host, s)
		return nil, ctx.Err()
	}
}

func (h *hostLimiter) drop(host string, s *hostSem) {
	h.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(h.hosts, host)
	}
	h.mu.Unlock()
}

// ProbeResult is the outcome of one RCPT TO. For batch probes Err marks
// recipients whose reply was lost to a network failure.
type ProbeResult struct {
	Classification
	Email    string
	MXHost   string
	TLS      bool
	Duration time.Duration
	Err      error
}

// ProberConfig carries the operator-tunable knobs.
type ProberConfig struct {
	HeloDomain      string
	MailFrom        string
	Port            int
	ConnectTimeout  time.Duration
	CommandTimeout  time.Duration
	ProbeBudget     time.Duration
	PerHostLimit    int
	BatchSize       int
	GreylistRetries int
	DisableTLS      bool
	TLSConfig       *tls.Config
}

// Prober speaks just enough SMTP to learn whether a mailbox exists: banner,
// EHLO (HELO fallback), optional STARTTLS, MAIL FROM, RCPT TO, QUIT. It never
// sends DATA.
type Prober struct {
	cfg     ProberConfig
	dial    DialFunc
	limiter *Limiter
	hosts   hostLimiter
}

func NewProber(cfg ProberConfig, limiter *Limiter, dial DialFunc) *Prober {
	if cfg.Port <= 0 {
		cfg.Port = 25
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = DefaultProbeBudget
	}
	if cfg.PerHostLimit <= 0 {
		cfg.PerHostLimit = DefaultPerHostLimit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if dial == nil {
		d := &net.Dialer{Timeout: cfg.ConnectTimeout}
		dial = d.DialContext
	}
	return &Prober{cfg: cfg, dial: dial, limiter: limiter, hosts: hostLimiter{per: cfg.PerHostLimit}}
}

// Probe checks one recipient against the domain's MX hosts in preference
// order. Hosts that fail before RCPT are skipped; once a host answers the
// RCPT, that reply is the result.
func (p *Prober) Probe(ctx context.Context, facts models.DomainFacts, email string) (ProbeResult, error) {
	results, err := p.run(ctx, facts, []string{email})
	if err != nil {
		return ProbeResult{}, err
	}
	r := results[0]
	if r.Err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrUnreachable, r.Err)
	}
	return r, nil
}

// ProbeBatch checks many recipients of one domain over a single conversation,
// one RCPT per recipient. A rejected recipient does not end the conversation.
// Results keep input order.
func (p *Prober) ProbeBatch(ctx context.Context, facts models.DomainFacts, emails []string) ([]ProbeResult, error) {
	return p.run(ctx, facts, emails)
}

func (p *Prober) run(ctx context.Context, facts models.DomainFacts, emails []string) ([]ProbeResult, error) {
	if len(facts.MXRecords) == 0 {
		return nil, ErrUnreachable
	}
	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer p.limiter.Release()
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeBudget)
	defer cancel()

	results := make([]ProbeResult, len(emails))
	next := 0 // first recipient without a reply
	var lastErr error

	for _, mx := range facts.MXRecords {
		if next >= len(emails) {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		n, err := p.converse(ctx, mx.Host, emails[next:], results[next:])
		next += n
		if err == nil && next >= len(emails) {
			break
		}
		if err != nil {
			lastErr = err
		}
	}

	if next == 0 {
		if lastErr == nil {
			lastErr = errors.New("no conversation completed")
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
	}
	if next < len(results) {
		if lastErr == nil {
			lastErr = errors.New("mx hosts exhausted")
		}
		for i := next; i < len(results); i++ {
			results[i] = ProbeResult{Email: emails[i], Err: lastErr}
		}
	}
	return results, nil
}

// converse opens one conversation with host and issues RCPTs until the list
// is done or the connection dies. Returns how many recipients got a reply.
func (p *Prober) converse(ctx context.Context, host string, emails []string, results []ProbeResult) (int, error) {
	release, err := p.hosts.acquire(ctx, host)
	if err != nil {
		return 0, err
	}
	defer release()

	c, err := p.open(ctx, host, !p.cfg.DisableTLS)
	if err != nil {
		var tlsErr *tlsUpgradeError
		if errors.As(err, &tlsErr) {
			c, err = p.open(ctx, host, false)
		}
		if err != nil {
			return 0, err
		}
	}
	defer func() { c.close() }()

	done := 0
	batch := 0
	for i, email := range emails {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if batch >= p.cfg.BatchSize {
			// Rotate the conversation so long runs stay under the
			// server's per-connection recipient ceiling.
			c.close()
			c, err = p.open(ctx, host, !p.cfg.DisableTLS)
			if err != nil {
				return done, err
			}
			batch = 0
		}
		start := time.Now()
		code, msg, err := p.rcpt(ctx, c, email)
		if err != nil {
			return done, err
		}
		results[i] = ProbeResult{
			Classification: ClassifyReply(code, msg),
			Email:          email,
			MXHost:         host,
			TLS:            c.tls,
			Duration:       time.Since(start),
		}
		done++
		batch++
	}
	return done, nil
}

// rcpt issues one RCPT TO, retrying through greylist deferrals when the
// operator allows retries.
func (p *Prober) rcpt(ctx context.Context, c *conversation, email string) (int, string, error) {
	for attempt := 0; ; attempt++ {
		code, msg, err := c.step(ctx, "RCPT TO:<%s>", email)
		if err != nil {
			return 0, "", err
		}
		if attempt >= p.cfg.GreylistRetries {
			return code, msg, nil
		}
		if ClassifyReply(code, msg).Class != ClassGreylist {
			return code, msg, nil
		}
		select {
		case <-time.After(time.Duration(attempt+1) * 2 * time.Second):
		case <-ctx.Done():
			return code, msg, nil
		}
	}
}

type conversation struct {
	conn       net.Conn
	tp         *textproto.Conn
	tls        bool
	cmdTimeout time.Duration
}

// tlsUpgradeError marks a failure inside the STARTTLS upgrade, after which
// the caller may retry the host in plaintext.
type tlsUpgradeError struct{ err error }

func (e *tlsUpgradeError) Error() string { return "starttls: " + e.err.Error() }
func (e *tlsUpgradeError) Unwrap() error { return e.err }

func (p *Prober) open(ctx context.Context, host string, attemptTLS bool) (*conversation, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(p.cfg.Port))
	dctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	conn, err := p.dial(dctx, "tcp", addr)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &conversation{conn: conn, tp: textproto.NewConn(conn), cmdTimeout: p.cfg.CommandTimeout}
	ok := false
	defer func() {
		if !ok {
			c.tp.Close()
		}
	}()

	code, _, err := c.step(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("banner: %w", err)
	}
	if code != 220 {
		return nil, fmt.Errorf("banner: unexpected %d", code)
	}

	exts, err := c.hello(ctx, p.cfg.HeloDomain)
	if err != nil {
		return nil, err
	}

	if attemptTLS {
		if _, has := exts["STARTTLS"]; has {
			if err := p.upgrade(ctx, c, host); err != nil {
				return nil, &tlsUpgradeError{err: err}
			}
			if _, err := c.hello(ctx, p.cfg.HeloDomain); err != nil {
				return nil, err
			}
		}
	}

	code, msg, err := c.step(ctx, "MAIL FROM:<%s>", p.cfg.MailFrom)
	if err != nil {
		return nil, fmt.Errorf("mail from: %w", err)
	}
	if code/100 != 2 {
		return nil, fmt.Errorf("mail from: %w", &textproto.Error{Code: code, Msg: msg})
	}

	ok = true
	return c, nil
}

// hello sends EHLO and falls back to HELO when the server rejects it.
// Returns the advertised extensions (empty after HELO).
func (c *conversation) hello(ctx context.Context, helo string) (map[string]string, error) {
	code, msg, err := c.step(ctx, "EHLO %s", helo)
	if err != nil {
		return nil, fmt.Errorf("ehlo: %w", err)
	}
	if code/100 == 2 {
		return parseExtensions(msg), nil
	}
	code, msg, err = c.step(ctx, "HELO %s", helo)
	if err != nil {
		return nil, fmt.Errorf("helo: %w", err)
	}
	if code/100 != 2 {
		return nil, fmt.Errorf("helo: %w", &textproto.Error{Code: code, Msg: msg})
	}
	return map[string]string{}, nil
}

func (p *Prober) upgrade(ctx context.Context, c *conversation, host string) error {
	code, msg, err := c.step(ctx, "STARTTLS")
	if err != nil {
		return err
	}
	if code != 220 {
		return &textproto.Error{Code: code, Msg: msg}
	}
	cfg := &tls.Config{ServerName: host}
	if p.cfg.TLSConfig != nil {
		cfg = p.cfg.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
	}
	tc := tls.Client(c.conn, cfg)
	hctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()
	if err := tc.HandshakeContext(hctx); err != nil {
		return err
	}
	c.conn = tc
	c.tp = textproto.NewConn(tc)
	c.tls = true
	return nil
}

// step sends one command (or nothing, for the banner) and reads one reply,
// under the per-command deadline.
func (c *conversation) step(ctx context.Context, format string, args ...interface{}) (int, string, error) {
	deadline := time.Now().Add(c.cmdTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)
	if format != "" {
		if _, err := c.tp.Cmd(format, args...); err != nil {
			return 0, "", err
		}
	}
	return c.tp.ReadResponse(0)
}

func (c *conversation) close() {
	c.conn.SetDeadline(time.Now().Add(2 * time.Second))
	c.tp.Cmd("QUIT")
	c.tp.ReadResponse(0)
	c.tp.Close()
}

// parseExtensions reads the EHLO continuation lines into a keyword map.
func parseExtensions(msg string) map[string]string {
	exts := make(map[string]string)
	lines := strings.Split(msg, "\n")
	for _, line := range lines[1:] {
		kv := strings.SplitN(strings.TrimSpace(line), " ", 2)
		if kv[0] == "" {
			continue
		}
		k := strings.ToUpper(kv[0])
		if len(kv) == 2 {
			exts[k] = kv[1]
		} else {
			exts[k] = ""
		}
	}
	return exts
}
