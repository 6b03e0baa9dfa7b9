package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"mailreach/internal/models"
)

// Outcomes of MX resolution that the dispatcher maps to verdicts instead of
// surfacing as failures.
var (
	ErrNoDomain     = errors.New("domain does not exist")
	ErrNullMX       = errors.New("domain declares null MX")
	ErrNoMX         = errors.New("no mail hosts for domain")
	ErrDNSTemporary = errors.New("temporary DNS failure")
)

// A domain rarely needs more than a couple of fallback hosts; probing a long
// MX tail just burns the request budget.
const maxMXHosts = 5

const dnsTimeout = 3 * time.Second

// MXResult is an ordered, de-duplicated MX set plus the smallest record TTL,
// which the facts cache caps at the operator maximum.
type MXResult struct {
	Records []models.MX
	TTL     time.Duration
}

// MXResolver is what the domain-facts layer consumes.
type MXResolver interface {
	ResolveMX(ctx context.Context, domain string) (*MXResult, error)
}

// Resolver is the stdlib-shaped lookup interface. net.Resolver satisfies it,
// and so do test fakes.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Exchanger abstracts the raw DNS round-trip so Client tests can hand back
// canned messages.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// Client resolves MX sets against explicitly configured DNS servers and
// preserves record TTLs, which the system resolver hides.
type Client struct {
	servers []string
	exch    Exchanger
}

// NewClient builds a resolver querying the given servers in order until one
// answers. Servers without an explicit port get :53.
func NewClient(servers []string) *Client {
	normalized := make([]string, len(servers))
	for i, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized[i] = s
	}
	return &Client{
		servers: normalized,
		exch:    &dns.Client{Timeout: dnsTimeout},
	}
}

// NewClientWithExchanger is for tests.
func NewClientWithExchanger(servers []string, exch Exchanger) *Client {
	return &Client{servers: servers, exch: exch}
}

func (c *Client) ResolveMX(ctx context.Context, domain string) (*MXResult, error) {
	msg, err := c.query(ctx, domain, dns.TypeMX)
	if err != nil {
		return nil, err
	}

	var records []models.MX
	minTTL := time.Duration(0)
	for _, rr := range msg.Answer {
		mx, ok := rr.(*dns.MX)
		if !ok {
			continue
		}
		host := strings.TrimSuffix(mx.Mx, ".")
		records = append(records, models.MX{Host: host, Pref: mx.Preference})
		ttl := time.Duration(mx.Hdr.Ttl) * time.Second
		if minTTL == 0 || ttl < minTTL {
			minTTL = ttl
		}
	}

	if isNullMX(records) {
		return nil, ErrNullMX
	}
	if len(records) == 0 {
		return c.fallbackHost(ctx, domain)
	}
	return &MXResult{Records: orderMX(records), TTL: minTTL}, nil
}

// fallbackHost synthesizes a preference-0 MX from A/AAAA records when the
// domain publishes no MX at all (RFC 5321 implicit MX).
func (c *Client) fallbackHost(ctx context.Context, domain string) (*MXResult, error) {
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg, err := c.query(ctx, domain, qtype)
		if err != nil {
			if errors.Is(err, ErrNoDomain) {
				return nil, err
			}
			continue
		}
		for _, rr := range msg.Answer {
			var ttl time.Duration
			switch r := rr.(type) {
			case *dns.A:
				ttl = time.Duration(r.Hdr.Ttl) * time.Second
			case *dns.AAAA:
				ttl = time.Duration(r.Hdr.Ttl) * time.Second
			default:
				continue
			}
			return &MXResult{
				Records: []models.MX{{Host: domain, Pref: 0, Implicit: true}},
				TTL:     ttl,
			}, nil
		}
	}
	return nil, ErrNoMX
}

func (c *Client) query(ctx context.Context, domain string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range c.servers {
		in, _, err := c.exch.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		switch in.Rcode {
		case dns.RcodeSuccess:
			return in, nil
		case dns.RcodeNameError:
			return nil, ErrNoDomain
		default:
			lastErr = fmt.Errorf("rcode %s from %s", dns.RcodeToString[in.Rcode], server)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no DNS servers configured")
	}
	return nil, fmt.Errorf("%w: %v", ErrDNSTemporary, lastErr)
}

// StdResolver adapts the stdlib-shaped Resolver to MXResolver. It cannot see
// record TTLs, so results carry TTL 0 and the facts cache applies its default.
type StdResolver struct {
	R Resolver
}

// SystemResolver resolves through the host's stub resolver with a dial
// timeout, for deployments that do not pin DNS servers.
func SystemResolver() *StdResolver {
	return &StdResolver{R: &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: dnsTimeout}
			return d.DialContext(ctx, network, address)
		},
	}}
}

func (s *StdResolver) ResolveMX(ctx context.Context, domain string) (*MXResult, error) {
	mxs, err := s.R.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			if dnsErr.IsNotFound {
				// Either the domain is gone or it just has no MX. A host
				// lookup tells the two apart.
				return s.fallbackHost(ctx, domain)
			}
			if dnsErr.IsTimeout || dnsErr.IsTemporary {
				return nil, fmt.Errorf("%w: %v", ErrDNSTemporary, err)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrDNSTemporary, err)
	}

	var records []models.MX
	for _, mx := range mxs {
		records = append(records, models.MX{
			Host: strings.TrimSuffix(mx.Host, "."),
			Pref: mx.Pref,
		})
	}
	if isNullMX(records) {
		return nil, ErrNullMX
	}
	if len(records) == 0 {
		return s.fallbackHost(ctx, domain)
	}
	return &MXResult{Records: orderMX(records)}, nil
}

func (s *StdResolver) fallbackHost(ctx context.Context, domain string) (*MXResult, error) {
	addrs, err := s.R.LookupHost(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, ErrNoDomain
		}
		return nil, fmt.Errorf("%w: %v", ErrDNSTemporary, err)
	}
	if len(addrs) == 0 {
		return nil, ErrNoMX
	}
	return &MXResult{
		Records: []models.MX{{Host: domain, Pref: 0, Implicit: true}},
	}, nil
}

// DNSReason maps a resolution failure to its verdict reason code.
func DNSReason(err error) string {
	switch {
	case errors.Is(err, ErrNoDomain):
		return models.ReasonNXDomain
	case errors.Is(err, ErrNullMX):
		return models.ReasonNullMX
	case errors.Is(err, ErrNoMX):
		return models.ReasonNoMX
	default:
		return models.ReasonDNSTemporary
	}
}

// isNullMX detects the RFC 7505 "this domain accepts no mail" marker: a
// single MX whose target is the root label.
func isNullMX(records []models.MX) bool {
	return len(records) == 1 && (records[0].Host == "" || records[0].Host == ".")
}

// orderMX sorts by preference, de-duplicates hosts, and trims the tail.
func orderMX(records []models.MX) []models.MX {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})
	seen := make(map[string]struct{}, len(records))
	out := records[:0]
	for _, r := range records {
		host := strings.ToLower(r.Host)
		if _, dup := seen[host]; dup || host == "" {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, r)
		if len(out) == maxMXHosts {
			break
		}
	}
	return out
}
