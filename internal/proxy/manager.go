package proxy

import (
	"fmt"
	"net/url"
	"sync/atomic"
)

// Manager rotates outbound traffic across operator-supplied proxies. HTTP
// enrichment requests rotate through one pool; SMTP probes dial through a
// separate SOCKS pool, since mail probing needs clean reusable IPs far more
// than web scraping does.
type Manager struct {
	httpProxies []*url.URL
	smtpProxies []*url.URL
	httpCounter uint64
	smtpCounter uint64
}

func NewManager(httpList, smtpList []string) (*Manager, error) {
	httpProxies, err := parseList(httpList)
	if err != nil {
		return nil, err
	}
	smtpProxies, err := parseList(smtpList)
	if err != nil {
		return nil, err
	}
	for _, u := range smtpProxies {
		if u.Scheme != "socks5" && u.Scheme != "socks5h" {
			return nil, fmt.Errorf("smtp proxy %q: only socks5 works for raw SMTP", u.String())
		}
	}
	return &Manager{httpProxies: httpProxies, smtpProxies: smtpProxies}, nil
}

func parseList(list []string) ([]*url.URL, error) {
	var parsed []*url.URL
	for _, p := range list {
		if p == "" {
			continue
		}
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", p, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q: need scheme://host:port", p)
		}
		parsed = append(parsed, u)
	}
	return parsed, nil
}

// HTTPEnabled reports whether enrichment requests should rotate proxies.
// Safe on a nil manager.
func (m *Manager) HTTPEnabled() bool { return m != nil && len(m.httpProxies) > 0 }

// SMTPEnabled reports whether probe connections go through SOCKS.
func (m *Manager) SMTPEnabled() bool { return m != nil && len(m.smtpProxies) > 0 }

// NextHTTP returns the next HTTP proxy in rotation, nil when none configured.
func (m *Manager) NextHTTP() *url.URL {
	if !m.HTTPEnabled() {
		return nil
	}
	n := atomic.AddUint64(&m.httpCounter, 1)
	return m.httpProxies[(n-1)%uint64(len(m.httpProxies))]
}

func (m *Manager) nextSMTP() *url.URL {
	if !m.SMTPEnabled() {
		return nil
	}
	n := atomic.AddUint64(&m.smtpCounter, 1)
	return m.smtpProxies[(n-1)%uint64(len(m.smtpProxies))]
}
