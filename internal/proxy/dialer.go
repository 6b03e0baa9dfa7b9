package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	netproxy "golang.org/x/net/proxy"
)

const dialTimeout = 10 * time.Second

// DialContext opens addr through the next SMTP proxy, or directly when no
// SMTP pool is configured, so it can be dropped in as a prober's dial
// function either way.
func (m *Manager) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	direct := &net.Dialer{Timeout: dialTimeout}
	u := m.nextSMTP()
	if u == nil {
		return direct.DialContext(ctx, network, addr)
	}

	// Resolve the MX host locally. SOCKS endpoints with lazy or captive DNS
	// would otherwise decide which server we measure.
	addr = resolveLocal(ctx, addr)

	pd, err := netproxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %w", u.Host, err)
	}
	if cd, ok := pd.(netproxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	return dialWithContext(ctx, pd, network, addr)
}

func resolveLocal(ctx context.Context, addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || net.ParseIP(host) != nil {
		return addr
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil || len(ips) == 0 {
		return addr
	}
	chosen := ips[0].IP
	for _, ip := range ips {
		if ip.IP.To4() != nil {
			chosen = ip.IP
			break
		}
	}
	return net.JoinHostPort(chosen.String(), port)
}

// dialWithContext adapts a plain proxy dialer to context cancellation.
func dialWithContext(ctx context.Context, d netproxy.Dialer, network, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := d.Dial(network, addr)
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
