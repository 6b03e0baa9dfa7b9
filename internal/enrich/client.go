package enrich

import (
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"mailreach/internal/proxy"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

func randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// Client is the shared HTTP client for enrichment sources. When a proxy pool
// is configured, the first attempt goes through it and a failure falls back
// to a direct request, so one dead proxy cannot blind a provider.
type Client struct {
	direct  *http.Client
	proxied *http.Client
}

func NewClient(timeout time.Duration, proxies *proxy.Manager) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{direct: &http.Client{Timeout: timeout}}
	if proxies.HTTPEnabled() {
		c.proxied = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: func(*http.Request) (*url.URL, error) {
					return proxies.NextHTTP(), nil
				},
			},
		}
	}
	return c
}

// Do sends the request with a rotated User-Agent, proxy first when available.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", randomUserAgent())
	}
	if c.proxied != nil {
		resp, err := c.proxied.Do(req)
		if err == nil {
			return resp, nil
		}
	}
	return c.direct.Do(req)
}
