// Package config loads the service configuration from the environment.
// Every knob has a default that works for a single-node deployment; the
// only settings most operators touch are HELO_DOMAIN, FROM_ADDRESS and the
// store backend.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendEmbedded = "embedded"
	BackendRemote   = "remote"
)

type Config struct {
	// SMTP identity presented during probes. Deliverability of the probes
	// themselves depends on these matching the sending host's rDNS/SPF.
	HeloDomain string
	MailFrom   string

	// Concurrency caps.
	SMTPConcurrency   int // global probe cap, hard-limited to 100
	HostConcurrency   int // concurrent conversations per MX host
	QueueSize         int // bounded wait queue behind the global cap
	EnrichConcurrency int

	// Tiering.
	TieredEnabled     bool
	FastThreshold     float64 // fast-tier confidence gate
	PatternStrong     float64 // pattern-tier safe gate
	PatternMediumLow  float64 // enrichment band, inclusive
	PatternMediumHigh float64 // enrichment band, exclusive

	// Verdict store.
	CacheBackend string // embedded | remote
	SQLitePath   string
	DatabaseURL  string
	Freshness    time.Duration // verdict reuse window

	// Domain facts TTLs.
	MaxDNSTTL   time.Duration
	CatchAllTTL time.Duration
	DNSServers  []string // empty means the system resolver

	// Probe behavior.
	GreylistRetries int
	SMTPBatchSize   int // RCPTs per connection before rotating
	BatchMax        int // addresses per synchronous batch request
	RequestBudget   time.Duration // 0 means auto (20s, 30s with enrichment)

	// Enrichment.
	EnrichEnabled      bool
	EnrichCheapURL     string
	EnrichCheapKey     string
	EnrichExpensiveURL string
	EnrichExpensiveKey string
	HIBPKey            string

	// Infrastructure.
	ProxyURLs     []string // HTTP enrichment traffic
	SMTPProxyURLs []string // SOCKS5 only
	RedisURL      string   // empty disables the queue, jobs run inline
	APIPort       string
	APISecretKey  string // empty disables bearer auth

	// Logging.
	LogLevel string
	LogJSON  bool
}

// FromEnv builds a Config from the process environment, applying defaults
// and clamping values that would make the prober hostile to remote MTAs.
func FromEnv() *Config {
	c := &Config{
		HeloDomain: getEnv("HELO_DOMAIN", "localhost"),
		MailFrom:   getEnv("FROM_ADDRESS", ""),

		SMTPConcurrency:   getInt("SMTP_CONCURRENCY", 20),
		HostConcurrency:   getInt("SMTP_HOST_CONCURRENCY", 4),
		QueueSize:         getInt("SMTP_QUEUE_SIZE", 100),
		EnrichConcurrency: getInt("ENRICH_CONCURRENCY", 8),

		TieredEnabled:     getBool("TIERED_ENABLED", true),
		FastThreshold:     getFloat("FAST_CONFIDENCE_THRESHOLD", 0.85),
		PatternStrong:     getFloat("PATTERN_STRONG_THRESHOLD", 0.88),
		PatternMediumLow:  getFloat("PATTERN_MEDIUM_LOW", 0.70),
		PatternMediumHigh: getFloat("PATTERN_MEDIUM_HIGH", 0.88),

		CacheBackend: getEnv("CACHE_BACKEND", BackendEmbedded),
		SQLitePath:   getEnv("SQLITE_PATH", "mailreach.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		Freshness:    time.Duration(getInt("FRESHNESS_DAYS", 30)) * 24 * time.Hour,

		MaxDNSTTL:   time.Duration(getInt("DNS_TTL_MAX_HOURS", 24)) * time.Hour,
		CatchAllTTL: time.Duration(getInt("CATCHALL_TTL_DAYS", 7)) * 24 * time.Hour,
		DNSServers:  getList("DNS_SERVERS"),

		GreylistRetries: getInt("GREYLIST_RETRIES", 0),
		SMTPBatchSize:   getInt("SMTP_BATCH_SIZE", 750),
		BatchMax:        getInt("BATCH_MAX", 1000),
		RequestBudget:   time.Duration(getInt("REQUEST_BUDGET_SECONDS", 0)) * time.Second,

		EnrichEnabled:      getBool("ENRICH_ENABLED", false),
		EnrichCheapURL:     getEnv("ENRICH_CHEAP_URL", ""),
		EnrichCheapKey:     getEnv("ENRICH_CHEAP_KEY", ""),
		EnrichExpensiveURL: getEnv("ENRICH_EXPENSIVE_URL", ""),
		EnrichExpensiveKey: getEnv("ENRICH_EXPENSIVE_KEY", ""),
		HIBPKey:            getEnv("HIBP_API_KEY", ""),

		ProxyURLs:     getList("PROXY_URLS"),
		SMTPProxyURLs: getList("SMTP_PROXY_URLS"),
		RedisURL:      getEnv("REDIS_URL", ""),
		APIPort:       getEnv("API_PORT", "8080"),
		APISecretKey:  getEnv("API_SECRET_KEY", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getBool("LOG_JSON", false),
	}

	if c.MailFrom == "" {
		c.MailFrom = "verify@" + c.HeloDomain
	}
	if c.SMTPConcurrency < 1 {
		c.SMTPConcurrency = 1
	}
	if c.SMTPConcurrency > 100 {
		c.SMTPConcurrency = 100
	}
	if c.HostConcurrency < 1 {
		c.HostConcurrency = 1
	}
	if c.BatchMax < 1 || c.BatchMax > 1000 {
		c.BatchMax = 1000
	}
	return c
}

// Validate catches settings that would only surface as confusing runtime
// failures.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case BackendEmbedded:
		if c.SQLitePath == "" {
			return fmt.Errorf("CACHE_BACKEND=embedded requires SQLITE_PATH")
		}
	case BackendRemote:
		if c.DatabaseURL == "" {
			return fmt.Errorf("CACHE_BACKEND=remote requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q (want embedded or remote)", c.CacheBackend)
	}
	if c.FastThreshold <= 0 || c.FastThreshold > 1 {
		return fmt.Errorf("FAST_CONFIDENCE_THRESHOLD %.2f out of (0,1]", c.FastThreshold)
	}
	if c.PatternMediumLow >= c.PatternMediumHigh {
		return fmt.Errorf("PATTERN_MEDIUM_LOW %.2f must be below PATTERN_MEDIUM_HIGH %.2f",
			c.PatternMediumLow, c.PatternMediumHigh)
	}
	return nil
}

// Budget is the per-request deadline. Explicit REQUEST_BUDGET_SECONDS wins;
// otherwise 20s, stretched to 30s when enrichment may add tiers five and six.
func (c *Config) Budget() time.Duration {
	if c.RequestBudget > 0 {
		return c.RequestBudget
	}
	if c.EnrichEnabled {
		return 30 * time.Second
	}
	return 20 * time.Second
}

// BatchBudget bounds a synchronous batch request.
func (c *Config) BatchBudget() time.Duration {
	b := 30 * time.Second
	if c.RequestBudget > b {
		b = c.RequestBudget
	}
	return b
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}

func getList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
