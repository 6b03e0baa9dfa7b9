package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	c := FromEnv()

	if c.HeloDomain != "localhost" {
		t.Errorf("HeloDomain = %q", c.HeloDomain)
	}
	if c.MailFrom != "verify@localhost" {
		t.Errorf("MailFrom = %q, want derived from HELO", c.MailFrom)
	}
	if c.SMTPConcurrency != 20 || c.HostConcurrency != 4 {
		t.Errorf("concurrency defaults = %d/%d", c.SMTPConcurrency, c.HostConcurrency)
	}
	if !c.TieredEnabled {
		t.Error("tiering should default on")
	}
	if c.FastThreshold != 0.85 || c.PatternStrong != 0.88 {
		t.Errorf("thresholds = %.2f/%.2f", c.FastThreshold, c.PatternStrong)
	}
	if c.CacheBackend != BackendEmbedded || c.SQLitePath == "" {
		t.Errorf("backend = %q path %q", c.CacheBackend, c.SQLitePath)
	}
	if c.Freshness != 30*24*time.Hour {
		t.Errorf("Freshness = %v", c.Freshness)
	}
	if c.MaxDNSTTL != 24*time.Hour || c.CatchAllTTL != 7*24*time.Hour {
		t.Errorf("TTLs = %v/%v", c.MaxDNSTTL, c.CatchAllTTL)
	}
	if c.SMTPBatchSize != 750 || c.BatchMax != 1000 {
		t.Errorf("batch = %d/%d", c.SMTPBatchSize, c.BatchMax)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HELO_DOMAIN", "verify.acme.test")
	t.Setenv("FROM_ADDRESS", "probe@acme.test")
	t.Setenv("SMTP_CONCURRENCY", "500") // clamped
	t.Setenv("TIERED_ENABLED", "false")
	t.Setenv("CACHE_BACKEND", "remote")
	t.Setenv("DATABASE_URL", "postgres://verifier@db/mailreach")
	t.Setenv("DNS_SERVERS", "10.0.0.1:53, 10.0.0.2:53,")
	t.Setenv("REQUEST_BUDGET_SECONDS", "45")
	t.Setenv("LOG_JSON", "1")

	c := FromEnv()

	if c.MailFrom != "probe@acme.test" {
		t.Errorf("MailFrom = %q", c.MailFrom)
	}
	if c.SMTPConcurrency != 100 {
		t.Errorf("SMTPConcurrency = %d, want clamped to 100", c.SMTPConcurrency)
	}
	if c.TieredEnabled {
		t.Error("TIERED_ENABLED=false ignored")
	}
	if len(c.DNSServers) != 2 || c.DNSServers[0] != "10.0.0.1:53" {
		t.Errorf("DNSServers = %v", c.DNSServers)
	}
	if c.Budget() != 45*time.Second {
		t.Errorf("Budget = %v", c.Budget())
	}
	if c.BatchBudget() != 45*time.Second {
		t.Errorf("BatchBudget = %v, want stretched to request budget", c.BatchBudget())
	}
	if !c.LogJSON {
		t.Error("LOG_JSON=1 ignored")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("config invalid: %v", err)
	}
}

func TestBudgetAuto(t *testing.T) {
	c := FromEnv()
	if c.Budget() != 20*time.Second {
		t.Errorf("Budget = %v, want 20s without enrichment", c.Budget())
	}
	c.EnrichEnabled = true
	if c.Budget() != 30*time.Second {
		t.Errorf("Budget = %v, want 30s with enrichment", c.Budget())
	}
	if c.BatchBudget() != 30*time.Second {
		t.Errorf("BatchBudget = %v", c.BatchBudget())
	}
}

func TestValidateRejectsBrokenSetups(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"remote without url", func(c *Config) { c.CacheBackend = BackendRemote; c.DatabaseURL = "" }},
		{"embedded without path", func(c *Config) { c.SQLitePath = "" }},
		{"unknown backend", func(c *Config) { c.CacheBackend = "dynamo" }},
		{"threshold out of range", func(c *Config) { c.FastThreshold = 1.5 }},
		{"inverted enrichment band", func(c *Config) { c.PatternMediumLow = 0.9 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := FromEnv()
			tc.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
