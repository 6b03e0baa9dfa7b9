package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailreach/internal/config"
	"mailreach/internal/models"
	"mailreach/internal/proxy"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HeloDomain:        "verifier.test",
		MailFrom:          "verify@verifier.test",
		SMTPConcurrency:   4,
		HostConcurrency:   2,
		QueueSize:         10,
		EnrichConcurrency: 4,
		TieredEnabled:     true,
		FastThreshold:     0.85,
		PatternStrong:     0.88,
		PatternMediumLow:  0.70,
		PatternMediumHigh: 0.88,
		CacheBackend:      config.BackendEmbedded,
		SQLitePath:        filepath.Join(t.TempDir(), "verdicts.db"),
		Freshness:         30 * 24 * time.Hour,
		MaxDNSTTL:         24 * time.Hour,
		CatchAllTTL:       7 * 24 * time.Hour,
		SMTPBatchSize:     100,
		BatchMax:          1000,
	}
}

// New registers the in-flight gauge on the default Prometheus registry, so
// exactly one test in this package may call it.
func TestNewBuildsPipeline(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Verifier == nil {
		t.Fatal("no verifier built")
	}
	if a.Queue.Enabled() {
		t.Error("queue reports enabled without REDIS_URL")
	}
	if a.Store.Degraded() {
		t.Error("fresh store reports degraded")
	}

	// One verdict through the buffered store into SQLite and back.
	ctx := context.Background()
	v := &models.Verdict{
		Email:        "jane@corp.test",
		Normalized:   "jane@corp.test",
		Reachability: models.ReachabilitySafe,
		Status:       models.StatusDeliverable,
		Deliverable:  models.Bool(true),
		Domain:       "corp.test",
		SmtpCode:     250,
		Tier:         models.TierSMTP,
		VerifiedAt:   time.Now().UTC(),
	}
	if err := a.Store.Put(ctx, v); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, age, err := a.Store.Get(ctx, "jane@corp.test")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Reachability != models.ReachabilitySafe || got.SmtpCode != 250 {
		t.Errorf("round-trip verdict = %+v", got)
	}
	if age > time.Minute {
		t.Errorf("age = %v for a verdict written just now", age)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheBackend = "cloud"
	if _, err := New(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}

func TestBuildEnricherRespectsConfig(t *testing.T) {
	proxies, err := proxy.NewManager(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t)
	if buildEnricher(cfg, proxies) != nil {
		t.Error("enricher built while ENRICH_ENABLED is off")
	}

	cfg.EnrichEnabled = true
	cfg.HIBPKey = "k"
	cfg.EnrichCheapURL = "https://finder.test/v1"
	if buildEnricher(cfg, proxies) == nil {
		t.Error("no enricher despite ENRICH_ENABLED")
	}
}
