// Package app assembles the service from its parts: verdict store, resolver,
// domain facts cache, SMTP prober, enrichment waterfall, task queue and the
// tiered dispatcher. The API server, the queue worker and the CLI all build
// the same stack through New and differ only in what they drive it with.
package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailreach/internal/cache"
	"mailreach/internal/config"
	"mailreach/internal/enrich"
	"mailreach/internal/lookup"
	"mailreach/internal/metrics"
	"mailreach/internal/proxy"
	"mailreach/internal/queue"
	"mailreach/internal/store"
	"mailreach/internal/validator"
)

// janitorEvery is how often expired domain facts are swept.
const janitorEvery = 10 * time.Minute

// App owns every long-lived component and their shutdown order.
type App struct {
	Cfg      *config.Config
	Log      *zap.Logger
	Store    *store.Buffered
	Facts    *cache.Store
	Queue    *queue.Queue // nil when REDIS_URL is unset
	Verifier *validator.Verifier

	cancel context.CancelFunc
}

// OpenStore opens the configured persistence backend. Callers that only need
// storage (the migrate command) use this directly instead of New.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Backend, error) {
	if cfg.CacheBackend == config.BackendRemote {
		log.Info("Opening remote verdict store")
		return store.NewPostgres(ctx, cfg.DatabaseURL)
	}
	log.Info("Opening embedded verdict store", zap.String("path", cfg.SQLitePath))
	return store.NewSQLite(ctx, cfg.SQLitePath)
}

// New builds the full stack and starts its background loops: the store's
// write buffer and the facts janitor. ctx bounds only the startup work;
// Close stops what New started.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	buffered := store.NewBuffered(backend, 0, log)

	runCtx, cancel := context.WithCancel(context.Background())
	buffered.Start(runCtx)

	fail := func(err error) (*App, error) {
		cancel()
		buffered.Close()
		return nil, err
	}

	var resolver lookup.MXResolver
	if len(cfg.DNSServers) > 0 {
		log.Info("Using pinned DNS servers", zap.Strings("servers", cfg.DNSServers))
		resolver = lookup.NewClient(cfg.DNSServers)
	} else {
		resolver = lookup.SystemResolver()
	}
	facts := cache.New(resolver, cache.Options{
		MaxDNSTTL:   cfg.MaxDNSTTL,
		CatchAllTTL: cfg.CatchAllTTL,
	})
	go facts.Janitor(runCtx, janitorEvery)

	proxies, err := proxy.NewManager(cfg.ProxyURLs, cfg.SMTPProxyURLs)
	if err != nil {
		return fail(err)
	}
	if proxies.SMTPEnabled() {
		log.Info("SMTP probes will dial through SOCKS", zap.Int("proxies", len(cfg.SMTPProxyURLs)))
	}

	limiter := lookup.NewLimiter(cfg.SMTPConcurrency, cfg.QueueSize)
	metrics.RegisterInFlight(limiter.InFlight)
	prober := lookup.NewProber(lookup.ProberConfig{
		HeloDomain:      cfg.HeloDomain,
		MailFrom:        cfg.MailFrom,
		PerHostLimit:    cfg.HostConcurrency,
		BatchSize:       cfg.SMTPBatchSize,
		GreylistRetries: cfg.GreylistRetries,
	}, limiter, proxies.DialContext)

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		return fail(err)
	}

	deps := validator.Deps{
		Store:  buffered,
		Facts:  facts,
		Prober: prober,
		Log:    log,
	}
	// Optional capabilities stay nil interfaces when not configured; a typed
	// nil here would read as "present" to the dispatcher.
	if enricher := buildEnricher(cfg, proxies); enricher != nil {
		deps.Enricher = enricher
	}
	if q.Enabled() {
		deps.Scheduler = q
	}

	return &App{
		Cfg:      cfg,
		Log:      log,
		Store:    buffered,
		Facts:    facts,
		Queue:    q,
		Verifier: validator.New(deps, validator.OptionsFromConfig(cfg)),
		cancel:   cancel,
	}, nil
}

// buildEnricher assembles the identity waterfall: free sources always, paid
// ones only when keyed. Returns nil when enrichment is off, which disables
// tiers five and six entirely.
func buildEnricher(cfg *config.Config, proxies *proxy.Manager) *enrich.Waterfall {
	if !cfg.EnrichEnabled {
		return nil
	}
	hc := enrich.NewClient(10*time.Second, proxies)
	providers := []enrich.Provider{
		enrich.NewGravatar(hc),
		enrich.NewGitHub(hc),
	}
	if cfg.HIBPKey != "" {
		providers = append(providers, enrich.NewHIBP(hc, cfg.HIBPKey))
	}
	if cfg.EnrichCheapURL != "" {
		providers = append(providers, enrich.NewHTTPAPI(hc, "cheap", cfg.EnrichCheapURL, cfg.EnrichCheapKey, 1))
	}
	if cfg.EnrichExpensiveURL != "" {
		providers = append(providers, enrich.NewHTTPAPI(hc, "expensive", cfg.EnrichExpensiveURL, cfg.EnrichExpensiveKey, 2))
	}
	return enrich.NewWaterfall(cfg.EnrichConcurrency, providers...)
}

// Close stops background loops, drains the queue client and flushes the
// store. Safe to call once.
func (a *App) Close() {
	a.cancel()
	_ = a.Queue.Close()
	a.Store.Close()
}
