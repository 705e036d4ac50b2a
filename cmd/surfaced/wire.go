package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/adapter"
	"github.com/boddenberg/surface-exec/internal/adapter/api"
	"github.com/boddenberg/surface-exec/internal/adapter/web"
	"github.com/boddenberg/surface-exec/internal/config"
	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/failover"
	"github.com/boddenberg/surface-exec/internal/handler"
	"github.com/boddenberg/surface-exec/internal/infra/cache"
	"github.com/boddenberg/surface-exec/internal/infra/observability"
	"github.com/boddenberg/surface-exec/internal/port"
	"github.com/boddenberg/surface-exec/internal/provider"
)

// app holds everything a command needs. Close releases it in reverse
// construction order.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	registry *adapter.Registry
	pool     *web.SessionPool
	probes   *cache.InMemory[domain.HealthCheckResult]
	inHouse  *provider.InHouse
	failover *failover.Manager
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	catalog, err := config.LoadCatalog(cfg.SurfacesFile)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  observability.NewMetrics(),
		registry: adapter.NewRegistry(),
	}

	if err := a.registerAPISurfaces(ctx, catalog); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.registerWebSurfaces(catalog); err != nil {
		a.Close()
		return nil, err
	}

	a.probes = cache.New[domain.HealthCheckResult](cfg.HealthCacheTTL)
	var proxy port.ProxyResolver
	if cfg.ProxyTemplate != "" {
		proxy = provider.TemplateResolver{Template: cfg.ProxyTemplate}
	}
	a.inHouse = provider.NewInHouse(a.registry, provider.InHouseConfig{
		Window:           cfg.Failover.Window,
		SuccessThreshold: cfg.Failover.SuccessRateThreshold,
		Proxy:            proxy,
	}, a.probes, a.metrics, logger)

	entries := []failover.Entry{{Provider: a.inHouse, Priority: 1}}
	for i, o := range cfg.OutsourcedProviders {
		entries = append(entries, failover.Entry{Provider: provider.NewOutsourced(o.Name, o.Surfaces), Priority: 10 + i})
	}
	a.failover, err = failover.NewManager(cfg.Failover, entries, a.metrics, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("execution layer ready",
		zap.Strings("surfaces", a.registry.IDs()),
		zap.Int("providers", len(entries)),
		zap.Bool("failover_enabled", cfg.Failover.Enabled),
	)
	return a, nil
}

func (a *app) retryPolicy() adapter.RetryPolicy {
	return adapter.RetryPolicy{
		Timeout:      a.cfg.QueryTimeout,
		MaxRetries:   a.cfg.MaxRetries,
		InitialDelay: a.cfg.InitialBackoff,
		Multiplier:   a.cfg.BackoffMultiplier,
		MaxDelay:     a.cfg.MaxBackoff,
	}
}

// registerAPISurfaces registers every API surface that has a key and is
// not disabled in the catalog.
func (a *app) registerAPISurfaces(ctx context.Context, catalog *config.Catalog) error {
	httpClient := &http.Client{Timeout: a.cfg.HTTPTimeout}
	apiCfg := func(id, key string) (api.Config, bool) {
		if key == "" || !catalog.Enabled(id, true) {
			return api.Config{}, false
		}
		o := catalog.Override(id)
		return api.Config{
			APIKey:             key,
			BaseURL:            o.BaseURL,
			Model:              o.Model,
			RateLimitPerMinute: o.RateLimitPerMinute,
			Policy:             a.retryPolicy(),
			HTTPClient:         httpClient,
		}, true
	}

	var adapters []port.SurfaceAdapter
	if c, ok := apiCfg("openai-api", a.cfg.OpenAIAPIKey); ok {
		adapters = append(adapters, api.NewOpenAI(c, a.logger))
	}
	if c, ok := apiCfg("perplexity-api", a.cfg.PerplexityAPIKey); ok {
		adapters = append(adapters, api.NewPerplexity(c, a.logger))
	}
	if c, ok := apiCfg("anthropic-api", a.cfg.AnthropicAPIKey); ok {
		adapters = append(adapters, api.NewAnthropic(c, a.logger))
	}
	if c, ok := apiCfg("gemini-api", a.cfg.GeminiAPIKey); ok {
		g, err := api.NewGemini(ctx, c, a.logger)
		if err != nil {
			return fmt.Errorf("gemini adapter: %w", err)
		}
		adapters = append(adapters, g)
	}

	for _, ad := range adapters {
		if err := a.registry.Register(ad); err != nil {
			return err
		}
	}
	return nil
}

// registerWebSurfaces registers the built-in browser surfaces on one shared
// session pool. The browser is launched on the first query.
func (a *app) registerWebSurfaces(catalog *config.Catalog) error {
	if a.cfg.WebMaxSessions <= 0 {
		a.logger.Info("web surfaces disabled", zap.Int("web_max_sessions", a.cfg.WebMaxSessions))
		return nil
	}

	timingCfg := web.DefaultHumanTiming()
	timingCfg.KeystrokeMin = a.cfg.TypingMinDelay
	timingCfg.KeystrokeMax = a.cfg.TypingMaxDelay
	var timing web.Timing = web.NewHumanTiming(timingCfg, 0)
	if !a.cfg.HumanTiming {
		timing = web.NoDelay{}
	}

	factory := web.NewRodFactory(web.RodConfig{
		ControlURL: a.cfg.BrowserControlURL,
		Bin:        a.cfg.BrowserBin,
		Headless:   a.cfg.BrowserHeadless,
	}, a.logger)
	a.pool = web.NewSessionPool(factory, a.cfg.WebMaxSessions, a.logger, web.WithLeaseObserver(a.metrics.SessionLeased))

	for _, s := range web.BuiltinSurfaces() {
		s.Meta = catalog.Apply(s.Meta)
		if !s.Meta.Enabled {
			continue
		}
		ad, err := web.New(web.Config{Surface: s, Pool: a.pool, Timing: timing}, a.logger)
		if err != nil {
			return fmt.Errorf("web adapter %s: %w", s.Meta.ID, err)
		}
		if err := a.registry.Register(ad); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) router() http.Handler {
	return handler.NewRouter(handler.Deps{
		Failover: a.failover,
		InHouse:  a.inHouse,
		Adapters: a.registry,
		Auth:     handler.NewTokenVerifier(a.cfg.JWTSecret),
		Metrics:  a.metrics,
	}, a.logger)
}

// Close shuts providers, adapters and the browser down.
func (a *app) Close() error {
	var errs []error
	if a.failover != nil {
		errs = append(errs, a.failover.Close())
	}
	errs = append(errs, a.registry.Close())
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.probes != nil {
		a.probes.Close()
	}
	return errors.Join(errs...)
}
