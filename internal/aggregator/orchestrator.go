// Package aggregator owns the three background loops that keep the cache
// fresh: asset-list update, quote fetch, and news fetch. Nothing outside
// this package writes to the cache; the HTTP API only ever reads it.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-aggregator/internal/metrics"
	"github.com/sawpanic/marketdata-aggregator/internal/model"
	"github.com/sawpanic/marketdata-aggregator/internal/providers"
)

// CacheStore is the subset of internal/cache.Facade the orchestrator depends
// on, narrowed to an interface so tests can substitute a fake.
type CacheStore interface {
	GetActiveSymbols(ctx context.Context) ([]string, bool, error)
	SetActiveSymbols(ctx context.Context, symbols []string) error
	SetAssets(ctx context.Context, assetType model.AssetType, assets []model.Asset, ttl time.Duration) error
	SetQuotes(ctx context.Context, quotes map[string]model.Quote, ttl time.Duration) error
	SetNews(ctx context.Context, key string, articles []model.NewsArticle, ttl time.Duration) error
	IsCircuitOpen(ctx context.Context, provider string) bool
	TripCircuit(ctx context.Context, provider string, cause error) error
	SetLastUpdate(ctx context.Context, task string, ts time.Time) error
}

// route is the static (primary, fallback) mapping per asset class.
type route struct {
	primary  model.DataProvider
	fallback model.DataProvider
}

var routes = map[model.AssetType]route{
	model.AssetTypeStocks: {primary: model.ProviderYFinance, fallback: model.ProviderFinnhub},
	model.AssetTypeCrypto: {primary: model.ProviderCoinGecko, fallback: model.ProviderCoinMarketCap},
	model.AssetTypeForex:  {primary: model.ProviderAlphaVantage, fallback: model.ProviderYFinance},
}

// Config holds the orchestrator's loop periods and defaults.
type Config struct {
	AssetListUpdateInterval time.Duration
	PriceFetchInterval      time.Duration
	NewsFetchInterval       time.Duration
	QuoteTTL                time.Duration
	AssetListTTL            time.Duration
	NewsTTL                 time.Duration
	DefaultSymbols          []string
	ShutdownGrace           time.Duration
}

// DefaultConfig mirrors the documented defaults for the three loop periods.
func DefaultConfig() Config {
	return Config{
		AssetListUpdateInterval: 24 * time.Hour,
		PriceFetchInterval:      5 * time.Second,
		NewsFetchInterval:       5 * time.Minute,
		QuoteTTL:                5 * time.Minute,
		AssetListTTL:            48 * time.Hour,
		NewsTTL:                 30 * time.Minute,
		DefaultSymbols:          []string{"AAPL", "MSFT", "GOOGL", "BTC-USD", "ETH-USD", "EUR/USD"},
		ShutdownGrace:           10 * time.Second,
	}
}

// Orchestrator runs the three background loops against a cache and a fixed
// set of provider adapters.
type Orchestrator struct {
	cache     CacheStore
	providers map[model.DataProvider]providers.Provider
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Registry

	wg       sync.WaitGroup
	shutdown chan struct{}
}

// WithMetrics attaches a metrics registry so each loop iteration's duration
// is observed, not just logged.
func (o *Orchestrator) WithMetrics(m *metrics.Registry) *Orchestrator {
	o.metrics = m
	return o
}

// New builds an Orchestrator. providers need not cover every DataProvider
// constant; routing simply skips a class whose provider is absent.
func New(cache CacheStore, registry map[model.DataProvider]providers.Provider, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cache:     cache,
		providers: registry,
		cfg:       cfg,
		log:       log.With().Str("component", "aggregator").Logger(),
		shutdown:  make(chan struct{}),
	}
}

// Run starts all three loops and blocks until ctx is cancelled, at which
// point it waits up to cfg.ShutdownGrace for in-flight iterations to finish.
func (o *Orchestrator) Run(ctx context.Context) {
	o.wg.Add(3)
	go o.loop(ctx, "asset_list_update", o.cfg.AssetListUpdateInterval, o.runAssetListUpdate)
	go o.loop(ctx, "price_fetch", o.cfg.PriceFetchInterval, o.runQuoteFetch)
	go o.loop(ctx, "news_fetch", o.cfg.NewsFetchInterval, o.runNewsFetch)

	<-ctx.Done()
	close(o.shutdown)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.log.Info().Msg("all loops stopped cleanly")
	case <-time.After(o.cfg.ShutdownGrace):
		o.log.Warn().Msg("shutdown grace period elapsed, loops may still be in flight")
	}
}

// loop runs fn once immediately, then again every period, until shutdown
// fires. The period sleep is interrupted by shutdown, not by a failed
// iteration: a single bad iteration never stalls the loop's cadence.
func (o *Orchestrator) loop(ctx context.Context, name string, period time.Duration, fn func(context.Context)) {
	defer o.wg.Done()
	o.runTimed(ctx, name, fn)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-o.shutdown:
			o.log.Info().Str("loop", name).Msg("loop stopped")
			return
		case <-ticker.C:
			o.runTimed(ctx, name, fn)
		}
	}
}

func (o *Orchestrator) runTimed(ctx context.Context, name string, fn func(context.Context)) {
	start := timeNow()
	fn(ctx)
	if o.metrics != nil {
		o.metrics.LoopDuration.WithLabelValues(name).Observe(timeSince(start).Seconds())
	}
}

// selectProvider applies the primary-then-fallback-then-skip algorithm for
// one asset class, returning the provider actually chosen and its identity.
func (o *Orchestrator) selectProvider(ctx context.Context, assetType model.AssetType) (providers.Provider, model.DataProvider, bool) {
	r, ok := routes[assetType]
	if !ok {
		return nil, "", false
	}
	if p, ok := o.providers[r.primary]; ok && p.Supports(assetType) && !o.cache.IsCircuitOpen(ctx, string(r.primary)) {
		return p, r.primary, true
	}
	if p, ok := o.providers[r.fallback]; ok && p.Supports(assetType) && !o.cache.IsCircuitOpen(ctx, string(r.fallback)) {
		return p, r.fallback, true
	}
	return nil, "", false
}

// noteOutcome trips the circuit of the provider actually used when the call
// failed with a ProviderError or an AuthenticationError. Other error kinds
// (rate limit, not found) do not trip the cross-process breaker here.
func (o *Orchestrator) noteOutcome(ctx context.Context, provider model.DataProvider, err error) {
	if err == nil {
		return
	}
	switch err.(type) {
	case *providers.ProviderError, *providers.AuthenticationError:
		if tripErr := o.cache.TripCircuit(ctx, string(provider), err); tripErr != nil {
			o.log.Warn().Err(tripErr).Str("provider", string(provider)).Msg("failed to persist circuit trip")
		}
		o.log.Warn().Err(err).Str("provider", string(provider)).Msg("provider error, circuit tripped")
	}
}

func (o *Orchestrator) runAssetListUpdate(ctx context.Context) {
	for _, assetType := range []model.AssetType{model.AssetTypeStocks, model.AssetTypeCrypto, model.AssetTypeForex} {
		p, identity, ok := o.selectProvider(ctx, assetType)
		if !ok {
			o.log.Warn().Str("asset_type", string(assetType)).Msg("no available provider this cycle, skipping")
			continue
		}
		assets, err := p.Assets(ctx, assetType)
		o.noteOutcome(ctx, identity, err)
		if err != nil || len(assets) == 0 {
			continue
		}
		if setErr := o.cache.SetAssets(ctx, assetType, assets, o.cfg.AssetListTTL); setErr != nil {
			o.log.Error().Err(setErr).Str("asset_type", string(assetType)).Msg("failed to cache asset list")
		}
	}
	if err := o.cache.SetLastUpdate(ctx, "asset_list_update", timeNow()); err != nil {
		o.log.Error().Err(err).Msg("failed to stamp last_update")
	}
}

func (o *Orchestrator) runQuoteFetch(ctx context.Context) {
	symbols, found, err := o.cache.GetActiveSymbols(ctx)
	if err != nil || !found || len(symbols) == 0 {
		symbols = o.cfg.DefaultSymbols
	}

	buckets := map[model.AssetType][]string{}
	for _, symbol := range symbols {
		bucket := model.BucketOf(symbol)
		buckets[bucket] = append(buckets[bucket], symbol)
	}

	merged := make(map[string]model.Quote)
	for assetType, bucketSymbols := range buckets {
		if len(bucketSymbols) == 0 {
			continue
		}
		p, identity, ok := o.selectProvider(ctx, assetType)
		if !ok {
			o.log.Warn().Str("asset_type", string(assetType)).Msg("no available provider this cycle, skipping bucket")
			continue
		}
		quotes, err := p.Quotes(ctx, bucketSymbols)
		o.noteOutcome(ctx, identity, err)
		for symbol, quote := range quotes {
			quote.AssetType = assetType
			merged[symbol] = quote
		}
	}

	if len(merged) > 0 {
		if err := o.cache.SetQuotes(ctx, merged, o.cfg.QuoteTTL); err != nil {
			o.log.Error().Err(err).Msg("failed to cache quotes")
		}
	}
	if err := o.cache.SetLastUpdate(ctx, "price_fetch", timeNow()); err != nil {
		o.log.Error().Err(err).Msg("failed to stamp last_update")
	}
}

func (o *Orchestrator) runNewsFetch(ctx context.Context) {
	finnhub, hasFinnhub := o.providers[model.ProviderFinnhub]
	yahoo, hasYahoo := o.providers[model.ProviderYFinance]

	if hasFinnhub && !o.cache.IsCircuitOpen(ctx, string(model.ProviderFinnhub)) {
		articles, err := finnhub.GeneralNews(ctx)
		o.noteOutcome(ctx, model.ProviderFinnhub, err)
		if err == nil && len(articles) > 0 {
			if setErr := o.cache.SetNews(ctx, "general", articles, o.cfg.NewsTTL); setErr != nil {
				o.log.Error().Err(setErr).Msg("failed to cache general news")
			}
		}
	}

	symbols, found, err := o.cache.GetActiveSymbols(ctx)
	if err != nil || !found {
		symbols = o.cfg.DefaultSymbols
	}
	for _, symbol := range symbols {
		if model.BucketOf(symbol) != model.AssetTypeStocks {
			continue
		}
		articles := o.companyNewsWithFallback(ctx, symbol, finnhub, hasFinnhub, yahoo, hasYahoo)
		if articles == nil {
			continue
		}
		if setErr := o.cache.SetNews(ctx, model.CanonicalSymbol(symbol), articles, o.cfg.NewsTTL); setErr != nil {
			o.log.Error().Err(setErr).Str("symbol", symbol).Msg("failed to cache company news")
		}
	}

	if err := o.cache.SetLastUpdate(ctx, "news_fetch", timeNow()); err != nil {
		o.log.Error().Err(err).Msg("failed to stamp last_update")
	}
}

// companyNewsWithFallback tries Finnhub, then falls back to Yahoo/Finance
// when Finnhub errors or comes back empty, per the documented news chain.
func (o *Orchestrator) companyNewsWithFallback(ctx context.Context, symbol string, finnhub providers.Provider, hasFinnhub bool, yahoo providers.Provider, hasYahoo bool) []model.NewsArticle {
	if hasFinnhub && !o.cache.IsCircuitOpen(ctx, string(model.ProviderFinnhub)) {
		articles, err := finnhub.CompanyNews(ctx, symbol)
		o.noteOutcome(ctx, model.ProviderFinnhub, err)
		if err == nil && len(articles) > 0 {
			return articles
		}
	}
	if hasYahoo && !o.cache.IsCircuitOpen(ctx, string(model.ProviderYFinance)) {
		articles, err := yahoo.CompanyNews(ctx, symbol)
		o.noteOutcome(ctx, model.ProviderYFinance, err)
		if err == nil {
			return articles
		}
	}
	return nil
}
