package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-aggregator/internal/model"
	"github.com/sawpanic/marketdata-aggregator/internal/providers"
)

// fakeCache is an in-memory stand-in for internal/cache.Facade that
// satisfies CacheStore, letting the orchestrator's routing logic be tested
// without a Redis dependency.
type fakeCache struct {
	mu             sync.Mutex
	activeSymbols  []string
	haveSymbols    bool
	assets         map[model.AssetType][]model.Asset
	quotes         map[string]model.Quote
	news           map[string][]model.NewsArticle
	openCircuits   map[string]bool
	tripCount      map[string]int
	lastUpdate     map[string]time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		assets:       map[model.AssetType][]model.Asset{},
		quotes:       map[string]model.Quote{},
		news:         map[string][]model.NewsArticle{},
		openCircuits: map[string]bool{},
		tripCount:    map[string]int{},
		lastUpdate:   map[string]time.Time{},
	}
}

func (f *fakeCache) GetActiveSymbols(ctx context.Context) ([]string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeSymbols, f.haveSymbols, nil
}

func (f *fakeCache) SetActiveSymbols(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeSymbols = symbols
	f.haveSymbols = true
	return nil
}

func (f *fakeCache) SetAssets(ctx context.Context, assetType model.AssetType, assets []model.Asset, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[assetType] = assets
	return nil
}

func (f *fakeCache) SetQuotes(ctx context.Context, quotes map[string]model.Quote, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range quotes {
		f.quotes[k] = v
	}
	return nil
}

func (f *fakeCache) SetNews(ctx context.Context, key string, articles []model.NewsArticle, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.news[key] = articles
	return nil
}

func (f *fakeCache) IsCircuitOpen(ctx context.Context, provider string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCircuits[provider]
}

func (f *fakeCache) TripCircuit(ctx context.Context, provider string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCircuits[provider] = true
	f.tripCount[provider]++
	return nil
}

func (f *fakeCache) SetLastUpdate(ctx context.Context, task string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdate[task] = ts
	return nil
}

// fakeProvider is a scriptable provider.Provider for exercising routing.
type fakeProvider struct {
	identity     model.DataProvider
	supports     map[model.AssetType]bool
	quotesFn     func(ctx context.Context, symbols []string) (map[string]model.Quote, error)
	generalNews  func(ctx context.Context) ([]model.NewsArticle, error)
	companyNews  func(ctx context.Context, symbol string) ([]model.NewsArticle, error)
	assetsFn     func(ctx context.Context, assetType model.AssetType) ([]model.Asset, error)
	calls        int
}

func (p *fakeProvider) Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	p.calls++
	if p.quotesFn != nil {
		return p.quotesFn(ctx, symbols)
	}
	return map[string]model.Quote{}, nil
}
func (p *fakeProvider) Assets(ctx context.Context, assetType model.AssetType) ([]model.Asset, error) {
	if p.assetsFn != nil {
		return p.assetsFn(ctx, assetType)
	}
	return nil, nil
}
func (p *fakeProvider) GeneralNews(ctx context.Context) ([]model.NewsArticle, error) {
	if p.generalNews != nil {
		return p.generalNews(ctx)
	}
	return nil, nil
}
func (p *fakeProvider) CompanyNews(ctx context.Context, symbol string) ([]model.NewsArticle, error) {
	if p.companyNews != nil {
		return p.companyNews(ctx, symbol)
	}
	return nil, nil
}
func (p *fakeProvider) HealthProbe(ctx context.Context) bool { return true }
func (p *fakeProvider) RateLimitPerMinute() int               { return 60 }
func (p *fakeProvider) Supports(assetType model.AssetType) bool {
	return p.supports[assetType]
}
func (p *fakeProvider) Identity() model.DataProvider { return p.identity }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultSymbols = []string{"AAPL", "BTC-USD"}
	return cfg
}

func TestOrchestrator_QuoteFetch_HappyPath(t *testing.T) {
	yfinance := &fakeProvider{
		identity: model.ProviderYFinance,
		supports: map[model.AssetType]bool{model.AssetTypeStocks: true},
		quotesFn: func(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
			return map[string]model.Quote{"AAPL": model.NewQuote("AAPL", 190, model.ProviderYFinance, time.Now())}, nil
		},
	}
	coingecko := &fakeProvider{
		identity: model.ProviderCoinGecko,
		supports: map[model.AssetType]bool{model.AssetTypeCrypto: true},
		quotesFn: func(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
			return map[string]model.Quote{"BTC-USD": model.NewQuote("BTC-USD", 60000, model.ProviderCoinGecko, time.Now())}, nil
		},
	}

	cache := newFakeCache()
	reg := map[model.DataProvider]providers.Provider{
		model.ProviderYFinance:  yfinance,
		model.ProviderCoinGecko: coingecko,
	}
	o := New(cache, reg, testConfig(), zerolog.Nop())

	o.runQuoteFetch(context.Background())

	if _, ok := cache.quotes["AAPL"]; !ok {
		t.Error("expected AAPL quote cached")
	}
	if _, ok := cache.quotes["BTC-USD"]; !ok {
		t.Error("expected BTC-USD quote cached")
	}
	if cache.quotes["AAPL"].Source != model.ProviderYFinance {
		t.Errorf("expected AAPL from yfinance, got %s", cache.quotes["AAPL"].Source)
	}
}

func TestOrchestrator_PrimaryFails_FallbackServes(t *testing.T) {
	yfinance := &fakeProvider{
		identity: model.ProviderYFinance,
		supports: map[model.AssetType]bool{model.AssetTypeStocks: true},
		quotesFn: func(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
			return nil, &providers.ProviderError{Provider: "yfinance", Cause: context.DeadlineExceeded}
		},
	}
	finnhub := &fakeProvider{
		identity: model.ProviderFinnhub,
		supports: map[model.AssetType]bool{model.AssetTypeStocks: true},
		quotesFn: func(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
			return map[string]model.Quote{"AAPL": model.NewQuote("AAPL", 191, model.ProviderFinnhub, time.Now())}, nil
		},
	}

	cache := newFakeCache()
	reg := map[model.DataProvider]providers.Provider{
		model.ProviderYFinance: yfinance,
		model.ProviderFinnhub:  finnhub,
	}
	cfg := testConfig()
	cfg.DefaultSymbols = []string{"AAPL"}
	o := New(cache, reg, cfg, zerolog.Nop())

	// First iteration: primary fails and trips its own circuit.
	o.runQuoteFetch(context.Background())
	if !cache.openCircuits["yfinance"] {
		t.Fatal("expected yfinance circuit tripped after ProviderError")
	}
	if _, ok := cache.quotes["AAPL"]; ok {
		t.Fatal("expected no quote cached on the failing iteration")
	}

	// Second iteration: yfinance's circuit is now open, so finnhub serves.
	o.runQuoteFetch(context.Background())
	got, ok := cache.quotes["AAPL"]
	if !ok {
		t.Fatal("expected AAPL quote cached from fallback")
	}
	if got.Source != model.ProviderFinnhub {
		t.Errorf("expected fallback source finnhub, got %s", got.Source)
	}
}

func TestOrchestrator_BothProvidersDown_SkipsWithoutStaleWrite(t *testing.T) {
	cache := newFakeCache()
	cache.openCircuits["yfinance"] = true
	cache.openCircuits["finnhub"] = true
	cache.quotes["AAPL"] = model.NewQuote("AAPL", 100, model.ProviderYFinance, time.Now())

	reg := map[model.DataProvider]providers.Provider{
		model.ProviderYFinance: &fakeProvider{identity: model.ProviderYFinance, supports: map[model.AssetType]bool{model.AssetTypeStocks: true}},
		model.ProviderFinnhub:  &fakeProvider{identity: model.ProviderFinnhub, supports: map[model.AssetType]bool{model.AssetTypeStocks: true}},
	}
	cfg := testConfig()
	cfg.DefaultSymbols = []string{"AAPL"}
	o := New(cache, reg, cfg, zerolog.Nop())

	o.runQuoteFetch(context.Background())

	if cache.quotes["AAPL"].Price != 100 {
		t.Error("expected previously cached quote left untouched when both providers are down")
	}
}

func TestOrchestrator_CircuitSelfHeals(t *testing.T) {
	cache := newFakeCache()
	cache.openCircuits["yfinance"] = true

	calls := 0
	yfinance := &fakeProvider{
		identity: model.ProviderYFinance,
		supports: map[model.AssetType]bool{model.AssetTypeStocks: true},
		quotesFn: func(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
			calls++
			return map[string]model.Quote{"AAPL": model.NewQuote("AAPL", 200, model.ProviderYFinance, time.Now())}, nil
		},
	}
	reg := map[model.DataProvider]providers.Provider{model.ProviderYFinance: yfinance}
	cfg := testConfig()
	cfg.DefaultSymbols = []string{"AAPL"}
	o := New(cache, reg, cfg, zerolog.Nop())

	o.runQuoteFetch(context.Background())
	if calls != 0 {
		t.Fatal("expected no call while circuit observed open")
	}

	// Simulate the cache's own stale-open sweep: the breaker closes itself.
	cache.openCircuits["yfinance"] = false
	o.runQuoteFetch(context.Background())
	if calls != 1 {
		t.Fatalf("expected exactly one call once the circuit self-heals, got %d", calls)
	}
}

func TestOrchestrator_NewsFallbackChain(t *testing.T) {
	finnhub := &fakeProvider{
		identity: model.ProviderFinnhub,
		companyNews: func(ctx context.Context, symbol string) ([]model.NewsArticle, error) {
			return []model.NewsArticle{}, nil
		},
	}
	yahooArticles := []model.NewsArticle{{Title: "MSFT earnings beat", URL: "https://example.com/msft", Source: model.ProviderYFinance}}
	yahoo := &fakeProvider{
		identity: model.ProviderYFinance,
		companyNews: func(ctx context.Context, symbol string) ([]model.NewsArticle, error) {
			return yahooArticles, nil
		},
	}

	cache := newFakeCache()
	cache.activeSymbols = []string{"MSFT"}
	cache.haveSymbols = true
	reg := map[model.DataProvider]providers.Provider{
		model.ProviderFinnhub:  finnhub,
		model.ProviderYFinance: yahoo,
	}
	o := New(cache, reg, testConfig(), zerolog.Nop())

	o.runNewsFetch(context.Background())

	got, ok := cache.news["MSFT"]
	if !ok {
		t.Fatal("expected MSFT news cached")
	}
	if len(got) != 1 || got[0].Title != "MSFT earnings beat" {
		t.Errorf("expected Yahoo's article on Finnhub empty result, got %+v", got)
	}
}

func TestOrchestrator_SymbolBucketing(t *testing.T) {
	cases := map[string]model.AssetType{
		"AAPL":    model.AssetTypeStocks,
		"BTC-USD": model.AssetTypeCrypto,
		"EUR/USD": model.AssetTypeForex,
		"USDJPY=X": model.AssetTypeForex,
	}
	for symbol, want := range cases {
		if got := model.BucketOf(symbol); got != want {
			t.Errorf("BucketOf(%q) = %s, want %s", symbol, got, want)
		}
	}
}
