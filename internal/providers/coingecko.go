package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

// CoinGeckoProvider adapts CoinGecko's unauthenticated simple-price and
// coins-list endpoints. Primary provider for crypto.
type CoinGeckoProvider struct {
	*BaseClient
	baseURL string

	idMu       sync.RWMutex
	tickerToID map[string]string // e.g. "BTC" -> "bitcoin"
}

// defaultCryptoIDs seeds the ticker->id lookup table for the common tickers
// named in the bucketing rule; CoinGecko's own /coins/list refreshes it.
var defaultCryptoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"ADA":  "cardano",
	"DOT":  "polkadot",
	"XRP":  "ripple",
	"LTC":  "litecoin",
	"DOGE": "dogecoin",
}

func NewCoinGeckoProvider(log zerolog.Logger, rateLimitPerMinute int) *CoinGeckoProvider {
	ids := make(map[string]string, len(defaultCryptoIDs))
	for k, v := range defaultCryptoIDs {
		ids[k] = v
	}
	return &CoinGeckoProvider{
		BaseClient: NewBaseClient(string(model.ProviderCoinGecko), rateLimitPerMinute, log),
		baseURL:    "https://api.coingecko.com/api/v3",
		tickerToID: ids,
	}
}

func (p *CoinGeckoProvider) Identity() model.DataProvider { return model.ProviderCoinGecko }

func (p *CoinGeckoProvider) Supports(assetType model.AssetType) bool {
	return assetType == model.AssetTypeCrypto
}

func (p *CoinGeckoProvider) RateLimitPerMinute() int {
	return int(p.Limiter.Limit() * 60)
}

// tickerOf strips a `BTC-USD`-style canonical symbol down to its base ticker.
func tickerOf(symbol string) string {
	s := model.CanonicalSymbol(symbol)
	if idx := strings.Index(s, "-"); idx > 0 {
		return s[:idx]
	}
	return s
}

func (p *CoinGeckoProvider) idFor(ticker string) (string, bool) {
	p.idMu.RLock()
	defer p.idMu.RUnlock()
	id, ok := p.tickerToID[ticker]
	return id, ok
}

type coingeckoSimplePriceEntry struct {
	USD          float64 `json:"usd"`
	USD24hChange float64 `json:"usd_24h_change"`
	USD24hVol    float64 `json:"usd_24h_vol"`
	USDMarketCap float64 `json:"usd_market_cap"`
}

func (p *CoinGeckoProvider) Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(symbols))
	idToSymbol := make(map[string]string, len(symbols))
	ids := make([]string, 0, len(symbols))

	for _, symbol := range symbols {
		ticker := tickerOf(symbol)
		id, ok := p.idFor(ticker)
		if !ok {
			continue
		}
		ids = append(ids, id)
		idToSymbol[id] = model.CanonicalSymbol(symbol)
	}
	if len(ids) == 0 {
		return out, nil
	}

	q := url.Values{
		"ids":                   {strings.Join(ids, ",")},
		"vs_currencies":         {"usd"},
		"include_24hr_change":   {"true"},
		"include_24hr_vol":      {"true"},
		"include_market_cap":    {"true"},
	}
	reqURL := p.baseURL + "/simple/price?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return out, &ProviderError{Provider: p.Name, Cause: err}
	}
	body, status, err := p.DoOp(ctx, req, "quotes")
	if err != nil {
		if _, ok := err.(*RateLimitError); ok {
			return out, err
		}
		return out, &ProviderError{Provider: p.Name, Cause: err}
	}
	if status == http.StatusNotFound {
		return out, nil
	}

	var parsed map[string]coingeckoSimplePriceEntry
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.Log.Warn().Err(err).Msg("coingecko decode failed")
		return out, nil
	}

	for id, entry := range parsed {
		symbol, ok := idToSymbol[id]
		if !ok || entry.USD <= 0 {
			continue
		}
		q := model.NewQuote(symbol, entry.USD, p.Identity(), timeNow())
		q.Currency = "USD"
		q = q.WithPercentChange(entry.USD24hChange)
		if entry.USD24hVol > 0 {
			q.Volume = &entry.USD24hVol
		}
		if entry.USDMarketCap > 0 {
			q.MarketCap = &entry.USDMarketCap
		}
		out[symbol] = q
	}
	return out, nil
}

type coingeckoListEntry struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

func (p *CoinGeckoProvider) Assets(ctx context.Context, assetType model.AssetType) ([]model.Asset, error) {
	if assetType != model.AssetTypeCrypto {
		return nil, nil
	}
	reqURL := p.baseURL + "/coins/list"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name, Cause: err}
	}
	body, status, err := p.DoOp(ctx, req, "assets")
	if err != nil {
		return nil, &ProviderError{Provider: p.Name, Cause: err}
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	var entries []coingeckoListEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, nil
	}

	assets := make([]model.Asset, 0, len(entries))
	fresh := make(map[string]string, len(entries))
	for _, e := range entries {
		ticker := strings.ToUpper(e.Symbol)
		if ticker == "" {
			continue
		}
		fresh[ticker] = e.ID
		assets = append(assets, model.NewAsset(ticker, e.Name, model.AssetTypeCrypto))
	}

	p.idMu.Lock()
	for k, v := range fresh {
		p.tickerToID[k] = v
	}
	p.idMu.Unlock()

	return assets, nil
}

func (p *CoinGeckoProvider) GeneralNews(ctx context.Context) ([]model.NewsArticle, error) {
	return nil, nil
}

func (p *CoinGeckoProvider) CompanyNews(ctx context.Context, symbol string) ([]model.NewsArticle, error) {
	return nil, nil
}

func (p *CoinGeckoProvider) HealthProbe(ctx context.Context) bool {
	return p.Probe(ctx, p.baseURL+"/simple/price?ids=bitcoin&vs_currencies=usd")
}
