package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

// CoinMarketCapProvider adapts CoinMarketCap's quotes and listings
// endpoints. Fallback provider for crypto.
type CoinMarketCapProvider struct {
	*BaseClient
	baseURL string
	apiKey  string
}

func NewCoinMarketCapProvider(log zerolog.Logger, rateLimitPerMinute int, apiKey string) *CoinMarketCapProvider {
	return &CoinMarketCapProvider{
		BaseClient: NewBaseClient(string(model.ProviderCoinMarketCap), rateLimitPerMinute, log),
		baseURL:    "https://pro-api.coinmarketcap.com/v1",
		apiKey:     apiKey,
	}
}

func (p *CoinMarketCapProvider) Identity() model.DataProvider { return model.ProviderCoinMarketCap }

func (p *CoinMarketCapProvider) Supports(assetType model.AssetType) bool {
	return assetType == model.AssetTypeCrypto
}

func (p *CoinMarketCapProvider) RateLimitPerMinute() int {
	return int(p.Limiter.Limit() * 60)
}

func (p *CoinMarketCapProvider) get(ctx context.Context, path string, q url.Values, operation string) ([]byte, int, error) {
	reqURL := p.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, &ProviderError{Provider: p.Name, Cause: err}
	}
	req.Header.Set("X-CMC_PRO_API_KEY", p.apiKey)
	return p.DoOp(ctx, req, operation)
}

type cmcQuoteResponse struct {
	Data map[string]struct {
		Quote map[string]struct {
			Price            float64 `json:"price"`
			Volume24h        float64 `json:"volume_24h"`
			PercentChange24h float64 `json:"percent_change_24h"`
			MarketCap        float64 `json:"market_cap"`
		} `json:"quote"`
	} `json:"data"`
}

func (p *CoinMarketCapProvider) Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(symbols))
	tickers := make([]string, 0, len(symbols))
	tickerToSymbol := make(map[string]string, len(symbols))
	for _, s := range symbols {
		ticker := tickerOf(s)
		tickers = append(tickers, ticker)
		tickerToSymbol[ticker] = model.CanonicalSymbol(s)
	}
	if len(tickers) == 0 {
		return out, nil
	}

	q := url.Values{"symbol": {strings.Join(tickers, ",")}, "convert": {"USD"}}
	body, status, err := p.get(ctx, "/cryptocurrency/quotes/latest", q, "quotes")
	if err != nil {
		switch err.(type) {
		case *AuthenticationError, *RateLimitError:
			return out, err
		default:
			return out, &ProviderError{Provider: p.Name, Cause: err}
		}
	}
	if status == http.StatusNotFound {
		return out, nil
	}

	var parsed cmcQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.Log.Warn().Err(err).Msg("coinmarketcap decode failed")
		return out, nil
	}

	for ticker, entry := range parsed.Data {
		usd, ok := entry.Quote["USD"]
		if !ok || usd.Price <= 0 {
			continue
		}
		symbol, ok := tickerToSymbol[model.CanonicalSymbol(ticker)]
		if !ok {
			continue
		}
		quote := model.NewQuote(symbol, usd.Price, p.Identity(), timeNow())
		quote.Currency = "USD"
		quote = quote.WithPercentChange(usd.PercentChange24h)
		if usd.Volume24h > 0 {
			quote.Volume = &usd.Volume24h
		}
		if usd.MarketCap > 0 {
			quote.MarketCap = &usd.MarketCap
		}
		out[symbol] = quote
	}
	return out, nil
}

type cmcListingEntry struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

type cmcListingsResponse struct {
	Data []cmcListingEntry `json:"data"`
}

func (p *CoinMarketCapProvider) Assets(ctx context.Context, assetType model.AssetType) ([]model.Asset, error) {
	if assetType != model.AssetTypeCrypto {
		return nil, nil
	}
	body, status, err := p.get(ctx, "/cryptocurrency/listings/latest", url.Values{}, "assets")
	if err != nil {
		return nil, &ProviderError{Provider: p.Name, Cause: err}
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	var parsed cmcListingsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil
	}
	assets := make([]model.Asset, 0, len(parsed.Data))
	for _, e := range parsed.Data {
		if e.Symbol == "" {
			continue
		}
		assets = append(assets, model.NewAsset(e.Symbol, e.Name, model.AssetTypeCrypto))
	}
	return assets, nil
}

func (p *CoinMarketCapProvider) GeneralNews(ctx context.Context) ([]model.NewsArticle, error) {
	return nil, nil
}

func (p *CoinMarketCapProvider) CompanyNews(ctx context.Context, symbol string) ([]model.NewsArticle, error) {
	return nil, nil
}

func (p *CoinMarketCapProvider) HealthProbe(ctx context.Context) bool {
	q := url.Values{"symbol": {"BTC"}, "convert": {"USD"}}
	reqURL := p.baseURL + "/cryptocurrency/quotes/latest?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("X-CMC_PRO_API_KEY", p.apiKey)
	_, status, err := p.DoOp(ctx, req, "health")
	return err == nil && status > 0 && status < 500
}

