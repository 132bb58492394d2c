package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

// AlphaVantageProvider adapts Alpha Vantage's currency-exchange-rate and
// global-quote functions. Primary provider for forex.
type AlphaVantageProvider struct {
	*BaseClient
	baseURL string
	apiKey  string
}

func NewAlphaVantageProvider(log zerolog.Logger, rateLimitPerMinute int, apiKey string) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		BaseClient: NewBaseClient(string(model.ProviderAlphaVantage), rateLimitPerMinute, log),
		baseURL:    "https://www.alphavantage.co/query",
		apiKey:     apiKey,
	}
}

func (p *AlphaVantageProvider) Identity() model.DataProvider { return model.ProviderAlphaVantage }

func (p *AlphaVantageProvider) Supports(assetType model.AssetType) bool {
	return assetType == model.AssetTypeForex
}

func (p *AlphaVantageProvider) RateLimitPerMinute() int {
	return int(p.Limiter.Limit() * 60)
}

func (p *AlphaVantageProvider) get(ctx context.Context, q url.Values) ([]byte, int, error) {
	q.Set("apikey", p.apiKey)
	reqURL := p.baseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, &ProviderError{Provider: p.Name, Cause: err}
	}
	return p.DoOp(ctx, req, "quotes")
}

type alphaVantageFXResponse struct {
	RealtimeRate struct {
		FromCurrency string `json:"1. From_Currency Code"`
		ToCurrency   string `json:"3. To_Currency Code"`
		ExchangeRate string `json:"5. Exchange Rate"`
	} `json:"Realtime Currency Exchange Rate"`
}

func (p *AlphaVantageProvider) Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(symbols))
	for _, symbol := range symbols {
		canonical := model.CanonicalSymbol(symbol)
		base, quote, ok := splitForexPair(canonical)
		if !ok {
			continue
		}

		q := url.Values{
			"function":      {"CURRENCY_EXCHANGE_RATE"},
			"from_currency": {base},
			"to_currency":   {quote},
		}
		body, status, err := p.get(ctx, q)
		if err != nil {
			if _, ok := err.(*RateLimitError); ok {
				return out, err
			}
			return out, &ProviderError{Provider: p.Name, Cause: err}
		}
		if status == http.StatusNotFound {
			continue
		}

		var parsed alphaVantageFXResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			p.Log.Warn().Err(err).Str("symbol", symbol).Msg("alphavantage decode failed, dropping")
			continue
		}
		rate, err := strconv.ParseFloat(parsed.RealtimeRate.ExchangeRate, 64)
		if err != nil || rate <= 0 {
			continue
		}

		q2 := model.NewQuote(canonical, rate, p.Identity(), timeNow())
		q2.Currency = quote
		out[canonical] = q2
	}
	return out, nil
}

// splitForexPair parses canonical `BASE/QUOTE` form.
func splitForexPair(symbol string) (base, quote string, ok bool) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (p *AlphaVantageProvider) Assets(ctx context.Context, assetType model.AssetType) ([]model.Asset, error) {
	// Alpha Vantage has no forex listing endpoint in this contract, so this
	// adapter returns no assets for any class.
	return nil, nil
}

func (p *AlphaVantageProvider) GeneralNews(ctx context.Context) ([]model.NewsArticle, error) {
	return nil, nil
}

func (p *AlphaVantageProvider) CompanyNews(ctx context.Context, symbol string) ([]model.NewsArticle, error) {
	return nil, nil
}

func (p *AlphaVantageProvider) HealthProbe(ctx context.Context) bool {
	q := url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {"AAPL"},
		"apikey":   {p.apiKey},
	}
	return p.Probe(ctx, p.baseURL+"?"+q.Encode())
}
