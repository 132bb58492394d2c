package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

// FinnhubProvider adapts Finnhub's quote, symbol-listing, and news
// endpoints. It is the fallback for stocks and the primary source for news.
type FinnhubProvider struct {
	*BaseClient
	baseURL string
	apiKey  string
}

func NewFinnhubProvider(log zerolog.Logger, rateLimitPerMinute int, apiKey string) *FinnhubProvider {
	return &FinnhubProvider{
		BaseClient: NewBaseClient(string(model.ProviderFinnhub), rateLimitPerMinute, log),
		baseURL:    "https://finnhub.io/api/v1",
		apiKey:     apiKey,
	}
}

func (p *FinnhubProvider) Identity() model.DataProvider { return model.ProviderFinnhub }

func (p *FinnhubProvider) Supports(assetType model.AssetType) bool {
	return assetType == model.AssetTypeStocks
}

func (p *FinnhubProvider) RateLimitPerMinute() int {
	return int(p.Limiter.Limit() * 60)
}

func (p *FinnhubProvider) withToken(path string, q url.Values) string {
	q.Set("token", p.apiKey)
	return fmt.Sprintf("%s%s?%s", p.baseURL, path, q.Encode())
}

type finnhubQuoteResponse struct {
	C  float64 `json:"c"`  // current price
	D  float64 `json:"d"`  // change
	DP float64 `json:"dp"` // percent change
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	O  float64 `json:"o"`
	PC float64 `json:"pc"`
}

func (p *FinnhubProvider) get(ctx context.Context, reqURL, operation string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, &ProviderError{Provider: p.Name, Cause: err}
	}
	return p.DoOp(ctx, req, operation)
}

func (p *FinnhubProvider) Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(symbols))
	for _, symbol := range symbols {
		canonical := model.CanonicalSymbol(symbol)
		q := url.Values{"symbol": {canonical}}
		body, status, err := p.get(ctx, p.withToken("/quote", q), "quotes")
		if err != nil {
			switch err.(type) {
			case *AuthenticationError, *RateLimitError:
				return out, err
			default:
				return out, &ProviderError{Provider: p.Name, Cause: err}
			}
		}
		if status == http.StatusNotFound {
			continue
		}

		var parsed finnhubQuoteResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			p.Log.Warn().Err(err).Str("symbol", symbol).Msg("finnhub decode failed, dropping")
			continue
		}
		if parsed.C <= 0 {
			continue
		}

		quote := model.NewQuote(canonical, parsed.C, p.Identity(), timeNow())
		change := parsed.D
		quote.Change = &change
		quote = quote.WithPercentChange(parsed.DP)
		if parsed.H > 0 {
			quote.High24h = &parsed.H
		}
		if parsed.L > 0 {
			quote.Low24h = &parsed.L
		}
		if parsed.O > 0 {
			quote.Open = &parsed.O
		}
		out[canonical] = quote
	}
	return out, nil
}

type finnhubSymbolEntry struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
}

func (p *FinnhubProvider) Assets(ctx context.Context, assetType model.AssetType) ([]model.Asset, error) {
	if assetType != model.AssetTypeStocks {
		return nil, nil
	}
	q := url.Values{"exchange": {"US"}}
	body, status, err := p.get(ctx, p.withToken("/stock/symbol", q), "assets")
	if err != nil {
		return nil, &ProviderError{Provider: p.Name, Cause: err}
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	var entries []finnhubSymbolEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, nil
	}
	assets := make([]model.Asset, 0, len(entries))
	for _, e := range entries {
		if e.Symbol == "" {
			continue
		}
		assets = append(assets, model.NewAsset(e.Symbol, e.Description, model.AssetTypeStocks))
	}
	return assets, nil
}

type finnhubNewsItem struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
	Datetime int64  `json:"datetime"`
	Category string `json:"category"`
	Related  string `json:"related"`
}

func (p *FinnhubProvider) GeneralNews(ctx context.Context) ([]model.NewsArticle, error) {
	q := url.Values{"category": {"general"}}
	body, status, err := p.get(ctx, p.withToken("/news", q), "news")
	if err != nil {
		return nil, &ProviderError{Provider: p.Name, Cause: err}
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return parseFinnhubNews(body)
}

func (p *FinnhubProvider) CompanyNews(ctx context.Context, symbol string) ([]model.NewsArticle, error) {
	to := timeNow()
	from := to.AddDate(0, 0, -7)
	q := url.Values{
		"symbol": {model.CanonicalSymbol(symbol)},
		"from":   {from.Format("2006-01-02")},
		"to":     {to.Format("2006-01-02")},
	}
	body, status, err := p.get(ctx, p.withToken("/company-news", q), "news")
	if err != nil {
		return nil, &ProviderError{Provider: p.Name, Cause: err}
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return parseFinnhubNews(body)
}

func parseFinnhubNews(body []byte) ([]model.NewsArticle, error) {
	var items []finnhubNewsItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, nil
	}
	articles := make([]model.NewsArticle, 0, len(items))
	for _, item := range items {
		a := model.NewsArticle{
			Title:       item.Headline,
			Summary:     item.Summary,
			URL:         item.URL,
			Source:      model.ProviderFinnhub,
			PublishedAt: time.Unix(item.Datetime, 0).UTC(),
			Category:    item.Category,
		}
		if item.Related != "" {
			a.Symbols = []string{model.CanonicalSymbol(item.Related)}
		}
		if a.Valid() {
			articles = append(articles, a)
		}
	}
	return articles, nil
}

func (p *FinnhubProvider) HealthProbe(ctx context.Context) bool {
	q := url.Values{"symbol": {"AAPL"}}
	return p.Probe(ctx, p.withToken("/quote", q))
}
