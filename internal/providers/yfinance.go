package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

// YFinanceProvider adapts Yahoo/Finance's per-ticker quote endpoint. It is
// the primary provider for stocks and the fallback for forex.
type YFinanceProvider struct {
	*BaseClient
	baseURL   string
	searchURL string
}

func NewYFinanceProvider(log zerolog.Logger, rateLimitPerMinute int) *YFinanceProvider {
	return &YFinanceProvider{
		BaseClient: NewBaseClient(string(model.ProviderYFinance), rateLimitPerMinute, log),
		baseURL:    "https://query1.finance.yahoo.com/v8/finance/chart",
		searchURL:  "https://query1.finance.yahoo.com/v1/finance/search",
	}
}

func (p *YFinanceProvider) Identity() model.DataProvider { return model.ProviderYFinance }

func (p *YFinanceProvider) Supports(assetType model.AssetType) bool {
	return assetType == model.AssetTypeStocks || assetType == model.AssetTypeForex
}

func (p *YFinanceProvider) RateLimitPerMinute() int {
	return int(p.Limiter.Limit() * 60)
}

// normalizeSymbol translates a canonical symbol into Yahoo's ticker form:
// forex `EUR/USD` becomes `EURUSD=X`; everything else passes through.
func (p *YFinanceProvider) normalizeSymbol(symbol string) string {
	s := model.CanonicalSymbol(symbol)
	if strings.Contains(s, "/") {
		pair := strings.ReplaceAll(s, "/", "")
		return pair + "=X"
	}
	return s
}

// denormalizeSymbol reverses normalizeSymbol for a Yahoo ticker.
func (p *YFinanceProvider) denormalizeSymbol(ticker string) string {
	if strings.HasSuffix(ticker, "=X") {
		base := strings.TrimSuffix(ticker, "=X")
		if len(base) == 6 {
			return base[:3] + "/" + base[3:]
		}
	}
	return ticker
}

type yfinanceChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"previousClose"`
				Currency           string  `json:"currency"`
			} `json:"meta"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"chart"`
}

func (p *YFinanceProvider) Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(symbols))
	for _, symbol := range symbols {
		ticker := p.normalizeSymbol(symbol)
		reqURL := fmt.Sprintf("%s/%s", p.baseURL, url.PathEscape(ticker))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return out, &ProviderError{Provider: p.Name, Cause: err}
		}

		body, status, err := p.DoOp(ctx, req, "quotes")
		if err != nil {
			if _, ok := err.(*AuthenticationError); ok {
				return out, err
			}
			if _, ok := err.(*RateLimitError); ok {
				return out, err
			}
			p.Log.Warn().Err(err).Str("symbol", symbol).Msg("yfinance quote failed")
			return out, &ProviderError{Provider: p.Name, Cause: err}
		}
		if status == http.StatusNotFound {
			continue
		}

		var parsed yfinanceChartResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			p.Log.Warn().Err(err).Str("symbol", symbol).Msg("yfinance decode failed, dropping")
			continue
		}
		if len(parsed.Chart.Result) == 0 {
			continue
		}
		meta := parsed.Chart.Result[0].Meta
		if meta.RegularMarketPrice <= 0 {
			continue
		}

		canonical := model.CanonicalSymbol(symbol)
		q := model.NewQuote(canonical, meta.RegularMarketPrice, p.Identity(), timeNow())
		q.Currency = meta.Currency
		if meta.PreviousClose > 0 {
			change := meta.RegularMarketPrice - meta.PreviousClose
			q.Change = &change
			pct := (change / meta.PreviousClose) * 100
			q = q.WithPercentChange(pct)
		}
		out[canonical] = q
	}
	return out, nil
}

func (p *YFinanceProvider) Assets(ctx context.Context, assetType model.AssetType) ([]model.Asset, error) {
	// Yahoo/Finance has no bulk listing endpoint in this contract, so this
	// adapter returns no assets for any class.
	return nil, nil
}

func (p *YFinanceProvider) GeneralNews(ctx context.Context) ([]model.NewsArticle, error) {
	// Yahoo/Finance has no symbol-less news feed in this contract; general
	// news is Finnhub's responsibility, with this adapter only backing
	// per-symbol company news as the Loop 3 fallback.
	return nil, nil
}

type yfinanceSearchResponse struct {
	News []struct {
		Title               string `json:"title"`
		Link                string `json:"link"`
		Publisher           string `json:"publisher"`
		ProviderPublishTime int64  `json:"providerPublishTime"`
	} `json:"news"`
}

// CompanyNews fetches per-symbol news from Yahoo/Finance's search endpoint,
// the same one the upstream client library uses under `Ticker.news`. Acts
// as the Loop 3 fallback behind Finnhub.
func (p *YFinanceProvider) CompanyNews(ctx context.Context, symbol string) ([]model.NewsArticle, error) {
	canonical := model.CanonicalSymbol(symbol)
	ticker := p.normalizeSymbol(canonical)
	reqURL := fmt.Sprintf("%s?q=%s", p.searchURL, url.QueryEscape(ticker))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name, Cause: err}
	}
	body, status, err := p.DoOp(ctx, req, "news")
	if err != nil {
		p.Log.Warn().Err(err).Str("symbol", symbol).Msg("yfinance news fetch failed")
		return nil, nil
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	var parsed yfinanceSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.Log.Warn().Err(err).Str("symbol", symbol).Msg("yfinance news decode failed")
		return nil, nil
	}

	articles := make([]model.NewsArticle, 0, len(parsed.News))
	for _, item := range parsed.News {
		if len(articles) >= 20 {
			break
		}
		publishedAt := timeNow()
		if item.ProviderPublishTime > 0 {
			publishedAt = time.Unix(item.ProviderPublishTime, 0).UTC()
		}
		a := model.NewsArticle{
			Title:       strings.TrimSpace(item.Title),
			URL:         strings.TrimSpace(item.Link),
			Source:      p.Identity(),
			PublishedAt: publishedAt,
			Symbols:     []string{canonical},
			Category:    "company",
		}
		if !a.Valid() {
			continue
		}
		articles = append(articles, a)
	}
	return articles, nil
}

func (p *YFinanceProvider) HealthProbe(ctx context.Context) bool {
	reqURL := fmt.Sprintf("%s/AAPL", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false
	}
	return p.Probe(ctx, req.URL.String())
}
