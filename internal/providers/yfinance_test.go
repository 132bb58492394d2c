package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYFinanceProvider_Quotes_GoldenResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/AAPL", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"chart": {
				"result": [{
					"meta": {
						"symbol": "AAPL",
						"regularMarketPrice": 191.25,
						"previousClose": 189.50,
						"currency": "USD"
					}
				}]
			}
		}`))
	}))
	defer server.Close()

	p := &YFinanceProvider{
		BaseClient: NewBaseClient("yfinance", 60, zerolog.Nop()),
		baseURL:    server.URL,
	}

	quotes, err := p.Quotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	require.Contains(t, quotes, "AAPL")

	q := quotes["AAPL"]
	assert.Equal(t, 191.25, q.Price)
	assert.Equal(t, "USD", q.Currency)
	require.NotNil(t, q.Change)
	assert.InDelta(t, 1.75, *q.Change, 0.001)
}

func TestYFinanceProvider_Quotes_NotFoundSkipsSymbol(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := &YFinanceProvider{
		BaseClient: NewBaseClient("yfinance", 60, zerolog.Nop()),
		baseURL:    server.URL,
	}

	quotes, err := p.Quotes(context.Background(), []string{"ZZZZ"})
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestYFinanceProvider_CompanyNews_GoldenResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "MSFT", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"news": [
				{
					"title": "Microsoft beats earnings",
					"link": "https://example.com/msft-earnings",
					"publisher": "Yahoo Finance",
					"providerPublishTime": 1700000000
				},
				{
					"title": "",
					"link": "https://example.com/no-title",
					"publisher": "Yahoo Finance",
					"providerPublishTime": 1700000001
				}
			]
		}`))
	}))
	defer server.Close()

	p := &YFinanceProvider{
		BaseClient: NewBaseClient("yfinance", 60, zerolog.Nop()),
		searchURL:  server.URL,
	}

	articles, err := p.CompanyNews(context.Background(), "MSFT")
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Microsoft beats earnings", articles[0].Title)
	assert.Equal(t, "https://example.com/msft-earnings", articles[0].URL)
	assert.Contains(t, articles[0].Symbols, "MSFT")
}

func TestYFinanceProvider_CompanyNews_NotFoundReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := &YFinanceProvider{
		BaseClient: NewBaseClient("yfinance", 60, zerolog.Nop()),
		searchURL:  server.URL,
	}

	articles, err := p.CompanyNews(context.Background(), "ZZZZ")
	require.NoError(t, err)
	assert.Empty(t, articles)
}

func TestYFinanceProvider_NormalizeDenormalizeSymbol(t *testing.T) {
	p := &YFinanceProvider{BaseClient: NewBaseClient("yfinance", 60, zerolog.Nop())}

	assert.Equal(t, "EURUSD=X", p.normalizeSymbol("EUR/USD"))
	assert.Equal(t, "EUR/USD", p.denormalizeSymbol("EURUSD=X"))
	assert.Equal(t, "AAPL", p.normalizeSymbol("AAPL"))
}
