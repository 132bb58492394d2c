// Package model defines the shared data shapes the aggregator reads from and
// writes to the cache: assets, quotes, news articles, and circuit breaker
// state. Construction here enforces the invariants the rest of the system
// relies on (symbol case, price rounding) so callers never have to re-check
// them.
package model

import (
	"math"
	"strings"
	"time"
)

// AssetType is one of the three asset classes the aggregator routes traffic for.
type AssetType string

const (
	AssetTypeStocks AssetType = "stocks"
	AssetTypeCrypto AssetType = "crypto"
	AssetTypeForex  AssetType = "forex"
)

// DataProvider identifies the upstream that produced a piece of data.
type DataProvider string

const (
	ProviderYFinance      DataProvider = "yfinance"
	ProviderFinnhub       DataProvider = "finnhub"
	ProviderCoinGecko     DataProvider = "coingecko"
	ProviderCoinMarketCap DataProvider = "coinmarketcap"
	ProviderAlphaVantage  DataProvider = "alphavantage"
)

// AllProviders lists every known provider identity, in the order providers
// are generally tried across asset classes.
var AllProviders = []DataProvider{
	ProviderYFinance, ProviderFinnhub, ProviderCoinGecko, ProviderCoinMarketCap, ProviderAlphaVantage,
}

// Asset is a tradable instrument the aggregator tracks metadata for.
type Asset struct {
	Symbol    string                 `json:"symbol"`
	Name      string                 `json:"name"`
	AssetType AssetType              `json:"asset_type"`
	Exchange  string                 `json:"exchange,omitempty"`
	Currency  string                 `json:"currency,omitempty"`
	IsActive  bool                   `json:"is_active"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewAsset canonicalizes symbol/name the way every asset in the cache must be stored.
func NewAsset(symbol, name string, assetType AssetType) Asset {
	return Asset{
		Symbol:    CanonicalSymbol(symbol),
		Name:      strings.TrimSpace(name),
		AssetType: assetType,
		IsActive:  true,
	}
}

// Quote is a single point-in-time price observation from one provider.
type Quote struct {
	Symbol        string       `json:"symbol"`
	Price         float64      `json:"price"`
	Change        *float64     `json:"change,omitempty"`
	PercentChange *float64     `json:"percent_change,omitempty"`
	Volume        *float64     `json:"volume,omitempty"`
	MarketCap     *float64     `json:"market_cap,omitempty"`
	High24h       *float64     `json:"high_24h,omitempty"`
	Low24h        *float64     `json:"low_24h,omitempty"`
	Open          *float64     `json:"open,omitempty"`
	Close         *float64     `json:"close,omitempty"`
	Bid           *float64     `json:"bid,omitempty"`
	Ask           *float64     `json:"ask,omitempty"`
	Source        DataProvider `json:"source"`
	Timestamp     time.Time    `json:"timestamp"`
	Currency      string       `json:"currency,omitempty"`
	AssetType     AssetType    `json:"asset_type,omitempty"`
}

// round8 / round4 mirror the original service's fixed-precision rounding
// for price and percent_change respectively.
func round8(v float64) float64 { return math.Round(v*1e8) / 1e8 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

// NewQuote builds a Quote with price/percent_change rounded per the data
// model and timestamp defaulted to now if the zero value is passed.
func NewQuote(symbol string, price float64, source DataProvider, observedAt time.Time) Quote {
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}
	return Quote{
		Symbol:    CanonicalSymbol(symbol),
		Price:     round8(price),
		Source:    source,
		Timestamp: observedAt.UTC(),
	}
}

// WithPercentChange sets PercentChange, rounded to 4 decimal places.
func (q Quote) WithPercentChange(pct float64) Quote {
	v := round4(pct)
	q.PercentChange = &v
	return q
}

// Valid reports whether the quote satisfies the core cache invariant:
// a positive price tagged with a recognised provider.
func (q Quote) Valid() bool {
	if q.Price <= 0 {
		return false
	}
	switch q.Source {
	case ProviderYFinance, ProviderFinnhub, ProviderCoinGecko, ProviderCoinMarketCap, ProviderAlphaVantage:
		return true
	default:
		return false
	}
}

// NewsArticle is a single news item, optionally tagged to one or more symbols.
type NewsArticle struct {
	Title       string       `json:"title"`
	Summary     string       `json:"summary,omitempty"`
	URL         string       `json:"url"`
	Source      DataProvider `json:"source"`
	PublishedAt time.Time    `json:"published_at"`
	Symbols     []string     `json:"symbols,omitempty"`
	Category    string       `json:"category,omitempty"`
	Sentiment   *float64     `json:"sentiment,omitempty"`
}

// Valid rejects articles with a blank title or URL, mirroring the source
// system's validators.
func (a NewsArticle) Valid() bool {
	return strings.TrimSpace(a.Title) != "" && strings.TrimSpace(a.URL) != ""
}

// CircuitBreakerState is the cache-resident state for one provider's breaker.
type CircuitBreakerState struct {
	IsOpen       bool      `json:"is_open"`
	TripTime     time.Time `json:"trip_time,omitempty"`
	FailureCount int       `json:"failure_count"`
	LastError    string    `json:"last_error,omitempty"`
}

// CanonicalSymbol upper-cases and trims a symbol. It is the single place
// that defines what "canonical form" means, so normalize(normalize(s)) is
// always idempotent.
func CanonicalSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// BucketOf classifies a canonical symbol into the asset class the quote
// loop should route it to.
func BucketOf(symbol string) AssetType {
	s := CanonicalSymbol(symbol)
	if strings.Contains(s, "/") || strings.HasSuffix(s, "=X") {
		return AssetTypeForex
	}
	for _, prefix := range cryptoTickerPrefixes {
		if s == prefix || strings.HasPrefix(s, prefix+"-") {
			return AssetTypeCrypto
		}
	}
	return AssetTypeStocks
}

var cryptoTickerPrefixes = []string{
	"BTC", "ETH", "ADA", "DOT", "XRP", "LTC", "DOGE",
}
