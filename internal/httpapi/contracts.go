package httpapi

import (
	"time"

	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

// ErrorResponse is the single error body shape returned by every endpoint.
type ErrorResponse struct {
	Error     string    `json:"error"`
	ErrorCode string    `json:"error_code"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// QuotesResponse is the body for GET /v1/quotes.
type QuotesResponse struct {
	Quotes    []model.Quote `json:"quotes"`
	Total     int           `json:"total"`
	CacheHit  bool          `json:"cache_hit"`
	Timestamp time.Time     `json:"timestamp"`
}

// AssetsResponse is the body for GET /v1/assets/{type}.
type AssetsResponse struct {
	Assets    []model.Asset `json:"assets"`
	Total     int           `json:"total"`
	CacheHit  bool          `json:"cache_hit"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewsResponse is the body for GET /v1/news/general and GET /v1/news/{symbol}.
type NewsResponse struct {
	Articles  []model.NewsArticle `json:"articles"`
	Total     int                 `json:"total"`
	CacheHit  bool                `json:"cache_hit"`
	Timestamp time.Time           `json:"timestamp"`
}

// ActiveSymbolsResponse is the body for GET /v1/symbols/active.
type ActiveSymbolsResponse struct {
	Symbols   []string  `json:"symbols"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// ProviderStatus is one entry in the providers-status response.
type ProviderStatus struct {
	Provider  string `json:"provider"`
	Supports  string `json:"supports,omitempty"`
	Breaker   string `json:"circuit_state"`
}

// ProvidersStatusResponse is the body for GET /v1/providers/status.
type ProvidersStatusResponse struct {
	Providers []ProviderStatus `json:"providers"`
	Timestamp time.Time        `json:"timestamp"`
}

// CacheStatsResponse is the body for GET /v1/cache/stats.
type CacheStatsResponse struct {
	Hits      uint64    `json:"hits"`
	Misses    uint64    `json:"misses"`
	HitRate   float64   `json:"hit_rate"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is the body for GET /health and GET /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the body for GET /ready.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Reasons   []string  `json:"reasons,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
