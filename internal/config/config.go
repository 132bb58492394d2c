// Package config loads the aggregator's configuration purely from the
// environment, with an optional YAML overlay for static per-provider
// settings (rate limits, base URLs) read from PROVIDERS_CONFIG_PATH.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the fully-resolved runtime configuration.
type AppConfig struct {
	Redis      RedisConfig
	Circuit    CircuitConfig
	Loops      LoopConfig
	Cache      CacheTTLConfig
	RateLimits RateLimitConfig
	Symbols    []string
	LogLevel   string
	LogFormat  string
	HTTPPort   int
	APIKeys    APIKeys

	ProvidersConfigPath string
}

// RateLimitConfig holds each adapter's conservative per-minute request
// budget. These defaults are preserved verbatim from the source system
// rather than tuned against upstream's own published limits; each is still
// overridable via its own env var.
type RateLimitConfig struct {
	YFinance      int
	Finnhub       int
	CoinGecko     int
	CoinMarketCap int
	AlphaVantage  int
}

// RedisConfig addresses the cache backend.
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// CircuitConfig controls the cache-backed circuit breaker.
type CircuitConfig struct {
	Timeout time.Duration
}

// LoopConfig controls the three orchestrator loop periods.
type LoopConfig struct {
	AssetListUpdateInterval time.Duration
	PriceFetchInterval      time.Duration
	NewsFetchInterval       time.Duration
}

// CacheTTLConfig controls per-key-class cache TTLs.
type CacheTTLConfig struct {
	QuotesTTL time.Duration
	AssetsTTL time.Duration
}

// APIKeys holds upstream provider credentials.
type APIKeys struct {
	Finnhub       string
	CoinMarketCap string
	AlphaVantage  string
}

// Load reads every setting from the environment, falling back to the
// documented defaults for anything unset.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Redis: RedisConfig{
			Host: getEnvString("REDIS_HOST", "localhost"),
			Port: getEnvInt("REDIS_PORT", 6379),
			DB:   getEnvInt("REDIS_DB", 0),
			Password: getEnvString("REDIS_PASSWORD", ""),
		},
		Circuit: CircuitConfig{
			Timeout: getEnvSeconds("CIRCUIT_BREAKER_TIMEOUT", 60*time.Second),
		},
		Loops: LoopConfig{
			AssetListUpdateInterval: getEnvSeconds("ASSET_LIST_UPDATE_INTERVAL", 24*time.Hour),
			PriceFetchInterval:      getEnvSeconds("PRICE_FETCH_INTERVAL", 5*time.Second),
			NewsFetchInterval:       getEnvSeconds("NEWS_FETCH_INTERVAL", 5*time.Minute),
		},
		Cache: CacheTTLConfig{
			QuotesTTL: getEnvSeconds("QUOTES_CACHE_TTL", 5*time.Minute),
			AssetsTTL: getEnvSeconds("ASSETS_CACHE_TTL", 48*time.Hour),
		},
		RateLimits: RateLimitConfig{
			YFinance:      getEnvInt("RATE_LIMIT_YFINANCE", 30),
			Finnhub:       getEnvInt("RATE_LIMIT_FINNHUB", 50),
			CoinGecko:     getEnvInt("RATE_LIMIT_COINGECKO", 40),
			CoinMarketCap: getEnvInt("RATE_LIMIT_COINMARKETCAP", 15),
			AlphaVantage:  getEnvInt("RATE_LIMIT_ALPHAVANTAGE", 4),
		},
		Symbols:  getEnvList("ACTIVE_SYMBOLS", []string{"AAPL", "MSFT", "GOOGL", "BTC-USD", "ETH-USD", "EUR/USD"}),
		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "json"),
		HTTPPort: getEnvInt("HTTP_PORT", 8080),
		APIKeys: APIKeys{
			Finnhub:       os.Getenv("FINNHUB_API_KEY"),
			CoinMarketCap: os.Getenv("COINMARKETCAP_API_KEY"),
			AlphaVantage:  os.Getenv("ALPHA_VANTAGE_API_KEY"),
		},
		ProvidersConfigPath: os.Getenv("PROVIDERS_CONFIG_PATH"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator could not run with.
func (c *AppConfig) Validate() error {
	if c.Redis.Port <= 0 {
		return fmt.Errorf("REDIS_PORT must be positive, got %d", c.Redis.Port)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be one of json|text, got %q", c.LogFormat)
	}
	if c.Loops.PriceFetchInterval <= 0 {
		return fmt.Errorf("PRICE_FETCH_INTERVAL must be positive")
	}
	if c.Loops.AssetListUpdateInterval <= 0 {
		return fmt.Errorf("ASSET_LIST_UPDATE_INTERVAL must be positive")
	}
	if c.Loops.NewsFetchInterval <= 0 {
		return fmt.Errorf("NEWS_FETCH_INTERVAL must be positive")
	}
	return nil
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return time.Duration(parsed) * time.Second
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
