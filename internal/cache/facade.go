// Package cache wraps Redis with the operations the rest of the aggregator
// needs: pipelined multi-get/multi-set for quotes, whole-list replacement
// for assets and news, and the circuit-breaker state machine. It is the
// single source of truth for reads; only the orchestrator writes through it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-aggregator/internal/metrics"
	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

// Key prefixes, matching the logical cache key layout.
const (
	prefixQuote          = "quotes:"
	prefixAssets         = "assets:"
	prefixNewsGeneral    = "news:general"
	prefixNewsSymbol     = "news:"
	prefixCircuitBreaker = "circuit_breaker:"
	keyActiveSymbols     = "config:active_symbols"
	prefixLastUpdate     = "last_update:"
)

// Facade is the Redis-backed cache the orchestrator writes and the HTTP API
// reads from exclusively.
type Facade struct {
	client  *redis.Client
	log     zerolog.Logger
	metrics *metrics.Registry

	circuitTimeoutOverride time.Duration

	hits   uint64
	misses uint64
}

// WithMetrics attaches a metrics registry so cache hits/misses are also
// exported as Prometheus counters, not just the /v1/cache/stats snapshot.
func (f *Facade) WithMetrics(m *metrics.Registry) *Facade {
	f.metrics = m
	return f
}

// Config configures the underlying Redis connection.
type Config struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// NewFacade dials Redis and verifies connectivity before returning, the way
// the source system's connection constructors do.
func NewFacade(cfg Config, log zerolog.Logger) (*Facade, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DB:           cfg.DB,
		Password:     cfg.Password,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Facade{client: client, log: log}, nil
}

// Close releases the underlying Redis connection pool.
func (f *Facade) Close() error { return f.client.Close() }

// Ping reports whether Redis is currently reachable, used by readiness checks.
func (f *Facade) Ping(ctx context.Context) bool {
	return f.client.Ping(ctx).Err() == nil
}

func (f *Facade) recordHit() { atomic.AddUint64(&f.hits, 1) }
func (f *Facade) recordMiss() { atomic.AddUint64(&f.misses, 1) }

func (f *Facade) recordHitClass(class string) {
	f.recordHit()
	if f.metrics != nil {
		f.metrics.CacheHits.WithLabelValues(class).Inc()
	}
}

func (f *Facade) recordMissClass(class string) {
	f.recordMiss()
	if f.metrics != nil {
		f.metrics.CacheMisses.WithLabelValues(class).Inc()
	}
}

// Stats is the hit/miss snapshot exposed on /v1/cache/stats.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns a point-in-time snapshot of cache hit/miss counters.
func (f *Facade) Stats() Stats {
	hits := atomic.LoadUint64(&f.hits)
	misses := atomic.LoadUint64(&f.misses)
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return Stats{Hits: hits, Misses: misses, HitRate: rate}
}

// GetQuotes performs a pipelined multi-get. Missing keys are simply absent
// from the result; decode failures are logged and skipped, not surfaced.
func (f *Facade) GetQuotes(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	cmds := make(map[string]*redis.StringCmd, len(symbols))
	pipe := f.client.Pipeline()
	for _, symbol := range symbols {
		cmds[symbol] = pipe.Get(ctx, prefixQuote+symbol)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		f.log.Warn().Err(err).Msg("cache: pipelined quote get failed")
		return out, nil
	}

	for symbol, cmd := range cmds {
		val, err := cmd.Result()
		if err != nil {
			f.recordMissClass("quotes")
			continue
		}
		var q model.Quote
		if err := json.Unmarshal([]byte(val), &q); err != nil {
			f.log.Warn().Err(err).Str("symbol", symbol).Msg("cache: corrupted quote entry, skipped")
			f.recordMissClass("quotes")
			continue
		}
		f.recordHitClass("quotes")
		out[symbol] = q
	}
	return out, nil
}

// SetQuotes performs a pipelined multi-set with per-key TTL. Each call
// replaces prior entries; quotes are never merged.
func (f *Facade) SetQuotes(ctx context.Context, quotes map[string]model.Quote, ttl time.Duration) error {
	if len(quotes) == 0 {
		return nil
	}
	pipe := f.client.Pipeline()
	for symbol, quote := range quotes {
		data, err := json.Marshal(quote)
		if err != nil {
			f.log.Warn().Err(err).Str("symbol", symbol).Msg("cache: quote marshal failed, dropped")
			continue
		}
		pipe.Set(ctx, prefixQuote+symbol, data, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetAssets returns the cached asset list for a class. found is false when
// nothing is cached, distinguishing "not cached" from "cached empty".
func (f *Facade) GetAssets(ctx context.Context, assetType model.AssetType) ([]model.Asset, bool, error) {
	val, err := f.client.Get(ctx, prefixAssets+string(assetType)).Result()
	if err == redis.Nil {
		f.recordMissClass("assets")
		return nil, false, nil
	}
	if err != nil {
		f.log.Warn().Err(err).Msg("cache: asset get failed")
		return nil, false, nil
	}
	var assets []model.Asset
	if err := json.Unmarshal([]byte(val), &assets); err != nil {
		f.log.Warn().Err(err).Msg("cache: corrupted asset list, treated as miss")
		f.recordMissClass("assets")
		return nil, false, nil
	}
	f.recordHitClass("assets")
	return assets, true, nil
}

// SetAssets replaces the cached asset list for a class wholesale.
func (f *Facade) SetAssets(ctx context.Context, assetType model.AssetType, assets []model.Asset, ttl time.Duration) error {
	data, err := json.Marshal(assets)
	if err != nil {
		return err
	}
	return f.client.Set(ctx, prefixAssets+string(assetType), data, ttl).Err()
}

// GetActiveSymbols returns the orchestrator's working set, or false if unset.
func (f *Facade) GetActiveSymbols(ctx context.Context) ([]string, bool, error) {
	val, err := f.client.Get(ctx, keyActiveSymbols).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		f.log.Warn().Err(err).Msg("cache: active symbols get failed")
		return nil, false, nil
	}
	var symbols []string
	if err := json.Unmarshal([]byte(val), &symbols); err != nil {
		return nil, false, nil
	}
	return symbols, true, nil
}

// SetActiveSymbols replaces the active-symbol working set wholesale.
func (f *Facade) SetActiveSymbols(ctx context.Context, symbols []string) error {
	data, err := json.Marshal(symbols)
	if err != nil {
		return err
	}
	return f.client.Set(ctx, keyActiveSymbols, data, 0).Err()
}

func newsKey(key string) string {
	if key == "general" {
		return prefixNewsGeneral
	}
	return prefixNewsSymbol + key
}

// GetNews returns the cached news bundle for "general" or a canonical symbol.
func (f *Facade) GetNews(ctx context.Context, key string) ([]model.NewsArticle, bool, error) {
	val, err := f.client.Get(ctx, newsKey(key)).Result()
	if err == redis.Nil {
		f.recordMissClass("news")
		return nil, false, nil
	}
	if err != nil {
		f.log.Warn().Err(err).Msg("cache: news get failed")
		return nil, false, nil
	}
	var articles []model.NewsArticle
	if err := json.Unmarshal([]byte(val), &articles); err != nil {
		f.recordMissClass("news")
		return nil, false, nil
	}
	f.recordHitClass("news")
	return articles, true, nil
}

// SetNews replaces the news bundle for a key wholesale.
func (f *Facade) SetNews(ctx context.Context, key string, articles []model.NewsArticle, ttl time.Duration) error {
	data, err := json.Marshal(articles)
	if err != nil {
		return err
	}
	return f.client.Set(ctx, newsKey(key), data, ttl).Err()
}

// circuitState is the JSON document stored at circuit_breaker:{provider}.
type circuitState struct {
	IsOpen       bool      `json:"is_open"`
	TripTime     time.Time `json:"trip_time"`
	FailureCount int       `json:"failure_count"`
	LastError    string    `json:"last_error"`
}

// defaultCircuitTimeout is how long a tripped breaker stays open before the
// next observer is allowed to sweep it closed and let a request through,
// used when the caller doesn't configure one via WithCircuitTimeout.
const defaultCircuitTimeout = 60 * time.Second

// circuitTimeout returns the configured breaker timeout, falling back to
// defaultCircuitTimeout when the facade was built without one.
func (f *Facade) circuitTimeout() time.Duration {
	if f.circuitTimeoutOverride > 0 {
		return f.circuitTimeoutOverride
	}
	return defaultCircuitTimeout
}

// WithCircuitTimeout configures how long a tripped breaker stays open,
// wiring spec's CIRCUIT_BREAKER_TIMEOUT setting through to the cache.
func (f *Facade) WithCircuitTimeout(d time.Duration) *Facade {
	f.circuitTimeoutOverride = d
	return f
}

// IsCircuitOpen reports whether the named provider's breaker is currently
// open. A breaker whose trip_time is older than circuitTimeout is stale: it
// is deleted here (closed) rather than left for a separate sweeper, so the
// next caller simply observes it closed. This is the single cross-process
// source of truth; it is independent of any adapter's local fast-path breaker.
func (f *Facade) IsCircuitOpen(ctx context.Context, provider string) bool {
	key := prefixCircuitBreaker + provider
	val, err := f.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		f.log.Warn().Err(err).Str("provider", provider).Msg("cache: circuit read failed, assuming closed")
		return false
	}

	var state circuitState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		f.client.Del(ctx, key)
		return false
	}
	if !state.IsOpen {
		return false
	}
	if timeSince(state.TripTime) >= f.circuitTimeout() {
		f.client.Del(ctx, key)
		f.log.Info().Str("provider", provider).Msg("cache: stale circuit breaker swept closed")
		return false
	}
	return true
}

// TripCircuit opens the named provider's breaker, recording the failure that
// caused it. The entry carries a TTL beyond circuitTimeout purely as
// housekeeping; IsCircuitOpen is what actually governs when it closes.
func (f *Facade) TripCircuit(ctx context.Context, provider string, cause error) error {
	state := circuitState{
		IsOpen:       true,
		TripTime:     timeNow(),
		FailureCount: 1,
		LastError:    cause.Error(),
	}
	key := prefixCircuitBreaker + provider
	if val, err := f.client.Get(ctx, key).Result(); err == nil {
		var prev circuitState
		if json.Unmarshal([]byte(val), &prev) == nil {
			state.FailureCount = prev.FailureCount + 1
		}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := f.client.Set(ctx, key, data, f.circuitTimeout()+10*time.Second).Err(); err != nil {
		return err
	}
	if f.metrics != nil {
		f.metrics.CircuitTrips.WithLabelValues(provider).Inc()
	}
	return nil
}

// CloseCircuit explicitly clears a provider's breaker. The orchestrator does
// not call it; open breakers close through IsCircuitOpen's timeout sweep.
func (f *Facade) CloseCircuit(ctx context.Context, provider string) error {
	return f.client.Del(ctx, prefixCircuitBreaker+provider).Err()
}

// GetLastUpdate returns the last recorded timestamp for a loop's task key.
func (f *Facade) GetLastUpdate(ctx context.Context, task string) (time.Time, bool) {
	val, err := f.client.Get(ctx, prefixLastUpdate+task).Result()
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetLastUpdate stamps coarse freshness metadata for a loop's task key.
func (f *Facade) SetLastUpdate(ctx context.Context, task string, ts time.Time) error {
	return f.client.Set(ctx, prefixLastUpdate+task, ts.UTC().Format(time.RFC3339Nano), 0).Err()
}
