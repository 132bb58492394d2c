package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

func newMockFacade() (*Facade, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return &Facade{client: db, log: zerolog.Nop()}, mock
}

func TestFacade_GetQuotes(t *testing.T) {
	f, mock := newMockFacade()
	ctx := context.Background()

	t.Run("hit decodes the cached quote", func(t *testing.T) {
		q := model.NewQuote("AAPL", 190.1234567, model.ProviderYFinance, time.Now())
		data, _ := json.Marshal(q)
		mock.ExpectGet("quotes:AAPL").SetVal(string(data))

		out, err := f.GetQuotes(ctx, []string{"AAPL"})
		if err != nil {
			t.Fatalf("GetQuotes returned error: %v", err)
		}
		got, ok := out["AAPL"]
		if !ok {
			t.Fatal("expected AAPL in result")
		}
		if got.Price != q.Price {
			t.Errorf("expected price %v, got %v", q.Price, got.Price)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("redis expectations not met: %v", err)
		}
	})

	t.Run("miss is simply absent", func(t *testing.T) {
		mock.ExpectGet("quotes:MSFT").RedisNil()

		out, err := f.GetQuotes(ctx, []string{"MSFT"})
		if err != nil {
			t.Fatalf("GetQuotes returned error: %v", err)
		}
		if _, ok := out["MSFT"]; ok {
			t.Error("expected MSFT absent on cache miss")
		}
	})

	t.Run("corrupted entry treated as miss", func(t *testing.T) {
		mock.ExpectGet("quotes:BAD").SetVal("{not json")

		out, err := f.GetQuotes(ctx, []string{"BAD"})
		if err != nil {
			t.Fatalf("GetQuotes returned error: %v", err)
		}
		if _, ok := out["BAD"]; ok {
			t.Error("expected BAD absent when decode fails")
		}
	})
}

func TestFacade_AssetsFoundVsEmpty(t *testing.T) {
	f, mock := newMockFacade()
	ctx := context.Background()

	t.Run("unset key reports not found", func(t *testing.T) {
		mock.ExpectGet("assets:crypto").RedisNil()

		_, found, err := f.GetAssets(ctx, model.AssetTypeCrypto)
		if err != nil {
			t.Fatalf("GetAssets returned error: %v", err)
		}
		if found {
			t.Error("expected found=false for unset key")
		}
	})

	t.Run("cached empty list reports found", func(t *testing.T) {
		mock.ExpectGet("assets:crypto").SetVal("[]")

		assets, found, err := f.GetAssets(ctx, model.AssetTypeCrypto)
		if err != nil {
			t.Fatalf("GetAssets returned error: %v", err)
		}
		if !found {
			t.Error("expected found=true for a cached empty list")
		}
		if len(assets) != 0 {
			t.Errorf("expected zero assets, got %d", len(assets))
		}
	})
}

func TestFacade_CircuitBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("absent breaker is closed", func(t *testing.T) {
		f, mock := newMockFacade()
		mock.ExpectGet("circuit_breaker:yfinance").RedisNil()

		if f.IsCircuitOpen(ctx, "yfinance") {
			t.Error("expected closed when no breaker entry exists")
		}
	})

	t.Run("fresh trip is observed open", func(t *testing.T) {
		f, mock := newMockFacade()
		state := circuitState{IsOpen: true, TripTime: timeNow(), FailureCount: 3, LastError: "boom"}
		data, _ := json.Marshal(state)
		mock.ExpectGet("circuit_breaker:finnhub").SetVal(string(data))

		if !f.IsCircuitOpen(ctx, "finnhub") {
			t.Error("expected open for a freshly tripped breaker")
		}
	})

	t.Run("stale trip self-heals on observe", func(t *testing.T) {
		f, mock := newMockFacade()
		state := circuitState{
			IsOpen:       true,
			TripTime:     timeNow().Add(-2 * defaultCircuitTimeout),
			FailureCount: 5,
			LastError:    "boom",
		}
		data, _ := json.Marshal(state)
		mock.ExpectGet("circuit_breaker:finnhub").SetVal(string(data))
		mock.ExpectDel("circuit_breaker:finnhub").SetVal(1)

		if f.IsCircuitOpen(ctx, "finnhub") {
			t.Error("expected a stale-open breaker to be swept closed")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("redis expectations not met: %v", err)
		}
	})

	t.Run("configured timeout overrides the default for staleness", func(t *testing.T) {
		f, mock := newMockFacade()
		f.WithCircuitTimeout(5 * time.Second)
		state := circuitState{
			IsOpen:       true,
			TripTime:     timeNow().Add(-10 * time.Second),
			FailureCount: 1,
			LastError:    "boom",
		}
		data, _ := json.Marshal(state)
		mock.ExpectGet("circuit_breaker:finnhub").SetVal(string(data))
		mock.ExpectDel("circuit_breaker:finnhub").SetVal(1)

		if f.IsCircuitOpen(ctx, "finnhub") {
			t.Error("expected a 10s-old trip to be stale under a 5s configured timeout")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("redis expectations not met: %v", err)
		}
	})

	t.Run("TripCircuit increments failure count on an existing trip", func(t *testing.T) {
		f, mock := newMockFacade()
		prev := circuitState{IsOpen: true, TripTime: timeNow(), FailureCount: 2, LastError: "earlier"}
		prevData, _ := json.Marshal(prev)
		mock.ExpectGet("circuit_breaker:coingecko").SetVal(string(prevData))
		mock.Regexp().ExpectSet("circuit_breaker:coingecko", `"failure_count":3`, defaultCircuitTimeout+10*time.Second).SetVal("OK")

		if err := f.TripCircuit(ctx, "coingecko", errors.New("upstream 503")); err != nil {
			t.Fatalf("TripCircuit returned error: %v", err)
		}
	})

	t.Run("CloseCircuit deletes the key", func(t *testing.T) {
		f, mock := newMockFacade()
		mock.ExpectDel("circuit_breaker:coingecko").SetVal(1)

		if err := f.CloseCircuit(ctx, "coingecko"); err != nil {
			t.Fatalf("CloseCircuit returned error: %v", err)
		}
	})
}

func TestFacade_Stats(t *testing.T) {
	f, _ := newMockFacade()
	f.recordHit()
	f.recordHit()
	f.recordMiss()

	stats := f.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("expected hit rate ~0.667, got %v", stats.HitRate)
	}
}
