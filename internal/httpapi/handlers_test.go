package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-aggregator/internal/cache"
	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

// fakeCacheReader is an in-memory stand-in for internal/cache.Facade.
type fakeCacheReader struct {
	quotes        map[string]model.Quote
	assets        map[model.AssetType][]model.Asset
	assetsFound   map[model.AssetType]bool
	news          map[string][]model.NewsArticle
	newsFound     map[string]bool
	activeSymbols []string
	openCircuits  map[string]bool
	stats         cache.Stats
	pingable      bool
}

func newFakeCacheReader() *fakeCacheReader {
	return &fakeCacheReader{
		quotes:       map[string]model.Quote{},
		assets:       map[model.AssetType][]model.Asset{},
		assetsFound:  map[model.AssetType]bool{},
		news:         map[string][]model.NewsArticle{},
		newsFound:    map[string]bool{},
		openCircuits: map[string]bool{},
		pingable:     true,
	}
}

func (f *fakeCacheReader) GetQuotes(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}
func (f *fakeCacheReader) GetAssets(ctx context.Context, assetType model.AssetType) ([]model.Asset, bool, error) {
	return f.assets[assetType], f.assetsFound[assetType], nil
}
func (f *fakeCacheReader) GetActiveSymbols(ctx context.Context) ([]string, bool, error) {
	return f.activeSymbols, len(f.activeSymbols) > 0, nil
}
func (f *fakeCacheReader) GetNews(ctx context.Context, key string) ([]model.NewsArticle, bool, error) {
	return f.news[key], f.newsFound[key], nil
}
func (f *fakeCacheReader) IsCircuitOpen(ctx context.Context, provider string) bool {
	return f.openCircuits[provider]
}
func (f *fakeCacheReader) GetLastUpdate(ctx context.Context, task string) (time.Time, bool) {
	return time.Time{}, false
}
func (f *fakeCacheReader) Ping(ctx context.Context) bool { return f.pingable }
func (f *fakeCacheReader) Stats() cache.Stats            { return f.stats }

func newTestServer(cache *fakeCacheReader) *Server {
	s := &Server{
		router: mux.NewRouter(),
		cache:  cache,
		log:    zerolog.Nop(),
		ready:  func() (bool, []string) { return true, nil },
	}
	s.setupRoutes()
	return s
}

func TestHandleQuotes_RejectsEmpty(t *testing.T) {
	s := newTestServer(newFakeCacheReader())
	req := httptest.NewRequest(http.MethodGet, "/v1/quotes", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing symbols, got %d", rec.Code)
	}
}

func TestHandleQuotes_DeduplicatesAndUppercases(t *testing.T) {
	c := newFakeCacheReader()
	c.quotes["AAPL"] = model.NewQuote("AAPL", 190, model.ProviderYFinance, time.Now())
	s := newTestServer(c)

	req := httptest.NewRequest(http.MethodGet, "/v1/quotes?symbols=aapl,AAPL,msft", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body QuotesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Total != 1 {
		t.Errorf("expected 1 quote (MSFT absent from cache), got %d", body.Total)
	}
	if !body.CacheHit {
		t.Error("expected cache_hit=true")
	}
}

func TestHandleQuotes_RejectsOverMax(t *testing.T) {
	s := newTestServer(newFakeCacheReader())
	symbols := make([]string, maxSymbolsPerRequest+1)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%d", i)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/quotes?symbols="+strings.Join(symbols, ","), nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for over-max symbol count, got %d", rec.Code)
	}
}

func TestHandleQuote_404WhenMissing(t *testing.T) {
	s := newTestServer(newFakeCacheReader())
	req := httptest.NewRequest(http.MethodGet, "/v1/quote/AAPL", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleAssets_UnknownType(t *testing.T) {
	s := newTestServer(newFakeCacheReader())
	req := httptest.NewRequest(http.MethodGet, "/v1/assets/bonds", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown asset type, got %d", rec.Code)
	}
}

func TestHandleAssets_NotCachedReportsEmptyMiss(t *testing.T) {
	s := newTestServer(newFakeCacheReader())
	req := httptest.NewRequest(http.MethodGet, "/v1/assets/crypto", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var body AssetsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Total != 0 || body.CacheHit {
		t.Errorf("expected empty uncached result, got total=%d cache_hit=%v", body.Total, body.CacheHit)
	}
}

func TestHandleReady_ReflectsReadyFunc(t *testing.T) {
	c := newFakeCacheReader()
	s := newTestServer(c)
	s.ready = func() (bool, []string) { return false, []string{"cache unreachable"} }

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when not ready, got %d", rec.Code)
	}
}
