package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

const maxSymbolsPerRequest = 100

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response body")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:     message,
		ErrorCode: code,
		Timestamp: timeNow(),
	})
}

// parseSymbols trims, uppercases, and deduplicates a comma-separated symbol
// list while preserving input order. It reports ok=false if, after
// deduplication, the list still exceeds maxSymbolsPerRequest — callers must
// reject the request with 400 rather than silently truncating it.
func parseSymbols(raw string) (symbols []string, ok bool) {
	parts := strings.Split(raw, ",")
	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		symbol := model.CanonicalSymbol(p)
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		out = append(out, symbol)
		if len(out) > maxSymbolsPerRequest {
			return nil, false
		}
	}
	return out, true
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("symbols"))
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "symbols query parameter is required")
		return
	}
	symbols, ok := parseSymbols(raw)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "too many symbols requested")
		return
	}
	if len(symbols) == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "no valid symbols supplied")
		return
	}

	found, err := s.cache.GetQuotes(r.Context(), symbols)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache_error", "failed to read quotes")
		return
	}
	quotes := make([]model.Quote, 0, len(found))
	for _, symbol := range symbols {
		if q, ok := found[symbol]; ok {
			quotes = append(quotes, q)
		}
	}
	s.writeJSON(w, http.StatusOK, QuotesResponse{
		Quotes:    quotes,
		Total:     len(quotes),
		CacheHit:  len(quotes) > 0,
		Timestamp: timeNow(),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := model.CanonicalSymbol(mux.Vars(r)["symbol"])
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "symbol is required")
		return
	}
	found, err := s.cache.GetQuotes(r.Context(), []string{symbol})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache_error", "failed to read quote")
		return
	}
	q, ok := found[symbol]
	if !ok {
		s.writeError(w, http.StatusNotFound, "not_found", "no cached quote for "+symbol)
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

var validAssetTypes = map[string]model.AssetType{
	"stocks": model.AssetTypeStocks,
	"crypto": model.AssetTypeCrypto,
	"forex":  model.AssetTypeForex,
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	raw := strings.ToLower(mux.Vars(r)["type"])
	assetType, ok := validAssetTypes[raw]
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "unknown asset type: "+raw)
		return
	}
	assets, found, err := s.cache.GetAssets(r.Context(), assetType)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache_error", "failed to read assets")
		return
	}
	s.writeJSON(w, http.StatusOK, AssetsResponse{
		Assets:    assets,
		Total:     len(assets),
		CacheHit:  found,
		Timestamp: timeNow(),
	})
}

func (s *Server) handleGeneralNews(w http.ResponseWriter, r *http.Request) {
	s.respondNews(w, r, "general")
}

func (s *Server) handleSymbolNews(w http.ResponseWriter, r *http.Request) {
	symbol := model.CanonicalSymbol(mux.Vars(r)["symbol"])
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "symbol is required")
		return
	}
	s.respondNews(w, r, symbol)
}

func (s *Server) respondNews(w http.ResponseWriter, r *http.Request, key string) {
	articles, found, err := s.cache.GetNews(r.Context(), key)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache_error", "failed to read news")
		return
	}
	s.writeJSON(w, http.StatusOK, NewsResponse{
		Articles:  articles,
		Total:     len(articles),
		CacheHit:  found,
		Timestamp: timeNow(),
	})
}

func (s *Server) handleActiveSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, _, err := s.cache.GetActiveSymbols(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache_error", "failed to read active symbols")
		return
	}
	s.writeJSON(w, http.StatusOK, ActiveSymbolsResponse{
		Symbols:   symbols,
		Total:     len(symbols),
		Timestamp: timeNow(),
	})
}

func (s *Server) handleProvidersStatus(w http.ResponseWriter, r *http.Request) {
	statuses := make([]ProviderStatus, 0, len(model.AllProviders))
	for _, p := range model.AllProviders {
		state := "closed"
		if s.cache.IsCircuitOpen(r.Context(), string(p)) {
			state = "open"
		}
		statuses = append(statuses, ProviderStatus{Provider: string(p), Breaker: state})
	}
	s.writeJSON(w, http.StatusOK, ProvidersStatusResponse{Providers: statuses, Timestamp: timeNow()})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	s.writeJSON(w, http.StatusOK, CacheStatsResponse{
		Hits:      stats.Hits,
		Misses:    stats.Misses,
		HitRate:   stats.HitRate,
		Timestamp: timeNow(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: timeNow()})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready, reasons := s.ready()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, ReadyResponse{Ready: ready, Reasons: reasons, Timestamp: timeNow()})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
}
