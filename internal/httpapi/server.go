// Package httpapi exposes the read-only JSON API. Every handler serves
// exclusively from the cache; none of them ever trigger an upstream call.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-aggregator/internal/cache"
	"github.com/sawpanic/marketdata-aggregator/internal/metrics"
	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

// CacheReader is the subset of internal/cache.Facade the API reads from.
type CacheReader interface {
	GetQuotes(ctx context.Context, symbols []string) (map[string]model.Quote, error)
	GetAssets(ctx context.Context, assetType model.AssetType) ([]model.Asset, bool, error)
	GetActiveSymbols(ctx context.Context) ([]string, bool, error)
	GetNews(ctx context.Context, key string) ([]model.NewsArticle, bool, error)
	IsCircuitOpen(ctx context.Context, provider string) bool
	GetLastUpdate(ctx context.Context, task string) (time.Time, bool)
	Ping(ctx context.Context) bool
	Stats() cache.Stats
}

type requestIDKey struct{}

// Server is the read-only HTTP server. Structurally it mirrors a classic
// mux.Router + middleware-chain server: logging, request ID, timeout, CORS.
type Server struct {
	router  *mux.Router
	server  *http.Server
	cache   CacheReader
	config  ServerConfig
	log     zerolog.Logger
	ready   func() (bool, []string)
	metrics *metrics.Registry
}

// ServerConfig controls bind address and server timeouts.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig reads HTTP_PORT, defaulting to 8080, binding all interfaces.
func DefaultServerConfig() ServerConfig {
	port := 8080
	if portStr := os.Getenv("HTTP_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer checks port availability up front before wiring routes and
// middleware, so a busy port fails fast instead of surfacing later as a
// mysterious listen error.
func NewServer(config ServerConfig, cache CacheReader, ready func() (bool, []string), log zerolog.Logger, reg *metrics.Registry) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", config.Port, err)
	}
	listener.Close()

	s := &Server{
		router:  mux.NewRouter(),
		cache:   cache,
		config:  config,
		log:     log.With().Str("component", "httpapi").Logger(),
		ready:   ready,
		metrics: reg,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/v1/quotes", s.handleQuotes).Methods(http.MethodGet)
	api.HandleFunc("/v1/quote/{symbol}", s.handleQuote).Methods(http.MethodGet)
	api.HandleFunc("/v1/assets/{type}", s.handleAssets).Methods(http.MethodGet)
	api.HandleFunc("/v1/news/general", s.handleGeneralNews).Methods(http.MethodGet)
	api.HandleFunc("/v1/news/{symbol}", s.handleSymbolNews).Methods(http.MethodGet)
	api.HandleFunc("/v1/symbols/active", s.handleActiveSymbols).Methods(http.MethodGet)
	api.HandleFunc("/v1/providers/status", s.handleProvidersStatus).Methods(http.MethodGet)
	api.HandleFunc("/v1/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	if s.metrics != nil {
		api.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.log.Info().
			Str("request_id", fmt.Sprintf("%v", r.Context().Value(requestIDKey{}))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until the listener errors or is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("address", s.server.Addr).Msg("starting read-only HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// GetAddress returns the bound host:port.
func (s *Server) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
