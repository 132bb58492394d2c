package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketdata-aggregator/internal/aggregator"
	"github.com/sawpanic/marketdata-aggregator/internal/cache"
	"github.com/sawpanic/marketdata-aggregator/internal/config"
	"github.com/sawpanic/marketdata-aggregator/internal/httpapi"
	"github.com/sawpanic/marketdata-aggregator/internal/logging"
	"github.com/sawpanic/marketdata-aggregator/internal/metrics"
	"github.com/sawpanic/marketdata-aggregator/internal/model"
	"github.com/sawpanic/marketdata-aggregator/internal/providers"
)

func main() {
	root := &cobra.Command{
		Use:   "aggregator",
		Short: "Market data aggregator: fan-out/fan-in quote, asset, and news cache",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(healthcheckCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator loops and the read-only HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func healthcheckCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running instance's /health endpoint and exit non-zero on failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP port the running instance listens on")
	return cmd
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Msg("starting market data aggregator")

	if cfg.ProvidersConfigPath != "" {
		if _, err := config.LoadProvidersConfig(cfg.ProvidersConfigPath); err != nil {
			log.Warn().Err(err).Msg("failed to load providers config overlay, continuing with defaults")
		}
	}

	facade, err := cache.NewFacade(cache.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	}, log)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer facade.Close()
	facade = facade.WithCircuitTimeout(cfg.Circuit.Timeout)

	metricsRegistry := metrics.NewRegistry()
	facade = facade.WithMetrics(metricsRegistry)

	registry := buildProviderRegistry(cfg, log, metricsRegistry)

	orchCfg := aggregator.DefaultConfig()
	orchCfg.AssetListUpdateInterval = cfg.Loops.AssetListUpdateInterval
	orchCfg.PriceFetchInterval = cfg.Loops.PriceFetchInterval
	orchCfg.NewsFetchInterval = cfg.Loops.NewsFetchInterval
	orchCfg.QuoteTTL = cfg.Cache.QuotesTTL
	orchCfg.AssetListTTL = cfg.Cache.AssetsTTL
	orchCfg.DefaultSymbols = cfg.Symbols

	orch := aggregator.New(facade, registry, orchCfg, log).WithMetrics(metricsRegistry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go orch.Run(ctx)

	readyFn := func() (bool, []string) {
		var reasons []string
		if !facade.Ping(context.Background()) {
			reasons = append(reasons, "cache unreachable")
		}
		if _, ok := facade.GetLastUpdate(context.Background(), "price_fetch"); !ok {
			reasons = append(reasons, "no price_fetch observed yet")
		}
		return len(reasons) == 0, reasons
	}

	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Host:         "0.0.0.0",
		Port:         cfg.HTTPPort,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, facade, readyFn, log, metricsRegistry)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- server.Start() }()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serveErrCh:
		if err != nil {
			log.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), orchCfg.ShutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	log.Info().Msg("aggregator stopped")
	return nil
}

// buildProviderRegistry constructs every adapter this build knows about.
// A provider whose API key is required but absent is still registered:
// HealthProbe/Quotes calls will simply fail and trip its circuit, which is
// the same degraded-mode behavior as a transient outage.
func buildProviderRegistry(cfg *config.AppConfig, log zerolog.Logger, reg *metrics.Registry) map[model.DataProvider]providers.Provider {
	yfinance := providers.NewYFinanceProvider(log, cfg.RateLimits.YFinance)
	finnhub := providers.NewFinnhubProvider(log, cfg.RateLimits.Finnhub, cfg.APIKeys.Finnhub)
	coingecko := providers.NewCoinGeckoProvider(log, cfg.RateLimits.CoinGecko)
	coinmarketcap := providers.NewCoinMarketCapProvider(log, cfg.RateLimits.CoinMarketCap, cfg.APIKeys.CoinMarketCap)
	alphavantage := providers.NewAlphaVantageProvider(log, cfg.RateLimits.AlphaVantage, cfg.APIKeys.AlphaVantage)

	yfinance.BaseClient.WithMetrics(reg)
	finnhub.BaseClient.WithMetrics(reg)
	coingecko.BaseClient.WithMetrics(reg)
	coinmarketcap.BaseClient.WithMetrics(reg)
	alphavantage.BaseClient.WithMetrics(reg)

	return map[model.DataProvider]providers.Provider{
		model.ProviderYFinance:      yfinance,
		model.ProviderFinnhub:       finnhub,
		model.ProviderCoinGecko:     coingecko,
		model.ProviderCoinMarketCap: coinmarketcap,
		model.ProviderAlphaVantage:  alphavantage,
	}
}

func runHealthcheck(port int) error {
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}
