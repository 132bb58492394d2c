package providers

import (
	"context"

	"github.com/sawpanic/marketdata-aggregator/internal/model"
)

// Provider is the uniform capability set every upstream adapter implements.
// Adapters are stateless except for a local rate-limit counter and the
// process-local fast-path breaker; cross-process circuit state lives in the
// cache facade, not here.
type Provider interface {
	// Quotes returns a quote per symbol it could resolve. Missing symbols
	// are simply absent from the result map, never fabricated.
	Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error)

	// Assets returns the full asset list for a class, or an empty slice if
	// this provider doesn't cover it.
	Assets(ctx context.Context, assetType model.AssetType) ([]model.Asset, error)

	// GeneralNews and CompanyNews are optional capabilities; adapters that
	// don't support news return an empty slice and a nil error.
	GeneralNews(ctx context.Context) ([]model.NewsArticle, error)
	CompanyNews(ctx context.Context, symbol string) ([]model.NewsArticle, error)

	// HealthProbe performs a cheap upstream call and reports success/failure
	// without surfacing the underlying error.
	HealthProbe(ctx context.Context) bool

	RateLimitPerMinute() int
	Supports(assetType model.AssetType) bool
	Identity() model.DataProvider
}
