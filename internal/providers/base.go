package providers

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/marketdata-aggregator/internal/metrics"
)

// BaseClient is embedded by every provider adapter. It centralises the
// retry/backoff policy, per-provider rate limiting, and the process-local
// fast-path circuit breaker so each adapter only has to implement the
// upstream-specific request building and response mapping.
type BaseClient struct {
	Name       string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Breaker    *gobreaker.CircuitBreaker
	Log        zerolog.Logger
	Metrics    *metrics.Registry
}

// WithMetrics attaches a metrics registry so outbound calls are observed as
// Prometheus histograms/counters, not just logged.
func (b *BaseClient) WithMetrics(m *metrics.Registry) *BaseClient {
	b.Metrics = m
	return b
}

// NewBaseClient wires a provider's HTTP client, rate limiter, and local
// breaker from its per-minute request budget.
func NewBaseClient(name string, requestsPerMinute int, log zerolog.Logger) *BaseClient {
	perSecond := rate.Limit(float64(requestsPerMinute) / 60.0)
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &BaseClient{
		Name: name,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: dialer.DialContext,
			},
		},
		Limiter: rate.NewLimiter(perSecond, 1),
		Breaker: gobreaker.NewCircuitBreaker(settings),
		Log:     log.With().Str("provider", name).Logger(),
	}
}

// Do executes an HTTP request honoring the adapter's rate limit, the local
// breaker, and the shared retry policy (3 attempts, exponential 1s/2s between
// them, Retry-After respected on 429, never retried for other 4xx).
func (b *BaseClient) Do(ctx context.Context, req *http.Request) ([]byte, int, error) {
	return b.DoOp(ctx, req, "unclassified")
}

// DoOp is Do with an explicit operation label (quotes, assets, news, health)
// for the provider-call-duration/error metrics.
func (b *BaseClient) DoOp(ctx context.Context, req *http.Request, operation string) ([]byte, int, error) {
	start := timeNow()
	body, status, err := b.doOp(ctx, req)
	if b.Metrics != nil {
		b.Metrics.ProviderCallDuration.WithLabelValues(b.Name, operation).Observe(timeSince(start).Seconds())
		if err != nil {
			b.Metrics.ProviderCallErrors.WithLabelValues(b.Name, errorKind(err)).Inc()
		}
	}
	return body, status, err
}

func (b *BaseClient) doOp(ctx context.Context, req *http.Request) ([]byte, int, error) {
	if err := b.Limiter.Wait(ctx); err != nil {
		return nil, 0, &ProviderError{Provider: b.Name, Cause: err}
	}

	type attemptResult struct {
		body   []byte
		status int
	}

	result, err := b.Breaker.Execute(func() (interface{}, error) {
		body, status, err := b.attempt(ctx, req)
		if err != nil {
			return nil, err
		}
		return attemptResult{body, status}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	pair := result.(attemptResult)
	return pair.body, pair.status, nil
}

// errorKind classifies an error for the provider_call_errors_total label
// without leaking the full error text into a metric's cardinality.
func errorKind(err error) string {
	switch err.(type) {
	case *RateLimitError:
		return "rate_limit"
	case *AuthenticationError:
		return "auth"
	case *DataNotFoundError:
		return "not_found"
	case *ProviderError:
		return "provider"
	default:
		return "unknown"
	}
}

func (b *BaseClient) attempt(ctx context.Context, req *http.Request) ([]byte, int, error) {
	backoffs := []time.Duration{1 * time.Second, 2 * time.Second}

	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		resp, err := b.HTTPClient.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			if attempt < len(backoffs) {
				b.sleep(ctx, backoffs[attempt])
				continue
			}
			return nil, 0, &ProviderError{Provider: b.Name, Cause: err}
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if attempt < len(backoffs) {
				b.sleep(ctx, backoffs[attempt])
				continue
			}
			return nil, 0, &ProviderError{Provider: b.Name, Cause: readErr}
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, resp.StatusCode, &AuthenticationError{Provider: b.Name}
		case resp.StatusCode == http.StatusNotFound:
			return data, resp.StatusCode, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			if attempt < len(backoffs) {
				wait := retryAfter
				if wait == 0 {
					wait = backoffs[attempt]
				}
				if wait > 60*time.Second {
					wait = 60 * time.Second
				}
				b.sleep(ctx, wait)
				continue
			}
			return nil, resp.StatusCode, &RateLimitError{Provider: b.Name, RetryAfter: int(retryAfter.Seconds())}
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
			if attempt < len(backoffs) {
				b.sleep(ctx, backoffs[attempt])
				continue
			}
			return nil, resp.StatusCode, &ProviderError{Provider: b.Name, Cause: lastErr}
		case resp.StatusCode >= 400:
			return data, resp.StatusCode, nil
		default:
			return data, resp.StatusCode, nil
		}
	}
	return nil, 0, &ProviderError{Provider: b.Name, Cause: lastErr}
}

func (b *BaseClient) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Probe performs a cheap GET and reports success without surfacing the error,
// matching the Provider.HealthProbe contract.
func (b *BaseClient) Probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	_, status, err := b.DoOp(ctx, req, "health")
	if err != nil {
		return false
	}
	return status > 0 && status < 500
}
