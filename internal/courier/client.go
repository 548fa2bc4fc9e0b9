// Package courier queries courier rate APIs for parcel quotes and degrades to a static quote
// set when no provider answers.
package courier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
)

const (
	defaultTimeout       = 5 * time.Second
	defaultCacheTTL      = 10 * time.Minute
	defaultRatePerSecond = 5.0
	defaultParcelGrams   = 1000
	maxResponseBytes     = 1 << 20
)

// ErrNoProviderQuotes indicates every configured provider failed or returned no options.
var ErrNoProviderQuotes = errors.New("courier: no provider returned quotes")

// Provider describes a courier rate API.
type Provider struct {
	// Name is the courier identifier stamped on every returned quote (e.g. courier-guy).
	Name    string
	BaseURL string
	APIKey  string
}

// Config configures the courier client.
type Config struct {
	Providers     []Provider
	HTTPClient    *http.Client
	Timeout       time.Duration
	CacheTTL      time.Duration
	RatePerSecond float64
	// DisableFallback returns ErrNoProviderQuotes instead of the static set.
	DisableFallback bool
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

// Client fans a quote request out to every provider.
type Client struct {
	providers []providerClient
	http      *http.Client
	timeout   time.Duration
	cache     *gocache.Cache
	cacheTTL  time.Duration
	fallback  bool
	logger    func(context.Context, string, map[string]any)
}

type providerClient struct {
	Provider
	limiter *rate.Limiter
}

// NewClient validates the provider list and constructs the client. An empty provider list is
// allowed; every request then resolves to the static fallback set.
func NewClient(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = defaultRatePerSecond
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	seen := make(map[string]struct{}, len(cfg.Providers))
	providers := make([]providerClient, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
		if p.Name == "" || p.BaseURL == "" {
			return nil, errors.New("courier: provider name and base url are required")
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("courier: duplicate provider %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		providers = append(providers, providerClient{
			Provider: p,
			limiter:  rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		})
	}

	return &Client{
		providers: providers,
		http:      httpClient,
		timeout:   timeout,
		cache:     gocache.New(ttl, 2*ttl),
		cacheTTL:  ttl,
		fallback:  !cfg.DisableFallback,
		logger:    logger,
	}, nil
}

// GetQuotes returns the options of every provider that answered, cheapest first.
func (c *Client) GetQuotes(ctx context.Context, req domain.QuoteRequest) ([]domain.CourierQuote, error) {
	if req.WeightGrams <= 0 {
		req.WeightGrams = defaultParcelGrams
	}

	var (
		mu     sync.Mutex
		quotes []domain.CourierQuote
	)
	var g errgroup.Group
	for _, provider := range c.providers {
		provider := provider
		g.Go(func() error {
			got, err := c.quoteProvider(ctx, provider, req)
			if err != nil {
				c.logger(ctx, "courier.provider_failed", map[string]any{
					"provider": provider.Name,
					"error":    err.Error(),
				})
				return nil
			}
			mu.Lock()
			quotes = append(quotes, got...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(quotes) == 0 {
		if !c.fallback {
			return nil, ErrNoProviderQuotes
		}
		c.logger(ctx, "courier.fallback_quotes", map[string]any{"weightGrams": req.WeightGrams})
		return domain.FallbackQuotes(req.WeightGrams), nil
	}
	domain.SortQuotes(quotes)
	return quotes, nil
}

func (c *Client) quoteProvider(ctx context.Context, provider providerClient, req domain.QuoteRequest) ([]domain.CourierQuote, error) {
	key := cacheKey(provider.Name, req)
	if cached, ok := c.cache.Get(key); ok {
		if quotes, ok := cached.([]domain.CourierQuote); ok {
			return append([]domain.CourierQuote(nil), quotes...), nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := provider.limiter.Wait(callCtx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	body, err := json.Marshal(newRateRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, provider.BaseURL+"/rates", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider responded %d", resp.StatusCode)
	}

	var decoded rateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	quotes := decoded.toQuotes(provider.Name)
	if len(quotes) == 0 {
		return nil, errors.New("provider returned no usable quotes")
	}
	c.cache.Set(key, quotes, c.cacheTTL)
	return append([]domain.CourierQuote(nil), quotes...), nil
}

func cacheKey(provider string, req domain.QuoteRequest) string {
	return strings.Join([]string{
		provider,
		normalise(req.Origin.PostalCode),
		normalise(req.Origin.City),
		normalise(req.Destination.PostalCode),
		normalise(req.Destination.City),
		fmt.Sprint(req.WeightGrams),
	}, "|")
}

func normalise(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
