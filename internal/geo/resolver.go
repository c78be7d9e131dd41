package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/learnexity/learnexity-backend/pkg/config"
	"github.com/learnexity/learnexity-backend/pkg/enums"
	"github.com/learnexity/learnexity-backend/pkg/logger"
	"github.com/learnexity/learnexity-backend/pkg/redis"
)

const responseBodyReadLimit int64 = 1024

// Cache is the slice of the Redis client the resolver needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheKey(scope, id string) string
}

// Resolver maps a client IP to a billing currency via an ip-geolocation
// service. Lookups are cached; any failure falls back to USD so enrollment
// never blocks on the provider.
type Resolver struct {
	httpClient *http.Client
	baseURL    string
	cache      Cache
	cacheTTL   time.Duration
	logg       *logger.Logger
}

// Option configures optional resolver behavior.
type Option func(*Resolver)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// NewResolver builds a currency resolver from the geolocation config.
func NewResolver(cfg config.GeoConfig, cache Cache, logg *logger.Logger, opts ...Option) (*Resolver, error) {
	if cache == nil {
		return nil, fmt.Errorf("geo resolver requires a cache")
	}
	if logg == nil {
		return nil, fmt.Errorf("geo resolver requires a logger")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("geo resolver requires a base url")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	resolver := &Resolver{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		cache:      cache,
		cacheTTL:   cfg.CacheTTL,
		logg:       logg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(resolver)
		}
	}
	return resolver, nil
}

// CurrencyForIP resolves the billing currency for a client IP. Nigerian IPs
// price in NGN, everything else in USD. An empty IP or a provider failure
// resolves to USD.
func (r *Resolver) CurrencyForIP(ctx context.Context, ip string) enums.Currency {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return enums.CurrencyUSD
	}

	key := r.cache.CacheKey("geo-currency", ip)
	if cached, err := r.cache.Get(ctx, key); err == nil {
		if currency, parseErr := enums.ParseCurrency(cached); parseErr == nil {
			return currency
		}
	} else if !redis.IsNil(err) {
		r.logg.Warn(ctx, "geo currency cache read failed")
	}

	countryCode, err := r.lookupCountry(ctx, ip)
	if err != nil {
		r.logg.Error(ctx, "ip geolocation lookup failed, defaulting to USD", err)
		return enums.CurrencyUSD
	}

	currency := enums.CurrencyUSD
	if countryCode == "NG" {
		currency = enums.CurrencyNGN
	}

	if err := r.cache.Set(ctx, key, currency.String(), r.cacheTTL); err != nil {
		r.logg.Warn(ctx, "geo currency cache write failed")
	}
	return currency
}

func (r *Resolver) lookupCountry(ctx context.Context, ip string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/json/", r.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build geolocation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute geolocation request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return "", fmt.Errorf("geolocation status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var payload struct {
		CountryCode string `json:"country_code"`
		Error       bool   `json:"error"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode geolocation response: %w", err)
	}
	if payload.Error {
		return "", fmt.Errorf("geolocation provider error: %s", payload.Reason)
	}
	return strings.ToUpper(strings.TrimSpace(payload.CountryCode)), nil
}
