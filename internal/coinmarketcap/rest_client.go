package coinmarketcap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crypto-signal-bot-go/internal/config"
	"crypto-signal-bot-go/internal/models"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	apiKeyHeader = "X-CMC_PRO_API_KEY"
	quotesPath   = "/v1/cryptocurrency/quotes/latest"
	listingsPath = "/v1/cryptocurrency/listings/latest"
	convert      = "USD"

	// A failed request is retried exactly once.
	maxAttempts = 2
)

// RestClientInterface defines the quote provider operations used by the bot.
type RestClientInterface interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetListings(ctx context.Context, limit int) ([]Quote, error)
}

// RestClient is a rate limited, cached client for the CoinMarketCap API.
// One instance is shared by every symbol task and the outcome tracker.
type RestClient struct {
	client       *resty.Client
	apiKey       string
	logger       *zap.Logger
	limiter      *rate.Limiter
	cache        *TTLCache
	retryBackoff time.Duration
	quoteTTL     time.Duration
	listingTTL   time.Duration
	now          func() time.Time
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new CoinMarketCap client. It fails when no API key is configured.
func NewRestClient(cfg *config.CoinMarketCap, logger *zap.Logger) (*RestClient, error) {
	if strings.TrimSpace(cfg.ApiKey) == "" {
		return nil, config.ErrMissingAPIKey
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader(apiKeyHeader, cfg.ApiKey).
		SetHeader("Accept", "application/json")

	// N requests per window, spaced evenly so no window ever exceeds N.
	limiter := rate.NewLimiter(rate.Every(cfg.RateWindow/time.Duration(cfg.RateLimit)), 1)

	logger.Info("Using CoinMarketCap API",
		zap.String("base_url", cfg.BaseURL),
		zap.Int("rate_limit", cfg.RateLimit),
		zap.Duration("rate_window", cfg.RateWindow))

	return &RestClient{
		client:       client,
		apiKey:       cfg.ApiKey,
		logger:       logger.Named("coinmarketcap"),
		limiter:      limiter,
		cache:        NewTTLCache(),
		retryBackoff: cfg.RetryBackoff,
		quoteTTL:     cfg.QuoteCacheTTL,
		listingTTL:   cfg.ListingCacheTTL,
		now:          time.Now,
	}, nil
}

// Quote is the latest USD market data of one coin.
type Quote struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	models.Features
	LastUpdated time.Time `json:"last_updated"`
	FetchedAt   time.Time `json:"fetched_at"`
}

type apiStatus struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type usdQuote struct {
	Price            *float64 `json:"price"`
	Volume24h        float64  `json:"volume_24h"`
	VolumeChange24h  float64  `json:"volume_change_24h"`
	PercentChange1h  float64  `json:"percent_change_1h"`
	PercentChange24h float64  `json:"percent_change_24h"`
	PercentChange7d  float64  `json:"percent_change_7d"`
	PercentChange30d float64  `json:"percent_change_30d"`
	PercentChange60d float64  `json:"percent_change_60d"`
	PercentChange90d float64  `json:"percent_change_90d"`
	MarketCap        float64  `json:"market_cap"`
	LastUpdated      string   `json:"last_updated"`
}

type coinData struct {
	ID     int                 `json:"id"`
	Name   string              `json:"name"`
	Symbol string              `json:"symbol"`
	Quote  map[string]usdQuote `json:"quote"`
}

type quotesResponse struct {
	Status apiStatus           `json:"status"`
	Data   map[string]coinData `json:"data"`
}

type listingsResponse struct {
	Status apiStatus  `json:"status"`
	Data   []coinData `json:"data"`
}

// doRequest handles the actual request execution with rate limiting and a single retry.
func (c *RestClient) doRequest(ctx context.Context, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	for i := 0; i < maxAttempts; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("url", c.client.BaseURL+url), zap.Int("attempt", i+1))
		resp, err = req.SetContext(ctx).Get(url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := true
		if err == nil {
			err = fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
			code := resp.StatusCode()
			shouldRetry = code == http.StatusTooManyRequests || code >= 500
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, err
		}
		if !shouldRetry || i == maxAttempts-1 {
			break
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", c.retryBackoff),
			zap.Error(err),
		)

		select {
		case <-time.After(c.retryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, err
}

// GetQuote returns the latest USD quote of symbol, served from cache when fresh.
func (c *RestClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	key := "quote:" + symbol
	if v, ok := c.cache.Get(key); ok {
		q := v.(Quote)
		return &q, nil
	}

	var result quotesResponse
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetQueryParam("convert", convert).
		SetResult(&result)

	if _, err := c.doRequest(ctx, quotesPath, req); err != nil {
		c.logger.Error("Failed to get quote", zap.String("symbol", symbol), zap.Error(err))
		return nil, &FetchError{Op: "quote", Symbol: symbol, Err: err}
	}
	if result.Status.ErrorCode != 0 {
		return nil, &FetchError{Op: "quote", Symbol: symbol, Err: fmt.Errorf("provider error %d: %s", result.Status.ErrorCode, result.Status.ErrorMessage)}
	}

	data, ok := result.Data[symbol]
	if !ok {
		return nil, &FeatureExtractionError{Symbol: symbol, Reason: "symbol missing from response"}
	}
	q, err := c.toQuote(symbol, data)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, q, c.quoteTTL)
	return &q, nil
}

// GetListings returns the top limit coins by market cap.
func (c *RestClient) GetListings(ctx context.Context, limit int) ([]Quote, error) {
	if limit <= 0 {
		limit = 100
	}
	key := "listings:" + strconv.Itoa(limit)
	if v, ok := c.cache.Get(key); ok {
		return append([]Quote(nil), v.([]Quote)...), nil
	}

	var result listingsResponse
	req := c.client.R().
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetQueryParam("convert", convert).
		SetResult(&result)

	if _, err := c.doRequest(ctx, listingsPath, req); err != nil {
		c.logger.Error("Failed to get listings", zap.Int("limit", limit), zap.Error(err))
		return nil, &FetchError{Op: "listings", Err: err}
	}
	if result.Status.ErrorCode != 0 {
		return nil, &FetchError{Op: "listings", Err: fmt.Errorf("provider error %d: %s", result.Status.ErrorCode, result.Status.ErrorMessage)}
	}

	quotes := make([]Quote, 0, len(result.Data))
	for _, d := range result.Data {
		q, err := c.toQuote(d.Symbol, d)
		if err != nil {
			c.logger.Warn("Skipping malformed listing", zap.String("symbol", d.Symbol), zap.Error(err))
			continue
		}
		quotes = append(quotes, q)
	}

	c.cache.Set(key, quotes, c.listingTTL)
	return append([]Quote(nil), quotes...), nil
}

func (c *RestClient) toQuote(symbol string, d coinData) (Quote, error) {
	usd, ok := d.Quote[convert]
	if !ok {
		return Quote{}, &FeatureExtractionError{Symbol: symbol, Reason: "USD quote missing"}
	}
	if usd.Price == nil || *usd.Price <= 0 {
		return Quote{}, &FeatureExtractionError{Symbol: symbol, Reason: "price missing or not positive"}
	}

	q := Quote{
		Symbol: symbol,
		Name:   d.Name,
		Features: models.Features{
			Price:            *usd.Price,
			PercentChange1h:  usd.PercentChange1h,
			PercentChange24h: usd.PercentChange24h,
			PercentChange7d:  usd.PercentChange7d,
			PercentChange30d: usd.PercentChange30d,
			PercentChange60d: usd.PercentChange60d,
			PercentChange90d: usd.PercentChange90d,
			MarketCap:        usd.MarketCap,
			Volume24h:        usd.Volume24h,
			VolumeChange24h:  usd.VolumeChange24h,
		},
		FetchedAt: c.now().UTC(),
	}
	if ts, err := time.Parse(time.RFC3339, usd.LastUpdated); err == nil {
		q.LastUpdated = ts
	}
	return q, nil
}
