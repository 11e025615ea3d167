package coinmarketcap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"crypto-signal-bot-go/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const btcResponse = `{
  "status": {"error_code": 0, "error_message": null},
  "data": {
    "BTC": {
      "id": 1,
      "name": "Bitcoin",
      "symbol": "BTC",
      "quote": {
        "USD": {
          "price": 64000.5,
          "volume_24h": 31000000000,
          "volume_change_24h": -4.2,
          "percent_change_1h": 0.35,
          "percent_change_24h": 2.1,
          "percent_change_7d": -1.5,
          "percent_change_30d": 8.4,
          "percent_change_60d": 12.0,
          "percent_change_90d": 20.5,
          "market_cap": 1260000000000,
          "last_updated": "2024-05-01T12:00:00.000Z"
        }
      }
    }
  }
}`

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	client := resty.New().
		SetBaseURL(server.URL).
		SetHeader(apiKeyHeader, "test_api_key")

	rc := &RestClient{
		client:       client,
		apiKey:       "test_api_key",
		logger:       zap.NewNop(),
		limiter:      rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
		cache:        NewTTLCache(),
		retryBackoff: time.Millisecond,
		quoteTTL:     10 * time.Second,
		listingTTL:   time.Minute,
		now:          time.Now,
	}

	return rc, server
}

func TestNewRestClient(t *testing.T) {
	t.Run("MissingAPIKey", func(t *testing.T) {
		rc, err := NewRestClient(&config.CoinMarketCap{ApiKey: "  "}, zap.NewNop())
		assert.Nil(t, rc)
		assert.ErrorIs(t, err, config.ErrMissingAPIKey)
	})

	t.Run("Success", func(t *testing.T) {
		cfg := &config.CoinMarketCap{
			ApiKey:     "key",
			BaseURL:    "https://example.invalid",
			RateLimit:  30,
			RateWindow: time.Minute,
			Timeout:    time.Second,
		}
		rc, err := NewRestClient(cfg, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "key", rc.apiKey)
		assert.Equal(t, rate.Every(2*time.Second), rc.limiter.Limit())
		assert.Equal(t, 1, rc.limiter.Burst())
	})
}

func TestGetQuote(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, quotesPath, r.URL.Path)
			assert.Equal(t, "BTC", r.URL.Query().Get("symbol"))
			assert.Equal(t, "USD", r.URL.Query().Get("convert"))
			assert.Equal(t, "test_api_key", r.Header.Get(apiKeyHeader))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(btcResponse))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		q, err := rc.GetQuote(context.Background(), "btc")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "BTC", q.Symbol)
		assert.Equal(t, "Bitcoin", q.Name)
		assert.Equal(t, 64000.5, q.Price)
		assert.Equal(t, 0.35, q.PercentChange1h)
		assert.Equal(t, 2.1, q.PercentChange24h)
		assert.Equal(t, -1.5, q.PercentChange7d)
		assert.Equal(t, 20.5, q.PercentChange90d)
		assert.Equal(t, 31000000000.0, q.Volume24h)
		assert.Equal(t, 2024, q.LastUpdated.Year())
		assert.False(t, q.FetchedAt.IsZero())
	})

	t.Run("ServedFromCache", func(t *testing.T) {
		// Arrange
		var hits int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			_, _ = w.Write([]byte(btcResponse))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()
		now := time.Now()
		rc.cache.now = func() time.Time { return now }

		// Act
		_, err1 := rc.GetQuote(context.Background(), "BTC")
		_, err2 := rc.GetQuote(context.Background(), "BTC")
		now = now.Add(11 * time.Second)
		_, err3 := rc.GetQuote(context.Background(), "BTC")

		// Assert
		require.NoError(t, err1)
		require.NoError(t, err2)
		require.NoError(t, err3)
		assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	})

	t.Run("RetriesOnceThenSucceeds", func(t *testing.T) {
		var hits int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&hits, 1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(btcResponse))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		q, err := rc.GetQuote(context.Background(), "BTC")

		require.NoError(t, err)
		assert.Equal(t, 64000.5, q.Price)
		assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	})

	t.Run("FailsAfterSingleRetry", func(t *testing.T) {
		var hits int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		q, err := rc.GetQuote(context.Background(), "BTC")

		assert.Nil(t, q)
		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, "quote", fetchErr.Op)
		assert.Equal(t, "BTC", fetchErr.Symbol)
		assert.Contains(t, err.Error(), "request failed")
		assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	})

	t.Run("ClientErrorIsNotRetried", func(t *testing.T) {
		var hits int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":{"error_code":1002,"error_message":"API key missing."}}`))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.GetQuote(context.Background(), "BTC")

		var fetchErr *FetchError
		assert.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"SymbolMissing", `{"status":{"error_code":0},"data":{}}`},
			{"USDMissing", `{"status":{"error_code":0},"data":{"BTC":{"symbol":"BTC","quote":{}}}}`},
			{"PriceNull", `{"status":{"error_code":0},"data":{"BTC":{"symbol":"BTC","quote":{"USD":{"price":null}}}}}`},
			{"PriceZero", `{"status":{"error_code":0},"data":{"BTC":{"symbol":"BTC","quote":{"USD":{"price":0}}}}}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write([]byte(tt.body))
				})
				rc, server := setupTestServer(handler)
				defer server.Close()

				_, err := rc.GetQuote(context.Background(), "BTC")

				var extractErr *FeatureExtractionError
				assert.True(t, errors.As(err, &extractErr))
				assert.Equal(t, 0, rc.cache.Len())
			})
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(btcResponse))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := rc.GetQuote(ctx, "BTC")

		assert.Error(t, err)
	})
}

func TestRateLimiterSpacesRequests(t *testing.T) {
	// Arrange
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sym := r.URL.Query().Get("symbol")
		body := fmt.Sprintf(`{"status":{"error_code":0},"data":{%q:{"symbol":%q,"quote":{"USD":{"price":1}}}}}`, sym, sym)
		_, _ = w.Write([]byte(body))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()
	rc.limiter = rate.NewLimiter(rate.Every(50*time.Millisecond), 1)

	// Act
	start := time.Now()
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		_, err := rc.GetQuote(context.Background(), sym)
		require.NoError(t, err)
	}

	// Assert
	assert.GreaterOrEqual(t, time.Since(start), 95*time.Millisecond)
}

func TestGetListings(t *testing.T) {
	var hits int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, listingsPath, r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"status":{"error_code":0},"data":[
			{"name":"Bitcoin","symbol":"BTC","quote":{"USD":{"price":64000,"percent_change_24h":1.5}}},
			{"name":"Broken","symbol":"BRK","quote":{}},
			{"name":"Ethereum","symbol":"ETH","quote":{"USD":{"price":3100,"percent_change_24h":-0.5}}}
		]}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	listings, err := rc.GetListings(context.Background(), 2)
	require.NoError(t, err)
	again, err := rc.GetListings(context.Background(), 2)
	require.NoError(t, err)

	require.Len(t, listings, 2)
	assert.Equal(t, "BTC", listings[0].Symbol)
	assert.Equal(t, "ETH", listings[1].Symbol)
	assert.Equal(t, -0.5, listings[1].PercentChange24h)
	assert.Equal(t, listings, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestTTLCache(t *testing.T) {
	c := NewTTLCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("a", 1, time.Second)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = c.Get("b")
	assert.False(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
