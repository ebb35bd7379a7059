package coingecko

// Package coingecko contains the client for the CoinGecko price API.
// Transport layer only - it fetches spot prices, 24h changes and token
// metadata; it knows nothing about guilds or presence.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/0xflawless/TickerBot/internal/infra/log"
	"github.com/0xflawless/TickerBot/internal/infra/ratelimit"
	"github.com/0xflawless/TickerBot/internal/infra/retry"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DefaultBaseURL is the public CoinGecko v3 API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// ErrTokenNotFound marks a token id the API does not know. It is
// unrecoverable: callers must not retry and the scheduler drops the
// token from tracking.
var ErrTokenNotFound = errors.New("token not found in price response")

// Options configures the client. Zero values fall back to defaults.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration // per-request bound, default 10s
	MaxRetries     int           // retries after the first attempt
	RetryDelay     time.Duration // fixed delay between attempts
}

// Client is the CoinGecko API client. All instances sharing a limiter
// share one request budget, which is how the whole process stays under
// the public API's rate limit.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	limiter         *ratelimit.Window
	circuitBreaker  *gobreaker.CircuitBreaker
	retryOpts       retry.Options
	maxResponseSize int64
}

func NewClient(opts Options, limiter *ratelimit.Window) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	circuitBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "CoinGeckoAPI",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		baseURL:        baseURL,
		limiter:        limiter,
		circuitBreaker: circuitBreaker,
		retryOpts: retry.Options{
			MaxRetries: maxRetries,
			Delay:      retryDelay,
			MaxDelay:   time.Minute,
		},
		maxResponseSize: 10 * 1024 * 1024,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// makeRequest performs a GET with rate limiting, retry and circuit
// breaking. Each attempt acquires the shared window budget first.
func (c *Client) makeRequest(ctx context.Context, endpoint string) ([]byte, error) {
	var respBody []byte

	err := retry.Do(ctx, c.retryOpts, func() error {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return err
			}
		}

		body, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.doRequest(ctx, endpoint)
		})
		if err != nil {
			return err
		}
		respBody = body.([]byte)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return respBody, nil
}

// doRequest is a single attempt. Bad statuses come back as typed
// *retry.HTTPError so the retry policy can tell 429/5xx apart from
// terminal failures.
func (c *Client) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	requestID := log.GenerateRequestID()
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	log.LogRequest(requestID, http.MethodGet, endpoint, zap.String("url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		duration := time.Since(startTime).Milliseconds()
		log.LogResponse(requestID, 0, duration, zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	limitedReader := io.LimitReader(resp.Body, c.maxResponseSize)
	respBody, err := io.ReadAll(limitedReader)
	if err != nil {
		duration := time.Since(startTime).Milliseconds()
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	duration := time.Since(startTime).Milliseconds()
	log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return respBody, nil
}

// IsNotFound reports whether err means the token id does not exist on
// the API side (either our sentinel or an HTTP 404).
func IsNotFound(err error) bool {
	if errors.Is(err, ErrTokenNotFound) {
		return true
	}
	var he *retry.HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}

type simplePriceEntry struct {
	USD          float64  `json:"usd"`
	USD24hChange *float64 `json:"usd_24h_change"`
}

// SimplePrice returns the spot USD price for a token id.
func (c *Client) SimplePrice(ctx context.Context, tokenID string) (float64, error) {
	price, _, err := c.simplePrice(ctx, tokenID, false)
	return price, err
}

// SimplePriceWithChange returns the spot USD price and the 24h change
// in percent. The change is nil when the API omits it for the token.
func (c *Client) SimplePriceWithChange(ctx context.Context, tokenID string) (price float64, change24h *float64, err error) {
	return c.simplePrice(ctx, tokenID, true)
}

func (c *Client) simplePrice(ctx context.Context, tokenID string, withChange bool) (float64, *float64, error) {
	params := url.Values{}
	params.Set("ids", tokenID)
	params.Set("vs_currencies", "usd")
	if withChange {
		params.Set("include_24hr_change", "true")
	}

	endpoint := "/simple/price?" + params.Encode()

	respBody, err := c.makeRequest(ctx, endpoint)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get price for %s: %w", tokenID, err)
	}

	var result map[string]simplePriceEntry
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, nil, fmt.Errorf("failed to unmarshal price response: %w", err)
	}

	entry, ok := result[tokenID]
	if !ok {
		return 0, nil, fmt.Errorf("%s: %w", tokenID, ErrTokenNotFound)
	}

	return entry.USD, entry.USD24hChange, nil
}

type coinInfo struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// VerifyToken checks a token id against the coin metadata endpoint.
// Single unretried lookup; returns the canonical symbol upper-cased.
// An unknown id is reported as (_, false, nil), not as an error.
func (c *Client) VerifyToken(ctx context.Context, tokenID string) (string, bool, error) {
	requestID := log.GenerateRequestID()
	startTime := time.Now()

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return "", false, err
		}
	}

	endpoint := "/coins/" + url.PathEscape(tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	log.LogRequest(requestID, http.MethodGet, endpoint, zap.String("url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		duration := time.Since(startTime).Milliseconds()
		log.LogResponse(requestID, 0, duration, zap.String("endpoint", endpoint), zap.Error(err))
		return "", false, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize))
	duration := time.Since(startTime).Milliseconds()
	log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint))
	if err != nil {
		return "", false, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var info coinInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal coin info: %w", err)
	}
	if info.Symbol == "" {
		return "", false, nil
	}

	return strings.ToUpper(info.Symbol), true, nil
}
