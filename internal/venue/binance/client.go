// Package binance implements the Binance spot REST venue.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjanssen/arbot/internal/crypto"
	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/venue"
)

// Config holds the Binance client parameters.
type Config struct {
	BaseURL   string
	ApiKey    string
	ApiSecret string
}

// Client is the REST client for the Binance spot API. It implements
// domain.Venue.
type Client struct {
	baseURL    string
	auth       *crypto.BinanceAuth
	httpClient *http.Client
	logger     *slog.Logger
	limiter    domain.RateLimiter
}

// NewClient creates a new Binance REST client. Order submission requires
// ApiKey and ApiSecret; price reads work without credentials.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    &crypto.BinanceAuth{Key: cfg.ApiKey, Secret: cfg.ApiSecret},
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With(slog.String("venue", "binance")),
	}
}

// SetRateLimiter attaches a rate limiter consulted before each request.
// Limiter failures are ignored so a Redis outage never blocks trading.
func (c *Client) SetRateLimiter(rl domain.RateLimiter) {
	c.limiter = rl
}

// Name returns the venue identifier.
func (c *Client) Name() string {
	return "binance"
}

// GetPrice returns the latest trade price for pair, retrying transient
// failures with backoff.
func (c *Client) GetPrice(ctx context.Context, pair domain.Pair) (float64, error) {
	symbol := Symbol(pair)
	path := "/api/v3/ticker/price?symbol=" + url.QueryEscape(symbol)

	var price float64
	err := venue.Retry(ctx, 3, 250*time.Millisecond, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, path, "", false)
		if err != nil {
			return err
		}

		var resp struct {
			Symbol string `json:"symbol"`
			Price  string `json:"price"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("decode ticker: %w", err)
		}

		price, err = strconv.ParseFloat(resp.Price, 64)
		if err != nil {
			return fmt.Errorf("parse price %q: %w", resp.Price, err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("binance: get price %s: %w", symbol, err)
	}
	return price, nil
}

// SubmitOrder places an immediate-or-cancel limit order and returns nil only
// when the full amount filled. Partial or zero fills surface as
// domain.ErrOrderRejected so the caller never carries a silent leftover.
func (c *Client) SubmitOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, amount float64) error {
	symbol := Symbol(pair)

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "IOC")
	params.Set("quantity", formatAmount(amount))
	params.Set("price", formatAmount(price))
	params.Set("newOrderRespType", "RESULT")

	query := c.auth.SignedQuery(params.Encode())

	body, err := c.doRequest(ctx, http.MethodPost, "/api/v3/order?"+query, "", true)
	if err != nil {
		return fmt.Errorf("binance: submit %s %s: %w", side, symbol, err)
	}

	var resp struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("binance: decode order response: %w", err)
	}

	if resp.Status != "FILLED" {
		c.logger.Warn("order not fully filled",
			slog.Int64("order_id", resp.OrderID),
			slog.String("status", resp.Status),
			slog.String("executed_qty", resp.ExecutedQty),
		)
		return fmt.Errorf("binance: order %d status %s: %w", resp.OrderID, resp.Status, domain.ErrOrderRejected)
	}

	c.logger.Info("order filled",
		slog.Int64("order_id", resp.OrderID),
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("amount", amount),
	)
	return nil
}

// Symbol converts a pair to the Binance symbol form ("BTC/USDT" -> "BTCUSDT").
func Symbol(pair domain.Pair) string {
	return pair.Base() + pair.Quote()
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest sends an HTTP request and reads the response body. When signed is
// true the API key header is attached.
func (c *Client) doRequest(ctx context.Context, method, path, body string, signed bool) ([]byte, error) {
	if c.limiter != nil {
		if allowed, err := c.limiter.Allow(ctx, "venue:binance", 1200, time.Minute); err == nil && !allowed {
			return nil, fmt.Errorf("local limit: %w", domain.ErrRateLimited)
		}
	}

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		for k, v := range c.auth.Headers() {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("HTTP %d code %d: %s: %w", statusCode, apiErr.Code, apiErr.Message, domain.ErrUnauthorized)
	case http.StatusTooManyRequests, http.StatusTeapot: // 418 is the Binance auto-ban status
		return fmt.Errorf("HTTP %d code %d: %s: %w", statusCode, apiErr.Code, apiErr.Message, domain.ErrRateLimited)
	case http.StatusBadRequest:
		return fmt.Errorf("HTTP 400 code %d: %s: %w", apiErr.Code, apiErr.Message, domain.ErrOrderRejected)
	default:
		return fmt.Errorf("HTTP %d code %d: %s", statusCode, apiErr.Code, apiErr.Message)
	}
}

// formatAmount renders a float without trailing zeros, the way the exchange
// expects quantities and prices.
func formatAmount(v float64) string {
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 8, 64), "0"), ".")
}

var _ domain.Venue = (*Client)(nil)
