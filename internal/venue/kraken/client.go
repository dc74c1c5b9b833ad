// Package kraken implements the Kraken spot REST venue.
package kraken

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

// Config holds the Kraken client parameters.
type Config struct {
	BaseURL   string
	ApiKey    string
	ApiSecret string
}

// Client is the REST client for the Kraken spot API. It implements
// domain.Venue.
type Client struct {
	baseURL    string
	auth       *crypto.KrakenAuth
	httpClient *http.Client
	logger     *slog.Logger
	limiter    domain.RateLimiter
}

// NewClient creates a new Kraken REST client. Order submission requires
// ApiKey and ApiSecret; price reads work without credentials.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    &crypto.KrakenAuth{Key: cfg.ApiKey, Secret: cfg.ApiSecret},
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With(slog.String("venue", "kraken")),
	}
}

// SetRateLimiter attaches a rate limiter consulted before each request.
// Limiter failures are ignored so a Redis outage never blocks trading.
func (c *Client) SetRateLimiter(rl domain.RateLimiter) {
	c.limiter = rl
}

// Name returns the venue identifier.
func (c *Client) Name() string {
	return "kraken"
}

// GetPrice returns the last trade price for pair, retrying transient
// failures with backoff.
func (c *Client) GetPrice(ctx context.Context, pair domain.Pair) (float64, error) {
	symbol := Symbol(pair)
	path := "/0/public/Ticker?pair=" + url.QueryEscape(symbol)

	var price float64
	err := venue.Retry(ctx, 3, 250*time.Millisecond, func() error {
		body, err := c.doPublic(ctx, path)
		if err != nil {
			return err
		}

		var resp struct {
			Error  []string `json:"error"`
			Result map[string]struct {
				C []string `json:"c"` // last trade [price, volume]
			} `json:"result"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("decode ticker: %w", err)
		}
		if err := krakenError(resp.Error); err != nil {
			return err
		}

		// Kraken keys the result by its own asset-pair spelling, which does
		// not always match the requested one; take the single entry.
		for _, t := range resp.Result {
			if len(t.C) == 0 {
				return fmt.Errorf("ticker missing last trade")
			}
			price, err = strconv.ParseFloat(t.C[0], 64)
			if err != nil {
				return fmt.Errorf("parse price %q: %w", t.C[0], err)
			}
			return nil
		}
		return fmt.Errorf("empty ticker result")
	})
	if err != nil {
		return 0, fmt.Errorf("kraken: get price %s: %w", symbol, err)
	}
	return price, nil
}

// SubmitOrder places an immediate-or-cancel limit order and returns nil only
// when Kraken accepts it. Exchange-side rejections surface as
// domain.ErrOrderRejected.
func (c *Client) SubmitOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, amount float64) error {
	symbol := Symbol(pair)
	nonce := strconv.FormatInt(time.Now().UnixNano(), 10)

	form := url.Values{}
	form.Set("nonce", nonce)
	form.Set("pair", symbol)
	form.Set("type", string(side))
	form.Set("ordertype", "limit")
	form.Set("price", formatAmount(price))
	form.Set("volume", formatAmount(amount))
	form.Set("timeinforce", "IOC")

	const path = "/0/private/AddOrder"
	body, err := c.doPrivate(ctx, path, nonce, form.Encode())
	if err != nil {
		return fmt.Errorf("kraken: submit %s %s: %w", side, symbol, err)
	}

	var resp struct {
		Error  []string `json:"error"`
		Result struct {
			TxID []string `json:"txid"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("kraken: decode order response: %w", err)
	}
	if err := krakenError(resp.Error); err != nil {
		return fmt.Errorf("kraken: submit %s %s: %w", side, symbol, err)
	}
	if len(resp.Result.TxID) == 0 {
		return fmt.Errorf("kraken: submit %s %s: no txid returned: %w", side, symbol, domain.ErrOrderRejected)
	}

	c.logger.Info("order placed",
		slog.String("txid", resp.Result.TxID[0]),
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("amount", amount),
	)
	return nil
}

// Symbol converts a pair to the Kraken asset-pair form. Kraken spells Bitcoin
// XBT ("BTC/USDT" -> "XBTUSDT").
func Symbol(pair domain.Pair) string {
	base := pair.Base()
	if base == "BTC" {
		base = "XBT"
	}
	quote := pair.Quote()
	if quote == "BTC" {
		quote = "XBT"
	}
	return base + quote
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doPublic(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.send(ctx, req)
}

func (c *Client) doPrivate(ctx context.Context, path, nonce, postData string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(postData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range c.auth.Headers(path, nonce, postData) {
		req.Header.Set(k, v)
	}
	return c.send(ctx, req)
}

func (c *Client) send(ctx context.Context, req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		if allowed, err := c.limiter.Allow(ctx, "venue:kraken", 60, time.Minute); err == nil && !allowed {
			return nil, fmt.Errorf("local limit: %w", domain.ErrRateLimited)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP 429: %w", domain.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// krakenError maps the error strings Kraken embeds in 200 responses onto
// domain errors.
func krakenError(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	msg := strings.Join(errs, "; ")
	switch {
	case strings.Contains(msg, "EAPI:Rate limit"), strings.Contains(msg, "EOrder:Rate limit"):
		return fmt.Errorf("%s: %w", msg, domain.ErrRateLimited)
	case strings.Contains(msg, "EAPI:Invalid key"), strings.Contains(msg, "EAPI:Invalid signature"), strings.Contains(msg, "EAPI:Invalid nonce"):
		return fmt.Errorf("%s: %w", msg, domain.ErrUnauthorized)
	case strings.HasPrefix(msg, "EOrder:"):
		return fmt.Errorf("%s: %w", msg, domain.ErrOrderRejected)
	default:
		return fmt.Errorf("kraken error: %s", msg)
	}
}

// formatAmount renders a float without trailing zeros, the way the exchange
// expects quantities and prices.
func formatAmount(v float64) string {
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 8, 64), "0"), ".")
}

var _ domain.Venue = (*Client)(nil)
