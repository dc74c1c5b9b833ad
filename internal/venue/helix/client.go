// Package helix implements the Helix (Injective DEX) venue. Prices come from
// the chain LCD API; orders are signed as EIP-712 typed data with the wallet
// key and posted to the exchange gateway.
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kjanssen/arbot/internal/crypto"
	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/venue"
)

// Config holds the Helix client parameters.
type Config struct {
	BaseURL string
	// MarketIDs maps a trading pair to the hex spot market ID on chain.
	MarketIDs map[string]string
}

// Client is the REST client for Helix. It implements domain.Venue.
type Client struct {
	baseURL    string
	marketIDs  map[string]string
	signer     *crypto.Signer
	httpClient *http.Client
	logger     *slog.Logger
	limiter    domain.RateLimiter
}

// NewClient creates a new Helix client. signer may be nil for price-only use;
// SubmitOrder then fails with domain.ErrSigningFailed.
func NewClient(cfg Config, signer *crypto.Signer, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		marketIDs: cfg.MarketIDs,
		signer:    signer,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With(slog.String("venue", "helix")),
	}
}

// SetRateLimiter attaches a rate limiter consulted before each request.
func (c *Client) SetRateLimiter(rl domain.RateLimiter) {
	c.limiter = rl
}

// Name returns the venue identifier.
func (c *Client) Name() string {
	return "helix"
}

// GetPrice returns the order book mid price for pair, retrying transient
// failures with backoff.
func (c *Client) GetPrice(ctx context.Context, pair domain.Pair) (float64, error) {
	marketID, err := c.marketID(pair)
	if err != nil {
		return 0, err
	}

	path := "/injective/exchange/v1beta1/spot/mid_price_and_tob/" + marketID

	var price float64
	err = venue.Retry(ctx, 3, 500*time.Millisecond, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}

		var resp struct {
			MidPrice      string `json:"mid_price"`
			BestBuyPrice  string `json:"best_buy_price"`
			BestSellPrice string `json:"best_sell_price"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("decode mid price: %w", err)
		}
		if resp.MidPrice == "" {
			return fmt.Errorf("empty order book")
		}

		price, err = strconv.ParseFloat(resp.MidPrice, 64)
		if err != nil {
			return fmt.Errorf("parse mid price %q: %w", resp.MidPrice, err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("helix: get price %s: %w", pair, err)
	}
	return price, nil
}

// SubmitOrder signs a spot limit order with the wallet key and posts it to
// the exchange gateway. nil means the order was accepted.
func (c *Client) SubmitOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, amount float64) error {
	if c.signer == nil {
		return fmt.Errorf("helix: no wallet signer configured: %w", domain.ErrSigningFailed)
	}

	marketID, err := c.marketID(pair)
	if err != nil {
		return err
	}

	orderType := crypto.OrderTypeBuy
	if side == domain.SideSell {
		orderType = crypto.OrderTypeSell
	}

	payload := crypto.SpotOrderPayload{
		MarketID:     marketID,
		SubaccountID: c.signer.DefaultSubaccount(),
		FeeRecipient: c.signer.Address().Hex(),
		Price:        toFixed18(price),
		Quantity:     toFixed18(amount),
		Nonce:        strconv.FormatInt(time.Now().UnixNano(), 10),
		Expiration:   strconv.FormatInt(time.Now().Add(30*time.Second).Unix(), 10),
		OrderType:    orderType,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return fmt.Errorf("helix: submit %s %s: %w", side, pair, err)
	}
	orderHash, err := c.signer.OrderHash(payload)
	if err != nil {
		return fmt.Errorf("helix: submit %s %s: %w", side, pair, err)
	}

	reqBody := struct {
		Order     crypto.SpotOrderPayload `json:"order"`
		Signature string                  `json:"signature"`
	}{Order: payload, Signature: sig}

	body, err := c.doRequest(ctx, http.MethodPost, "/api/exchange/spot/v1/orders", reqBody)
	if err != nil {
		return fmt.Errorf("helix: submit %s %s: %w", side, pair, err)
	}

	var resp struct {
		OrderHash string `json:"order_hash"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("helix: decode order response: %w", err)
	}

	c.logger.Info("order placed",
		slog.String("order_hash", orderHash),
		slog.String("pair", pair.String()),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("amount", amount),
	)
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) marketID(pair domain.Pair) (string, error) {
	id, ok := c.marketIDs[pair.String()]
	if !ok {
		return "", fmt.Errorf("helix: no market id configured for %s: %w", pair, domain.ErrNotFound)
	}
	return id, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	if c.limiter != nil {
		if allowed, err := c.limiter.Allow(ctx, "venue:helix", 120, time.Minute); err == nil && !allowed {
			return nil, fmt.Errorf("local limit: %w", domain.ErrRateLimited)
		}
	}

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

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
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("HTTP 404: %s: %w", apiErr.Message, domain.ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("HTTP 429: %s: %w", apiErr.Message, domain.ErrRateLimited)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, apiErr.Message, domain.ErrOrderRejected)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, apiErr.Message)
	}
}

var fixed18 = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// toFixed18 converts a float into the 1e18 fixed-point decimal string the
// chain expects. 128-bit precision keeps the product exact for any float64.
func toFixed18(v float64) string {
	f := new(big.Float).SetPrec(128).SetFloat64(v)
	f.Mul(f, fixed18)
	i, _ := f.Int(nil)
	return i.String()
}

var _ domain.Venue = (*Client)(nil)
