package kraken

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjanssen/arbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestClient(url string) *Client {
	secret := base64.StdEncoding.EncodeToString([]byte("kraken-secret"))
	return NewClient(Config{BaseURL: url, ApiKey: "k", ApiSecret: secret}, testLogger())
}

func TestGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/Ticker", r.URL.Path)
		assert.Equal(t, "XBTUSDT", r.URL.Query().Get("pair"))
		// Kraken answers with its own pair spelling as the result key.
		io.WriteString(w, `{"error":[],"result":{"XXBTZUSD":{"c":["60123.4","0.015"]}}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	price, err := c.GetPrice(context.Background(), domain.Pair("BTC/USDT"))
	require.NoError(t, err)
	assert.Equal(t, 60123.4, price)
}

func TestGetPriceEmbeddedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":["EQuery:Unknown asset pair"],"result":{}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.GetPrice(context.Background(), domain.Pair("ZZZ/USDT"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "Unknown asset pair")
}

func TestSubmitOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/0/private/AddOrder", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("API-Key"))
		assert.NotEmpty(t, r.Header.Get("API-Sign"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ETHUSDT", r.PostForm.Get("pair"))
		assert.Equal(t, "buy", r.PostForm.Get("type"))
		assert.Equal(t, "limit", r.PostForm.Get("ordertype"))
		assert.Equal(t, "3000", r.PostForm.Get("price"))
		assert.Equal(t, "0.25", r.PostForm.Get("volume"))
		assert.NotEmpty(t, r.PostForm.Get("nonce"))

		json.NewEncoder(w).Encode(map[string]any{
			"error":  []string{},
			"result": map[string]any{"txid": []string{"OABC12-DEFGH-IJKLMN"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.SubmitOrder(context.Background(), domain.Pair("ETH/USDT"), domain.SideBuy, 3000, 0.25)
	require.NoError(t, err)
}

func TestSubmitOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":["EOrder:Insufficient funds"],"result":{}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.SubmitOrder(context.Background(), domain.Pair("ETH/USDT"), domain.SideSell, 3000, 0.25)
	require.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestSubmitOrderBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":["EAPI:Invalid key"],"result":{}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.SubmitOrder(context.Background(), domain.Pair("ETH/USDT"), domain.SideBuy, 3000, 0.25)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSymbol(t *testing.T) {
	assert.Equal(t, "XBTUSDT", Symbol(domain.Pair("BTC/USDT")))
	assert.Equal(t, "ETHUSDT", Symbol(domain.Pair("ETH/USDT")))
	assert.Equal(t, "ETHXBT", Symbol(domain.Pair("ETH/BTC")))
}
