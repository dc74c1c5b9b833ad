package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// BinanceAuth holds the credentials required for signed Binance REST requests.
type BinanceAuth struct {
	Key    string // API key
	Secret string // API secret (raw bytes as issued)
}

// SignedQuery appends the current millisecond timestamp and the request
// signature to a query string. The signature is HMAC-SHA256(secret, query)
// encoded as lowercase hex, per the Binance signed-endpoint scheme.
func (a *BinanceAuth) SignedQuery(query string) string {
	return a.SignedQueryAt(query, time.Now().UnixMilli())
}

// SignedQueryAt is like SignedQuery but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (a *BinanceAuth) SignedQueryAt(query string, unixMS int64) string {
	q := query
	if q != "" {
		q += "&"
	}
	q += "timestamp=" + strconv.FormatInt(unixMS, 10)

	sig := hmacSHA256Hex([]byte(a.Secret), q)
	return q + "&signature=" + sig
}

// Headers returns the HTTP headers for a signed Binance request.
//
// Returned header keys:
//   - X-MBX-APIKEY
func (a *BinanceAuth) Headers() map[string]string {
	return map[string]string{
		"X-MBX-APIKEY": a.Key,
	}
}

// String returns a redacted representation suitable for logging.
func (a *BinanceAuth) String() string {
	return fmt.Sprintf("BinanceAuth{key=%s, secret=%s}", redactCred(a.Key), redactCred(a.Secret))
}

// KrakenAuth holds the credentials required for signed Kraken REST requests.
type KrakenAuth struct {
	Key    string // API key
	Secret string // API secret (base64-encoded, as issued by Kraken)
}

// Sign computes the API-Sign value for a private Kraken endpoint:
//
//	base64(HMAC-SHA512(base64decode(secret), path || SHA256(nonce || postData)))
//
// The nonce must also appear inside postData; Kraken rejects mismatches.
func (a *KrakenAuth) Sign(path, nonce, postData string) string {
	secretBytes, err := base64.StdEncoding.DecodeString(a.Secret)
	if err != nil {
		// If decoding fails, fall back to raw bytes so the caller gets an
		// obviously-wrong signature rather than a panic.
		secretBytes = []byte(a.Secret)
	}

	inner := sha256.Sum256([]byte(nonce + postData))

	mac := hmac.New(sha512.New, secretBytes)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Headers returns the HTTP headers for a signed Kraken request.
//
// Returned header keys:
//   - API-Key
//   - API-Sign
func (a *KrakenAuth) Headers(path, nonce, postData string) map[string]string {
	return map[string]string{
		"API-Key":  a.Key,
		"API-Sign": a.Sign(path, nonce, postData),
	}
}

// String returns a redacted representation suitable for logging.
func (a *KrakenAuth) String() string {
	return fmt.Sprintf("KrakenAuth{key=%s, secret=%s}", redactCred(a.Key), redactCred(a.Secret))
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result as a lowercase hex string.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// redactCred keeps the first four characters of a credential for log
// correlation and masks the rest.
func redactCred(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
