// Package sign implements the per-venue request signing strategies. Every
// function here is pure in (parameters, secret, timestamp/nonce) so signatures
// can be verified without network access.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// HMACSHA256Hex signs payload with secret and returns the hex digest. This is
// the Binance-style primitive applied to the urlencoded query/body.
func HMACSHA256Hex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACSHA256Base64 signs payload with a raw secret and returns the base64 digest.
func HMACSHA256Base64(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// TimestampSign builds the timestamp+method+path+body message and signs it with
// HMAC-SHA256, base64 output. OKX uses the secret raw.
func TimestampSign(secret, timestamp, method, path, body string) string {
	return HMACSHA256Base64(secret, timestamp+method+path+body)
}

// TimestampSignDecodedSecret is the Coinbase variant of TimestampSign: the
// secret is base64-decoded before keying the HMAC.
func TimestampSignDecodedSecret(secretB64, timestamp, method, path, body string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return "", fmt.Errorf("decode signing secret: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// BybitSign signs timestamp+apiKey+recvWindow+queryOrBody with HMAC-SHA256 hex.
func BybitSign(secret, timestamp, apiKey, recvWindow, queryOrBody string) string {
	return HMACSHA256Hex(secret, timestamp+apiKey+recvWindow+queryOrBody)
}

// KrakenSign implements the nonce+double-hash scheme: SHA256 of
// nonce+urlencoded(params), then HMAC-SHA512 keyed with the base64-decoded
// secret over path+hash, base64-encoded.
func KrakenSign(secretB64, path, nonce string, params url.Values) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return "", fmt.Errorf("decode signing secret: %w", err)
	}
	inner := sha256.Sum256([]byte(nonce + params.Encode()))
	mac := hmac.New(sha512.New, key)
	_, _ = mac.Write([]byte(path))
	_, _ = mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// NonceSource issues strictly increasing nonces for one credential set. The
// venue rejects replayed or out-of-order nonces, so concurrent signed requests
// must serialize nonce generation through this counter.
type NonceSource struct {
	mu    sync.Mutex
	last  int64
	clock func() time.Time
}

// NewNonceSource creates a nonce source seeded from the wall clock.
func NewNonceSource(clock func() time.Time) *NonceSource {
	if clock == nil {
		clock = time.Now
	}
	return &NonceSource{clock: clock}
}

// Next returns a nonce strictly greater than every nonce issued before it,
// even when the clock stalls or steps backwards.
func (n *NonceSource) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	candidate := n.clock().UnixMilli()
	if candidate <= n.last {
		candidate = n.last + 1
	}
	n.last = candidate
	return candidate
}
