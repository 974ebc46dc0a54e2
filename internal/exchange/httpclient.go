package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"time"
)

// defaultHTTPTimeout is the per-call transport ceiling every adapter's HTTP
// client enforces; it is distinct from and tighter than slice_timeout_secs,
// which bounds the whole place_order call including venue-side matching.
const defaultHTTPTimeout = 10 * time.Second

// newHTTPClient returns an *http.Client configured with the shared transport
// timeout. Safe for concurrent use across all requests an adapter serves.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// doRequest executes a signed or unsigned HTTP call and returns the response
// body and status code. It does not interpret the body; each adapter decodes
// its own venue-specific envelope.
func doRequest(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// hmacSHA256Hex signs payload with secret under HMAC-SHA256 and returns the
// lowercase hex digest. Used by Binance, Bybit, BingX, CoinEx, LBank, MEXC.
func hmacSHA256Hex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// hmacSHA256Base64 signs payload with secret under HMAC-SHA256 and returns
// the base64 digest. Used by OKX, Bitget, KuCoin, HTX.
func hmacSHA256Base64(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// hmacSHA512Hex signs payload with secret under HMAC-SHA512 and returns the
// lowercase hex digest. Used by Gate.io only.
func hmacSHA512Hex(secret, payload string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// sha512Hex is Gate.io's embedded body digest: hex(SHA512(body)).
func sha512Hex(body string) string {
	sum := sha512.Sum512([]byte(body))
	return hex.EncodeToString(sum[:])
}
