// Package gateway talks to the Cryptomus payment API: it issues signed
// invoices and verifies signed settlement notifications.
package gateway

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"creditgate/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrUnavailable      = errors.New("payment gateway unavailable")
	ErrInvalidSignature = errors.New("invalid notification signature")
	ErrMalformedPayload = errors.New("malformed notification payload")
)

const (
	minLifetime = 5 * time.Minute
	maxLifetime = 12 * time.Hour
)

// InvoiceRequest is what the caller wants billed.
type InvoiceRequest struct {
	OrderID string
	Amount  decimal.Decimal
}

// Invoice is the gateway's answer to a successful create call.
type Invoice struct {
	UUID      string
	URL       string
	ExpiredAt time.Time
}

type createInvoiceBody struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	URLCallback string `json:"url_callback,omitempty"`
	Lifetime    int    `json:"lifetime,omitempty"`
}

type createInvoiceReply struct {
	State   int             `json:"state"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type invoiceResult struct {
	UUID      string `json:"uuid"`
	URL       string `json:"url"`
	ExpiredAt int64  `json:"expired_at"`
}

// Client is a Cryptomus merchant API client.
type Client struct {
	baseURL     string
	merchantID  string
	apiKey      string
	callbackURL string
	currency    string
	lifetime    time.Duration
	httpClient  *http.Client
	log         *zap.Logger
}

func NewClient(cfg *config.GatewayConfig, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		merchantID:  cfg.MerchantID,
		apiKey:      cfg.APIKey,
		callbackURL: cfg.CallbackURL,
		currency:    currency,
		lifetime:    cfg.Lifetime,
		httpClient:  &http.Client{Timeout: timeout},
		log:         log,
	}
}

// Sign computes hex(md5(base64(body) + apiKey)).
func Sign(body []byte, apiKey string) string {
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(body) + apiKey))
	return hex.EncodeToString(sum[:])
}

// Lifetime is the invoice validity actually requested from the gateway.
func (c *Client) Lifetime() time.Duration {
	lt := c.lifetime
	if lt <= 0 {
		return 0
	}
	if lt < minLifetime {
		lt = minLifetime
	}
	if lt > maxLifetime {
		lt = maxLifetime
	}
	return lt
}

// CreateInvoice issues a payment invoice. Every failure (transport, non-2xx,
// non-zero state, missing URL) is reported as ErrUnavailable.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	body, err := encode(createInvoiceBody{
		Amount:      req.Amount.String(),
		Currency:    c.currency,
		OrderID:     req.OrderID,
		URLCallback: c.callbackURL,
		Lifetime:    int(c.Lifetime() / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("encode invoice: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("merchant", c.merchantID)
	httpReq.Header.Set("sign", Sign(body, c.apiKey))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("gateway rejected invoice",
			zap.String("order_id", req.OrderID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(raw, 512)))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var reply createInvoiceReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if reply.State != 0 {
		return nil, fmt.Errorf("%w: state %d: %s", ErrUnavailable, reply.State, reply.Message)
	}
	var result invoiceResult
	if err := json.Unmarshal(reply.Result, &result); err != nil || result.URL == "" {
		return nil, fmt.Errorf("%w: response has no payment url", ErrUnavailable)
	}

	inv := &Invoice{UUID: result.UUID, URL: result.URL}
	if result.ExpiredAt > 0 {
		inv.ExpiredAt = time.Unix(result.ExpiredAt, 0)
	}
	return inv, nil
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// SecretMatches compares a webhook path secret in constant time.
func SecretMatches(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
