package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"creditgate/internal/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "test-api-key"

func newTestClient(url string) *Client {
	return NewClient(&config.GatewayConfig{
		BaseURL:     url,
		MerchantID:  "merchant-1",
		APIKey:      testKey,
		CallbackURL: "https://bot.example.com/payment_webhook",
		Lifetime:    time.Hour,
		Timeout:     2 * time.Second,
	}, zap.NewNop())
}

func TestSignKnownVector(t *testing.T) {
	// md5(base64("{}") + "key") = md5("e30=key")
	assert.Equal(t, "5d804dfcbf33c7c3141d37b429eb7999", Sign([]byte("{}"), "key"))
	assert.Len(t, Sign([]byte(`{"a":1}`), "k"), 32)
	assert.NotEqual(t, Sign([]byte(`{"a":1}`), "k"), Sign([]byte(`{"a":2}`), "k"))
	assert.NotEqual(t, Sign([]byte(`{"a":1}`), "k"), Sign([]byte(`{"a":1}`), "other"))
}

func TestCreateInvoiceSignsExactBody(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment", r.URL.Path)
		assert.Equal(t, "merchant-1", r.Header.Get("merchant"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		gotBody, _ = io.ReadAll(r.Body)
		assert.Equal(t, Sign(gotBody, testKey), r.Header.Get("sign"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":0,"result":{"uuid":"gw-uuid","url":"https://pay.cryptomus.com/pay/gw-uuid","expired_at":1700000000}}`))
	}))
	defer srv.Close()

	inv, err := newTestClient(srv.URL).CreateInvoice(context.Background(), InvoiceRequest{
		OrderID: "123456789_20_a1b2c3d4",
		Amount:  decimal.RequireFromString("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, "gw-uuid", inv.UUID)
	assert.Equal(t, "https://pay.cryptomus.com/pay/gw-uuid", inv.URL)
	assert.Equal(t, int64(1700000000), inv.ExpiredAt.Unix())

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(gotBody, &sent))
	assert.Equal(t, "2", sent["amount"])
	assert.Equal(t, "USD", sent["currency"])
	assert.Equal(t, "123456789_20_a1b2c3d4", sent["order_id"])
	assert.Equal(t, "https://bot.example.com/payment_webhook", sent["url_callback"])
	assert.Equal(t, float64(3600), sent["lifetime"])
	assert.NotContains(t, string(gotBody), `&`)
}

func TestCreateInvoiceFailuresAreUnavailable(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"non-zero state": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"state":1,"message":"bad merchant"}`))
		},
		"missing url": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"state":0,"result":{"uuid":"x"}}`))
		},
		"not json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			_, err := newTestClient(srv.URL).CreateInvoice(context.Background(), InvoiceRequest{
				OrderID: "U1_20_ab", Amount: decimal.NewFromInt(2),
			})
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestCreateInvoiceTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).CreateInvoice(context.Background(), InvoiceRequest{
		OrderID: "U1_20_ab", Amount: decimal.NewFromInt(2),
	})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLifetimeClamped(t *testing.T) {
	c := newTestClient("http://x")
	c.lifetime = time.Minute
	assert.Equal(t, minLifetime, c.Lifetime())
	c.lifetime = 48 * time.Hour
	assert.Equal(t, maxLifetime, c.Lifetime())
	c.lifetime = 0
	assert.Equal(t, time.Duration(0), c.Lifetime())
}

func signedBody(t *testing.T, unsigned string, key string) []byte {
	t.Helper()
	sign := Sign([]byte(unsigned), key)
	return []byte(strings.TrimSuffix(unsigned, "}") + `,"sign":"` + sign + `"}`)
}

func TestVerifyNotification(t *testing.T) {
	unsigned := `{"type":"payment","uuid":"gw-uuid","order_id":"U1_20_ab12cd34","amount":"2.00","status":"paid","is_final":true}`
	body := signedBody(t, unsigned, testKey)

	require.NoError(t, VerifyNotification(body, testKey))
	assert.ErrorIs(t, VerifyNotification(body, "wrong-key"), ErrInvalidSignature)

	tampered := []byte(strings.Replace(string(body), `"U1_20_ab12cd34"`, `"U1_999_ab12cd34"`, 1))
	assert.ErrorIs(t, VerifyNotification(tampered, testKey), ErrInvalidSignature)

	assert.ErrorIs(t, VerifyNotification([]byte(unsigned), testKey), ErrInvalidSignature)

	// body is left untouched
	assert.Contains(t, string(body), `"sign":"`)
}

func TestVerifyNotificationSignFirst(t *testing.T) {
	unsigned := `{"order_id":"U1_20_ab","status":"paid"}`
	sign := Sign([]byte(unsigned), testKey)
	body := []byte(`{"sign":"` + sign + `","order_id":"U1_20_ab","status":"paid"}`)
	require.NoError(t, VerifyNotification(body, testKey))
}

func TestVerifyNotificationEscapedSlashes(t *testing.T) {
	signedForm := `{"order_id":"U1_20_ab","url":"https:\/\/x.io\/a","status":"paid"}`
	sign := Sign([]byte(signedForm), testKey)
	reencoded := []byte(`{"order_id":"U1_20_ab","url":"https://x.io/a","status":"paid","sign":"` + sign + `"}`)
	require.NoError(t, VerifyNotification(reencoded, testKey))
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(`{"order_id":"U1_20_ab","status":"paid_over","uuid":"x"}`))
	require.NoError(t, err)
	assert.True(t, n.Successful())
	assert.False(t, n.Failed())

	n, err = ParseNotification([]byte(`{"order_id":"U1_20_ab","status":"cancel"}`))
	require.NoError(t, err)
	assert.False(t, n.Successful())
	assert.True(t, n.Failed())

	n, err = ParseNotification([]byte(`{"status":"process"}`))
	require.NoError(t, err)
	assert.False(t, n.Successful())
	assert.False(t, n.Failed())

	_, err = ParseNotification([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestSecretMatches(t *testing.T) {
	assert.True(t, SecretMatches("abc", "abc"))
	assert.False(t, SecretMatches("abc", "abd"))
	assert.False(t, SecretMatches("abc", ""))
}
