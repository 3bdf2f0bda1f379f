package gateway

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
)

// Notification statuses reported by the gateway.
const (
	StatusPaid       = "paid"
	StatusPaidOver   = "paid_over"
	StatusCompleted  = "completed"
	StatusFail       = "fail"
	StatusCancel     = "cancel"
	StatusSystemFail = "system_fail"
)

// Notification is a settlement callback body.
type Notification struct {
	Type          string `json:"type"`
	UUID          string `json:"uuid"`
	OrderID       string `json:"order_id"`
	Amount        string `json:"amount"`
	PaymentAmount string `json:"payment_amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	IsFinal       bool   `json:"is_final"`
	Sign          string `json:"sign"`
}

// Successful reports whether the status is evidence of payment.
func (n *Notification) Successful() bool {
	switch n.Status {
	case StatusPaid, StatusPaidOver, StatusCompleted:
		return true
	}
	return false
}

// Failed reports whether the gateway gave up on the payment.
func (n *Notification) Failed() bool {
	switch n.Status {
	case StatusFail, StatusCancel, StatusSystemFail:
		return true
	}
	return false
}

// ParseNotification decodes a callback body without verifying it.
func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &n, nil
}

// VerifyNotification checks the body's "sign" member against
// md5(base64(body without "sign") + apiKey). The member is cut from the raw
// bytes so the remaining key order and formatting are exactly what the
// gateway signed.
func VerifyNotification(body []byte, apiKey string) error {
	sign, err := jsonparser.GetString(body, "sign")
	if err != nil || sign == "" {
		return fmt.Errorf("%w: missing sign", ErrInvalidSignature)
	}

	stripped := jsonparser.Delete(append([]byte(nil), body...), "sign")
	stripped = bytes.TrimSpace(stripped)

	if signEqual(Sign(stripped, apiKey), sign) {
		return nil
	}
	// the gateway serialises with escaped slashes; accept a body that was
	// re-encoded without them
	escaped := bytes.ReplaceAll(stripped, []byte("/"), []byte(`\/`))
	if signEqual(Sign(escaped, apiKey), sign) {
		return nil
	}
	return ErrInvalidSignature
}

func signEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
