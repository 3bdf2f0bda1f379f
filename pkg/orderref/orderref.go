// Package orderref encodes and decodes the order reference attached to a
// payment invoice: "{account_key}_{credit_count}_{nonce}". The gateway echoes
// it back on settlement, so it carries everything needed to credit the payer.
package orderref

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"creditgate/pkg/idgen"
)

const (
	separator  = "_"
	nonceBytes = 4
)

var (
	ErrMalformedReference = errors.New("malformed order reference")
	ErrInvalidAccountKey  = errors.New("account key must be non-empty and must not contain '_'")
	ErrInvalidCount       = errors.New("credit count must not be negative")
)

// Reference is a decoded order reference.
type Reference struct {
	AccountKey  string
	CreditCount int64
	Nonce       string
}

// String renders the reference in wire form.
func (r Reference) String() string {
	return r.AccountKey + separator + strconv.FormatInt(r.CreditCount, 10) + separator + r.Nonce
}

// New builds a reference with a fresh random nonce.
func New(accountKey string, creditCount int64) (Reference, error) {
	nonce, err := idgen.Hex(nonceBytes)
	if err != nil {
		return Reference{}, fmt.Errorf("generate nonce: %w", err)
	}
	return Encode(accountKey, creditCount, nonce)
}

// Encode validates the parts and assembles a reference.
func Encode(accountKey string, creditCount int64, nonce string) (Reference, error) {
	if accountKey == "" || strings.Contains(accountKey, separator) {
		return Reference{}, ErrInvalidAccountKey
	}
	if creditCount < 0 {
		return Reference{}, ErrInvalidCount
	}
	if !isHex(nonce) {
		return Reference{}, ErrMalformedReference
	}
	return Reference{AccountKey: accountKey, CreditCount: creditCount, Nonce: nonce}, nil
}

// Decode parses a wire reference. Anything other than exactly three
// non-empty parts with a non-negative base-10 count and a hex nonce is
// ErrMalformedReference.
func Decode(s string) (Reference, error) {
	parts := strings.Split(s, separator)
	if len(parts) != 3 {
		return Reference{}, fmt.Errorf("%w: %q", ErrMalformedReference, s)
	}
	key, countStr, nonce := parts[0], parts[1], parts[2]
	if key == "" || countStr == "" || !isHex(nonce) {
		return Reference{}, fmt.Errorf("%w: %q", ErrMalformedReference, s)
	}
	for _, c := range countStr {
		if c < '0' || c > '9' {
			return Reference{}, fmt.Errorf("%w: %q", ErrMalformedReference, s)
		}
	}
	count, err := strconv.ParseInt(countStr, 10, 64)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %q", ErrMalformedReference, s)
	}
	return Reference{AccountKey: key, CreditCount: count, Nonce: nonce}, nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
