package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// AccessTokenPrefix marks identifiers issued as account access tokens.
const AccessTokenPrefix = "at"

// AccessTokenLength is the full length of an access token: prefix + 32 hex chars.
const AccessTokenLength = len(AccessTokenPrefix) + 32

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) (string, error) {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// AccessToken returns a fresh unguessable account access token.
func AccessToken() (string, error) {
	h, err := Hex(16)
	if err != nil {
		return "", err
	}
	return AccessTokenPrefix + h, nil
}

// IsAccessTokenShaped reports whether s has the shape of an issued access token.
func IsAccessTokenShaped(s string) bool {
	if len(s) != AccessTokenLength || s[:len(AccessTokenPrefix)] != AccessTokenPrefix {
		return false
	}
	for _, c := range s[len(AccessTokenPrefix):] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
