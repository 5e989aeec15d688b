// Package signature verifies HMAC-SHA256 signatures on inbound gateway
// messages. Verification fails closed: missing body, signature or secret is
// a mismatch, never a panic.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verify checks a hex-encoded HMAC-SHA256 signature over rawBody keyed by
// secret, in constant time.
func Verify(rawBody []byte, signature, secret string) bool {
	if len(rawBody) == 0 || signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyCallback checks the client-callback scheme, where the signed message
// is the ASCII string "<orderID>|<paymentID>".
func VerifyCallback(orderID, paymentID, signature, secret string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return Verify([]byte(orderID+"|"+paymentID), signature, secret)
}
