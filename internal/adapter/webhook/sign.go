package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const signaturePrefix = "sha256="

// Signature computes the X-Webhook-Signature header value for body:
// "sha256=" + hex(HMAC-SHA256(secret, body)). Signed over the exact bytes
// sent, which jsonx.Canonical keeps stable across retries.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header in constant time.
func Verify(secret string, body []byte, header string) bool {
	want := Signature(secret, body)
	return subtle.ConstantTimeCompare([]byte(want), []byte(header)) == 1
}
