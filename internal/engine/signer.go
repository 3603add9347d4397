package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeaderName carries the payload signature on outbound requests.
// Receivers recompute the HMAC over the raw body they received and compare.
const SignatureHeaderName = "X-Webhook-Signature"

// Sign computes a hex-encoded HMAC-SHA256 over the exact bytes transmitted.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader formats the signature header value: "sha256=<hex>".
func SignatureHeader(secret string, body []byte) string {
	return "sha256=" + Sign(secret, body)
}
