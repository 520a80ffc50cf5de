package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix identifies the algorithm in the signature header value.
const SignaturePrefix = "sha256="

// Sign computes the HMAC-SHA256 of body keyed by secret, formatted as
// "sha256=<hex>".
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return SignaturePrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a header value produced by Sign in constant time.
// The "sha256=" prefix is optional.
func VerifySignature(body []byte, secret, signature string) bool {
	expected := Sign(body, secret)
	if !strings.HasPrefix(signature, SignaturePrefix) {
		signature = SignaturePrefix + signature
	}
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
