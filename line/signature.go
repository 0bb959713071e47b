package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader carries the platform's signature on inbound webhook calls.
const SignatureHeader = "X-Line-Signature"

// ValidateSignature recomputes the HMAC-SHA256 of the raw request body with
// the channel secret and compares it to the provided base64 signature using
// a constant-time comparison.
func ValidateSignature(channelSecret string, body []byte, signature string) bool {
	if channelSecret == "" || signature == "" {
		return false
	}

	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign computes the base64 HMAC-SHA256 signature for a body. Used by tests
// and local tooling to forge valid webhook calls.
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
