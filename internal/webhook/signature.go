package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// VerifySignature calculates the HMAC-SHA-256 of the raw body and compares it
// against the X-Hub-Signature-256 header in constant time to prevent timing
// attacks.
func VerifySignature(rawBody []byte, signatureHeader string, secret string) error {
	if signatureHeader == "" {
		return errors.New("missing signature header")
	}

	// Providers send the header in the format: "sha256=1234567890abcdef..."
	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		return errors.New("invalid signature format")
	}

	providedMAC, err := hex.DecodeString(parts[1])
	if err != nil {
		return errors.New("invalid signature encoding")
	}

	// Calculate the expected MAC using the project's stored secret
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expectedMAC := mac.Sum(nil)

	// Constant-time comparison defeats timing attacks
	if subtle.ConstantTimeCompare(expectedMAC, providedMAC) != 1 {
		return errors.New("signature mismatch")
	}

	return nil
}

// Sign produces the "sha256=<hex>" header value for a body and secret. Used
// by tests and by outbound notification signing.
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
