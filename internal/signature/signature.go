package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize re-serializes a JSON payload with deterministic key ordering,
// so semantically identical payloads always produce the same bytes. The
// worker posts the same canonical bytes it signs.
func Canonicalize(payload json.RawMessage) ([]byte, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	// encoding/json marshals map keys in sorted order.
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	return canonical, nil
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical payload keyed
// by the subscription secret. Deterministic for a given (payload, secret)
// pair regardless of key insertion order.
func Sign(payload json.RawMessage, secret string) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return SignBytes(canonical, secret), nil
}

// SignBytes computes the HMAC over already-canonical bytes.
func SignBytes(canonical []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex HMAC-SHA256 signature over the raw body. Intended for
// receivers validating inbound deliveries.
func Verify(secret string, body []byte, provided string) bool {
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}
