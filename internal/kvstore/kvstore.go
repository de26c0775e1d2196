// Package kvstore provides persistent key-value state backends: NATS JetStream KV,
// Redis, and an in-memory store for tests and local development.
package kvstore

import (
	"encoding/base64"
	"strings"
)

const keySeparator = "."

// Key joins key segments with the separator shared by all backends.
func Key(segments ...string) string {
	return strings.Join(segments, keySeparator)
}

// EncodeSegment makes free-form text (such as a Finnish word) safe for use as a key
// segment. NATS KV keys only allow [-/_=.a-zA-Z0-9].
func EncodeSegment(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeSegment reverses EncodeSegment.
func DecodeSegment(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	return string(raw), nil
}
