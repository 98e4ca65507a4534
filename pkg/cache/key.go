package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key identifies a cached response. It is the hex SHA-256 of the normalized
// question text, the mode and the normalized jurisdiction.
type Key string

// NewKey derives the cache key for a question. Case and whitespace variants of
// text and jurisdiction map to the same key; a different mode or
// jurisdiction always yields a different key.
func NewKey(text, mode, jurisdiction string) Key {
	h := sha256.New()
	h.Write([]byte(Normalize(text)))
	h.Write([]byte{0})
	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(jurisdiction)))
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// Normalize lower-cases s, trims it and collapses internal whitespace runs to
// a single space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// String returns the key as a string.
func (k Key) String() string { return string(k) }

// Short returns the first 12 characters, for logs.
func (k Key) Short() string {
	if len(k) <= 12 {
		return string(k)
	}
	return string(k[:12])
}
