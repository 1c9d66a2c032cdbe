package cache

import (
	"crypto/sha1"
	"encoding/hex"
)

// Key identifies a cached response. It is the lowercase hex SHA-1 digest
// of the request URL exactly as the client sent it.
type Key string

// DeriveKey maps a request URL to its cache key.
//
// No normalisation is applied: "http://a/b" and "http://a:80/b" are
// different keys.
func DeriveKey(url []byte) Key {
	sum := sha1.Sum(url)
	return Key(hex.EncodeToString(sum[:]))
}

// String returns the key as stored.
func (k Key) String() string {
	return string(k)
}
