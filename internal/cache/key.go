package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// LongURLKey derives the cache key for the long URL -> short id direction.
//
// The key is always 64 lowercase hex characters, while short ids are at most
// 16 base62 characters, so the two directions never share a key.
func LongURLKey(longURL string) string {
	sum := sha256.Sum256([]byte(longURL))
	return hex.EncodeToString(sum[:])
}
