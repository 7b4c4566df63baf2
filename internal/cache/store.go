package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Store is a byte-value cache keyed by request parameters. Implementations
// hash the key; callers pass the readable form.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte) error
	Close() error
}

// Key joins request parameters into a cache key
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// HashKey returns the hex sha256 of key, used for file names and Redis keys
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Nop is a Store that never hits; used when caching is disabled
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Nop) Set(context.Context, string, []byte) error { return nil }
func (Nop) Close() error { return nil }
