// Package cache stores fetched ontology documents between runs.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ppiankov/labelwire/internal/config"
)

// Cache is a byte-value store with per-entry expiry.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Pruner is implemented by caches that can drop expired entries on demand.
type Pruner interface {
	Prune() (int, error)
}

// Key derives a cache key from the parts identifying a document, such as
// the platform base URL and a project id.
func Key(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "labelwire:v1:" + hex.EncodeToString(hash[:])
}

// Nop is a Cache that stores nothing. It stands in when caching is disabled.
type Nop struct{}

func (Nop) Get(string) ([]byte, bool)               { return nil, false }
func (Nop) Set(string, []byte, time.Duration) error { return nil }
func (Nop) Delete(string) error                     { return nil }
func (Nop) Clear() error                            { return nil }

// New builds the cache described by cfg: a layered memory and disk cache,
// or Nop when caching is disabled.
func New(cfg config.CacheConfig) Cache {
	if !cfg.Enabled {
		return Nop{}
	}
	if cfg.DiskDir == "" {
		return NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
	}
	return NewLayered(
		NewMemoryCache(cfg.MemoryTTL, 10*time.Minute),
		NewDiskCache(cfg.DiskDir, cfg.DiskTTL),
	)
}
