// Package cache implements the response cache (component F): a
// content-addressed, TTL+LRU store of deterministic (low-temperature)
// responses. Backed by jellydator/ttlcache/v3, grounded on the same library
// used in the retrieval pack's jellyfin-proxy for a concurrent content
// cache; supersedes original_source's cachetools.TTLCache
// (services/cache_service.py) with a Go-native equivalent of the same
// shape (capacity + TTL + LRU eviction).
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/relaygate/gateway/internal/core/domain"
)

const maxTemperatureForCaching = 0.3

// Cache wraps a ttlcache instance keyed by the hex SHA-256 digest of a
// canonical JSON encoding of the cacheable request fields.
type Cache struct {
	store *ttlcache.Cache[string, domain.CacheEntry]
}

func New(capacity uint64, ttl time.Duration) *Cache {
	store := ttlcache.New[string, domain.CacheEntry](
		ttlcache.WithTTL[string, domain.CacheEntry](ttl),
		ttlcache.WithCapacity[string, domain.CacheEntry](capacity),
	)
	go store.Start()
	return &Cache{store: store}
}

// Cacheable reports whether a request is eligible for caching: non-streaming
// and temperature <= 0.3. A nil temperature is treated as
// below the threshold, matching the original's default-greedy behaviour.
func Cacheable(stream bool, temperature *float64) bool {
	if stream {
		return false
	}
	if temperature == nil {
		return true
	}
	return *temperature <= maxTemperatureForCaching
}

// Key builds the stable cache key: the hex SHA-256 of CacheKeyInput's JSON
// encoding. encoding/json emits struct fields in declaration order (not
// alphabetically) and sorts map keys, so two logically identical requests
// whose source JSON had differently-ordered keys hash identically.
func Key(input domain.CacheKeyInput) (string, error) {
	encoded, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the cached entry for key, if present and unexpired.
func (c *Cache) Get(key string) (domain.CacheEntry, bool) {
	item := c.store.Get(key)
	if item == nil {
		return domain.CacheEntry{}, false
	}
	return item.Value(), true
}

// Set stores entry under key. No negative caching: callers must not store
// error responses.
func (c *Cache) Set(key string, entry domain.CacheEntry) {
	c.store.Set(key, entry, ttlcache.DefaultTTL)
}

// Close stops the background TTL-eviction goroutine.
func (c *Cache) Close() {
	c.store.Stop()
}

// Len reports the current entry count, for telemetry.
func (c *Cache) Len() int {
	return c.store.Len()
}
