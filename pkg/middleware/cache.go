package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/agentup/agentup/pkg/capabilities"
)

type cacheParams struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type cacheEntry struct {
	result  *capabilities.CapabilityResult
	expires time.Time
}

// resultCache memoizes successful results keyed by the user input and
// capability config.
type resultCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
}

func (c *resultCache) key(cc *capabilities.CapabilityContext) string {
	h := sha256.New()
	h.Write([]byte(cc.UserInput))
	if len(cc.Config) > 0 {
		if data, err := json.Marshal(cc.Config); err == nil {
			h.Write(data)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *resultCache) get(key string) (*capabilities.CapabilityResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

func (c *resultCache) put(key string, result *capabilities.CapabilityResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		// Evict expired entries first, then an arbitrary one.
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
		for k := range c.entries {
			if len(c.entries) < c.maxEntries {
				break
			}
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{result: result, expires: time.Now().Add(c.ttl)}
}

func newCache(params map[string]any) (capabilities.Middleware, error) {
	p := cacheParams{TTL: 5 * time.Minute, MaxEntries: 256}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	cache := &resultCache{
		entries:    make(map[string]cacheEntry),
		ttl:        p.TTL,
		maxEntries: p.MaxEntries,
	}

	return func(next capabilities.Handler) capabilities.Handler {
		return func(ctx context.Context, cc *capabilities.CapabilityContext) (*capabilities.CapabilityResult, error) {
			key := cache.key(cc)
			if result, ok := cache.get(key); ok {
				return result, nil
			}

			result, err := next(ctx, cc)
			if err == nil && result != nil && result.Success {
				cache.put(key, result)
			}
			return result, err
		}
	}, nil
}
