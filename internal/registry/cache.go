package registry

import (
	"sync"
	"time"
)

// tokenEntry is a cached bearer token
type tokenEntry struct {
	Token     string
	ExpiresAt time.Time
}

// TokenCache caches bearer tokens obtained from registry token exchanges,
// keyed by provider and repository.
type TokenCache struct {
	mu      sync.Mutex
	entries map[string]*tokenEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenCache creates a token cache. ttl is used for tokens whose response
// does not state an expiry.
func NewTokenCache(ttl time.Duration) *TokenCache {
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenCache{
		entries: make(map[string]*tokenEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get retrieves a token from cache. An expired token is dropped.
func (c *TokenCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[key]
	if !found {
		return "", false
	}

	if c.now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		return "", false
	}

	return entry.Token, true
}

// SetWithTTL stores a token with a custom TTL. A zero ttl uses the default.
// Expired tokens of other keys are evicted on the way.
func (c *TokenCache) SetWithTTL(key, token string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = &tokenEntry{
		Token:     token,
		ExpiresAt: now.Add(ttl),
	}
}
