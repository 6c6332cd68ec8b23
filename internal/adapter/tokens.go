package adapter

import (
	"sync"
	"time"
)

// TokenCache holds short-lived cloud API tokens keyed by controller id, so
// repeated polls skip the login round trip and concurrent polls for
// different controllers never clobber each other's sessions.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[string]cachedToken
	now    func() time.Time
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// NewTokenCache creates an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{
		tokens: make(map[string]cachedToken),
		now:    time.Now,
	}
}

// Get returns the cached token for a controller if it has not expired.
func (c *TokenCache) Get(controllerID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.tokens[controllerID]
	if !ok || c.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.token, true
}

// Put stores a token for a controller with a time-to-live.
func (c *TokenCache) Put(controllerID, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[controllerID] = cachedToken{token: token, expiresAt: c.now().Add(ttl)}
}

// Delete drops a controller's token, forcing a fresh login on the next poll.
func (c *TokenCache) Delete(controllerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, controllerID)
}
