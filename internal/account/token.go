package account

import (
	"sync"
	"time"
)

// expiryMargin discards tokens that are about to lapse so an upstream call
// never starts with a token that expires mid-flight.
const expiryMargin = 10 * time.Second

// TokenCache holds one OAuth access token per account, in memory only.
// Tokens are never persisted; a restart starts cold and refreshes on the
// first request.
type TokenCache struct {
	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
}

// Get returns the cached access token if it remains valid for more than the
// expiry margin.
func (c *TokenCache) Get() (token string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accessToken == "" || time.Until(c.expiresAt) <= expiryMargin {
		return "", false
	}
	return c.accessToken, true
}

// Set stores a freshly issued token with its lifetime in seconds. Concurrent
// refreshes may race; the last write wins and every stored token is valid.
func (c *TokenCache) Set(token string, expiresIn int64) {
	c.mu.Lock()
	c.accessToken = token
	c.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	c.mu.Unlock()
}
