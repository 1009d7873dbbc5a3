// Package middleware provides the Gin middleware chain for the relay:
// client API key authentication, management authentication, and request id
// tagging for log correlation.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/relay-for-me/AccountRelayAPI/internal/util"
)

// ClientKeyHashKey is the Gin context key carrying the SHA-256 hex of the
// caller's API key, or AnonymousKeyHash when authentication is disabled.
const ClientKeyHashKey = "client_key_hash"

// AnonymousKeyHash identifies callers when no API keys are configured.
const AnonymousKeyHash = "anonymous"

// APIKeys is the client key allow-list. The config watcher swaps it at
// runtime, so reads and writes are guarded.
type APIKeys struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewAPIKeys builds the allow-list from the configured keys.
func NewAPIKeys(keys []string) *APIKeys {
	k := &APIKeys{}
	k.Swap(keys)
	return k
}

// Swap replaces the allow-list wholesale.
func (k *APIKeys) Swap(keys []string) {
	next := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		next[key] = struct{}{}
	}
	k.mu.Lock()
	k.keys = next
	k.mu.Unlock()
}

// Empty reports whether authentication is disabled.
func (k *APIKeys) Empty() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys) == 0
}

// Contains reports whether key is allow-listed.
func (k *APIKeys) Contains(key string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[key]
	return ok
}

// Auth authenticates clients against the allow-list. Keys arrive as
// "Authorization: Bearer <key>" or "x-api-key: <key>". An empty allow-list
// disables authentication and records the caller as anonymous. The key's
// SHA-256 hex lands in the context for usage attribution.
func Auth(keys *APIKeys) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keys.Empty() {
			c.Set(ClientKeyHashKey, AnonymousKeyHash)
			c.Next()
			return
		}

		apiKey := extractAPIKey(c)
		if apiKey == "" {
			log.Warn("missing API key in request")
			abortUnauthorized(c, "Missing API key")
			return
		}
		if !keys.Contains(apiKey) {
			log.Warnf("invalid API key %s", util.MaskKey(apiKey))
			abortUnauthorized(c, "Invalid API key")
			return
		}

		sum := sha256.Sum256([]byte(apiKey))
		c.Set(ClientKeyHashKey, hex.EncodeToString(sum[:]))
		c.Next()
	}
}

// ClientKeyHash returns the caller identity recorded by Auth, defaulting to
// anonymous on routes without the middleware.
func ClientKeyHash(c *gin.Context) string {
	if hash := c.GetString(ClientKeyHashKey); hash != "" {
		return hash
	}
	return AnonymousKeyHash
}

func extractAPIKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.GetHeader("x-api-key")
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"type":    "unauthorized",
			"message": message,
		},
	})
}
