package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// ManagementKey holds the bearer secret for the management API. The config
// watcher may rotate it at runtime.
type ManagementKey struct {
	mu  sync.RWMutex
	key string
}

// NewManagementKey wraps the configured secret.
func NewManagementKey(key string) *ManagementKey {
	return &ManagementKey{key: key}
}

// Swap replaces the secret.
func (m *ManagementKey) Swap(key string) {
	m.mu.Lock()
	m.key = key
	m.mu.Unlock()
}

// Matches checks a presented secret. An empty configured secret matches
// nothing, so a rotated-away key locks the management API shut.
func (m *ManagementKey) Matches(presented string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key != "" && m.key == presented
}

// ManagementAuth guards management routes with "Authorization: Bearer
// <management key>".
func ManagementAuth(key *ManagementKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || !key.Matches(strings.TrimPrefix(auth, "Bearer ")) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"type":    "unauthorized",
					"message": "Invalid management key",
				},
			})
			return
		}
		c.Next()
	}
}
