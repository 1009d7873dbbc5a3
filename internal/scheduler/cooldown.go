package scheduler

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// CooldownTracker records temporary account suspensions in memory. Entries
// lapse on their own; the periodic sweep only reclaims the map storage.
// Cooldowns are deliberately not persisted, so a restart clears them.
type CooldownTracker struct {
	cache *cache.Cache
}

// NewCooldownTracker builds an empty tracker.
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{cache: cache.New(cache.NoExpiration, 0)}
}

// Set suspends an account for d, keeping the reason for observability.
// Non-positive durations clear any existing suspension.
func (t *CooldownTracker) Set(accountID, reason string, d time.Duration) {
	if d <= 0 {
		t.cache.Delete(accountID)
		return
	}
	t.cache.Set(accountID, reason, d)
}

// Active reports whether the account is currently suspended.
func (t *CooldownTracker) Active(accountID string) bool {
	_, found := t.cache.Get(accountID)
	return found
}

// Status returns the suspension reason and expiry while active.
func (t *CooldownTracker) Status(accountID string) (reason string, until time.Time, active bool) {
	v, expiration, found := t.cache.GetWithExpiration(accountID)
	if !found {
		return "", time.Time{}, false
	}
	return v.(string), expiration, true
}

// DeleteExpired drops lapsed entries.
func (t *CooldownTracker) DeleteExpired() {
	t.cache.DeleteExpired()
}

// Len counts stored entries, including lapsed ones not yet swept.
func (t *CooldownTracker) Len() int {
	return t.cache.ItemCount()
}
