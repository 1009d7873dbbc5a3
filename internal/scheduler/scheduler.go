// Package scheduler picks the upstream account serving each request. A
// request with a recognizable session sticks to its previous account while
// the binding lives; everything else rotates through the platform's pool by
// priority and least recent use.
package scheduler

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
	"github.com/relay-for-me/AccountRelayAPI/internal/config"
	"github.com/relay-for-me/AccountRelayAPI/internal/relay"
	"github.com/relay-for-me/AccountRelayAPI/internal/session"
	"github.com/relay-for-me/AccountRelayAPI/internal/store"
)

// Scheduler owns account selection state: the registry, sticky bindings in
// SQLite, and in-memory cooldowns.
type Scheduler struct {
	registry  *account.Registry
	store     *store.Store
	cooldowns *CooldownTracker

	stickyTTL           time.Duration
	renewalThreshold    time.Duration
	unavailableCooldown time.Duration
}

// New wires a scheduler from the validated session configuration.
func New(registry *account.Registry, st *store.Store, sess config.SessionConfig) *Scheduler {
	return &Scheduler{
		registry:            registry,
		store:               st,
		cooldowns:           NewCooldownTracker(),
		stickyTTL:           time.Duration(sess.StickyTTLSeconds) * time.Second,
		renewalThreshold:    time.Duration(sess.RenewalThresholdSeconds) * time.Second,
		unavailableCooldown: time.Duration(sess.UnavailableCooldownSeconds) * time.Second,
	}
}

// Select picks an account for one request attempt. excluded carries the
// accounts already tried during this request's retry loop.
func (s *Scheduler) Select(ctx context.Context, platform account.Platform, body []byte, excluded map[string]struct{}) (*account.Account, error) {
	sessionHash, hasSession := session.Hash(body)

	if hasSession {
		if acct := s.stickyAccount(ctx, sessionHash, platform, excluded); acct != nil {
			log.Debugf("using sticky session account %s for session %s", acct.ID, sessionHash)
			acct.MarkUsed(time.Now())
			return acct, nil
		}
	}

	acct, err := s.selectAvailable(platform, excluded)
	if err != nil {
		return nil, err
	}

	if hasSession {
		if errUpsert := s.store.UpsertSticky(ctx, sessionHash, acct.ID, s.stickyTTL); errUpsert != nil {
			log.Warnf("failed to set sticky session %s: %v", sessionHash, errUpsert)
		} else {
			log.Debugf("created sticky session %s -> %s", sessionHash, acct.ID)
		}
	}

	log.Infof("selected account %s (%s) priority=%d platform=%s", acct.ID, acct.Name, acct.Priority, platform)
	acct.MarkUsed(time.Now())
	return acct, nil
}

// stickyAccount resolves a live binding to a usable account. Any mismatch
// (excluded, cooling down, wrong platform, disabled, unknown id) falls
// through to priority selection without deleting the binding.
func (s *Scheduler) stickyAccount(ctx context.Context, sessionHash string, platform account.Platform, excluded map[string]struct{}) *account.Account {
	accountID, expiresAt, ok, err := s.store.GetSticky(ctx, sessionHash)
	if err != nil {
		log.Warnf("failed to get sticky session %s: %v", sessionHash, err)
		return nil
	}
	if !ok {
		return nil
	}

	if _, skip := excluded[accountID]; skip {
		return nil
	}
	if s.cooldowns.Active(accountID) {
		return nil
	}

	acct, found := s.registry.Get(accountID)
	if !found || acct.Platform != platform || !acct.Enabled() {
		return nil
	}

	// Renew only when the binding is close to lapsing, so steady traffic
	// does not rewrite the row on every request.
	if time.Until(expiresAt) < s.renewalThreshold {
		if errRenew := s.store.UpsertSticky(ctx, sessionHash, accountID, s.stickyTTL); errRenew != nil {
			log.Warnf("failed to renew sticky session %s: %v", sessionHash, errRenew)
		} else {
			log.Debugf("renewed sticky session %s", sessionHash)
		}
	}

	return acct
}

// selectAvailable picks the best candidate: highest priority first, then
// least recently used, with never-used accounts ahead of used ones.
func (s *Scheduler) selectAvailable(platform account.Platform, excluded map[string]struct{}) (*account.Account, error) {
	var available []*account.Account
	for _, a := range s.registry.ForPlatform(platform) {
		if !a.Enabled() {
			continue
		}
		if _, skip := excluded[a.ID]; skip {
			continue
		}
		if s.cooldowns.Active(a.ID) {
			continue
		}
		available = append(available, a)
	}

	if len(available) == 0 {
		log.Warnf("no available accounts for platform %s", platform)
		return nil, relay.NoAccountError(platform)
	}

	sort.SliceStable(available, func(i, j int) bool {
		if available[i].Priority != available[j].Priority {
			return available[i].Priority > available[j].Priority
		}
		iTime, iUsed := available[i].LastUsed()
		jTime, jUsed := available[j].LastUsed()
		switch {
		case !iUsed && !jUsed:
			return false
		case !iUsed:
			return true
		case !jUsed:
			return false
		default:
			return iTime.Before(jTime)
		}
	})

	return available[0], nil
}

// MarkRateLimited suspends an account for the retry-after the upstream gave.
func (s *Scheduler) MarkRateLimited(accountID string, retryAfterSeconds int64) {
	s.cooldowns.Set(accountID, "rate_limited", time.Duration(retryAfterSeconds)*time.Second)
	log.Infof("account %s marked as rate limited for %ds", accountID, retryAfterSeconds)
}

// MarkOverloaded suspends an account after an upstream overload signal.
func (s *Scheduler) MarkOverloaded(accountID string, retryAfterMinutes int64) {
	s.cooldowns.Set(accountID, "overloaded", time.Duration(retryAfterMinutes)*time.Minute)
	log.Infof("account %s marked as overloaded for %d minutes", accountID, retryAfterMinutes)
}

// MarkUnavailable suspends an account for the configured unavailable
// cooldown, recording why.
func (s *Scheduler) MarkUnavailable(accountID, reason string) {
	s.cooldowns.Set(accountID, reason, s.unavailableCooldown)
	log.Warnf("account %s marked as unavailable (%s) for %s", accountID, reason, s.unavailableCooldown)
}

// InCooldown reports whether the account is suspended right now.
func (s *Scheduler) InCooldown(accountID string) bool {
	return s.cooldowns.Active(accountID)
}

// CooldownStatus exposes the suspension reason and expiry for management.
func (s *Scheduler) CooldownStatus(accountID string) (reason string, until time.Time, active bool) {
	return s.cooldowns.Status(accountID)
}

// Sweep reclaims lapsed cooldown entries and expired sticky bindings. Wired
// to the periodic maintenance job.
func (s *Scheduler) Sweep(ctx context.Context) {
	s.cooldowns.DeleteExpired()
	removed, err := s.store.SweepSticky(ctx)
	if err != nil {
		log.Warnf("sticky session sweep failed: %v", err)
		return
	}
	if removed > 0 {
		log.Debugf("swept %d expired sticky sessions", removed)
	}
}
