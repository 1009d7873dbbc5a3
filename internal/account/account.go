// Package account models the pool of upstream provider accounts: identity,
// platform, credentials, selection state, and cached OAuth access tokens.
package account

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relay-for-me/AccountRelayAPI/internal/config"
)

// Platform identifies the upstream provider family an account belongs to.
type Platform string

const (
	PlatformClaude Platform = "claude"
	PlatformGemini Platform = "gemini"
	PlatformCodex  Platform = "codex"
)

// CredentialKind distinguishes OAuth refresh tokens from static API keys.
type CredentialKind string

const (
	CredentialOAuth  CredentialKind = "oauth"
	CredentialAPIKey CredentialKind = "api_key"
)

// Credential carries the secret material for one account. Exactly one of
// RefreshToken or APIKey is set, according to Kind.
type Credential struct {
	Kind         CredentialKind
	RefreshToken string
	APIKey       string
}

// Account is one upstream provider account. Identity, platform, credential,
// and routing fields are immutable after construction; enabled state, last
// use, and the token cache are safe for concurrent access.
type Account struct {
	ID       string
	Name     string
	Platform Platform
	Priority int
	APIURL   string
	Proxy    *config.Proxy

	Credential Credential

	enabled      atomic.Bool
	requestCount atomic.Int64

	mu       sync.Mutex
	lastUsed time.Time

	tokens TokenCache
}

// New builds an Account from its configuration entry.
func New(cfg config.Account) (*Account, error) {
	a := &Account{
		ID:       cfg.ID,
		Name:     cfg.Name,
		Priority: *cfg.Priority,
		APIURL:   cfg.APIURL,
		Proxy:    cfg.Proxy,
	}

	switch cfg.Type {
	case config.AccountTypeClaudeOAuth:
		a.Platform = PlatformClaude
		a.Credential = Credential{Kind: CredentialOAuth, RefreshToken: cfg.RefreshToken}
	case config.AccountTypeClaudeAPI:
		a.Platform = PlatformClaude
		a.Credential = Credential{Kind: CredentialAPIKey, APIKey: cfg.APIKey}
	case config.AccountTypeGemini:
		a.Platform = PlatformGemini
		a.Credential = Credential{Kind: CredentialOAuth, RefreshToken: cfg.RefreshToken}
	case config.AccountTypeOpenAIResponses:
		a.Platform = PlatformCodex
		a.Credential = Credential{Kind: CredentialAPIKey, APIKey: cfg.APIKey}
	default:
		return nil, fmt.Errorf("account %s: unknown type %q", cfg.ID, cfg.Type)
	}

	a.enabled.Store(*cfg.Enabled)
	return a, nil
}

// Enabled reports whether the account participates in selection.
func (a *Account) Enabled() bool {
	return a.enabled.Load()
}

// SetEnabled toggles the account's participation in selection.
func (a *Account) SetEnabled(enabled bool) {
	a.enabled.Store(enabled)
}

// LastUsed returns the time of the most recent selection. ok is false if the
// account has never been selected since startup.
func (a *Account) LastUsed() (t time.Time, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUsed, !a.lastUsed.IsZero()
}

// MarkUsed records a selection at time t.
func (a *Account) MarkUsed(t time.Time) {
	a.mu.Lock()
	a.lastUsed = t
	a.mu.Unlock()
	a.requestCount.Add(1)
}

// RequestCount reports how many times the account has been selected since
// startup.
func (a *Account) RequestCount() int64 {
	return a.requestCount.Load()
}

// Tokens returns the account's OAuth access token cache.
func (a *Account) Tokens() *TokenCache {
	return &a.tokens
}
