// Package config provides configuration management for the account relay server.
// It handles loading and parsing TOML configuration files, and provides structured
// access to application settings including the listen address, database path,
// client API keys, upstream accounts, and sticky-session tuning.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Account type tags accepted in the accounts array.
const (
	AccountTypeClaudeOAuth     = "claude-oauth"
	AccountTypeClaudeAPI       = "claude-api"
	AccountTypeGemini          = "gemini"
	AccountTypeOpenAIResponses = "openai-responses"
)

// Proxy type tags accepted in an account proxy table.
const (
	ProxyTypeSocks5 = "socks5"
	ProxyTypeHTTP   = "http"
	ProxyTypeNone   = "none"
)

const (
	defaultPriority = 100

	defaultStickyTTLSeconds           = 3600
	defaultRenewalThresholdSeconds    = 300
	defaultUnavailableCooldownSeconds = 3600
)

// Config represents the application's configuration, loaded from a TOML file.
type Config struct {
	// Server holds the HTTP listener and process-level settings.
	Server ServerConfig `toml:"server"`

	// APIKeys is a list of keys for authenticating clients to this relay.
	// An empty list disables client authentication.
	APIKeys []string `toml:"api_keys"`

	// Accounts is the pool of upstream provider accounts. At least one
	// account must be configured and account ids must be unique.
	Accounts []Account `toml:"accounts"`

	// Session tunes sticky-session lifetime and cooldown durations.
	Session SessionConfig `toml:"session"`
}

// ServerConfig holds the HTTP listener and process-level settings.
type ServerConfig struct {
	// Host is the interface the API server binds to.
	Host string `toml:"host"`

	// Port is the network port on which the API server will listen.
	Port int `toml:"port"`

	// DatabasePath is the SQLite file holding sticky sessions and usage
	// stats. Parent directories are created on startup.
	DatabasePath string `toml:"database_path"`

	// LogLevel is a logrus level name (trace, debug, info, warn, error).
	LogLevel string `toml:"log_level"`

	// ManagementKey guards the management endpoints. Empty disables them.
	ManagementKey string `toml:"management_key"`

	// LoggingToFile redirects log output to rotated files under LogDir.
	LoggingToFile bool `toml:"logging_to_file"`

	// LogDir is the directory for rotated log files. Defaults to "logs".
	LogDir string `toml:"log_dir"`
}

// Account describes one upstream provider account. Type selects the
// credential fields that apply: claude-oauth and gemini require
// refresh_token, claude-api and openai-responses require api_key.
type Account struct {
	// Type is one of claude-oauth, claude-api, gemini, openai-responses.
	Type string `toml:"type"`

	// ID uniquely identifies the account across the registry.
	ID string `toml:"id"`

	// Name is a human-readable label used in logs.
	Name string `toml:"name"`

	// Priority orders candidate selection; higher is preferred. Defaults to 100.
	Priority *int `toml:"priority"`

	// Enabled removes the account from selection when false. Defaults to true.
	Enabled *bool `toml:"enabled"`

	// RefreshToken is the OAuth refresh token for claude-oauth and gemini accounts.
	RefreshToken string `toml:"refresh_token"`

	// APIKey is the static key for claude-api and openai-responses accounts.
	APIKey string `toml:"api_key"`

	// APIURL overrides the provider's default endpoint when set.
	APIURL string `toml:"api_url"`

	// Proxy routes this account's upstream traffic when set.
	Proxy *Proxy `toml:"proxy"`
}

// Proxy describes an outbound proxy for a single account.
type Proxy struct {
	// Type is one of socks5, http, none.
	Type string `toml:"type"`

	// Host is the proxy server host.
	Host string `toml:"host"`

	// Port is the proxy server port.
	Port int `toml:"port"`

	// Username is an optional proxy username.
	Username string `toml:"username"`

	// Password is an optional proxy password.
	Password string `toml:"password"`
}

// SessionConfig tunes sticky-session lifetime and cooldown durations.
type SessionConfig struct {
	// StickyTTLSeconds is the lifetime of a session-to-account binding.
	StickyTTLSeconds int64 `toml:"sticky_ttl_seconds"`

	// RenewalThresholdSeconds renews a binding read with less remaining
	// lifetime than this.
	RenewalThresholdSeconds int64 `toml:"renewal_threshold_seconds"`

	// UnavailableCooldownSeconds suspends an account after auth, quota,
	// or weekly-limit failures.
	UnavailableCooldownSeconds int64 `toml:"unavailable_cooldown_seconds"`
}

// LoadConfig reads a TOML configuration file from the given path, unmarshals
// it into a Config struct, applies defaults, and validates it.
//
// Parameters:
//   - configFile: The path to the TOML configuration file
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if the configuration could not be loaded or is invalid
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err = toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         3000,
			DatabasePath: "data/relay.db",
			LogLevel:     "info",
			LogDir:       "logs",
		},
		Session: SessionConfig{
			StickyTTLSeconds:           defaultStickyTTLSeconds,
			RenewalThresholdSeconds:    defaultRenewalThresholdSeconds,
			UnavailableCooldownSeconds: defaultUnavailableCooldownSeconds,
		},
	}
}

// applyDefaults fills per-account optional fields that TOML cannot default.
func (c *Config) applyDefaults() {
	for i := range c.Accounts {
		if c.Accounts[i].Priority == nil {
			p := defaultPriority
			c.Accounts[i].Priority = &p
		}
		if c.Accounts[i].Enabled == nil {
			e := true
			c.Accounts[i].Enabled = &e
		}
	}
}

// Validate checks structural requirements: at least one account, unique
// account ids, known account and proxy types, and per-type credentials.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	ids := make(map[string]struct{}, len(c.Accounts))
	for i := range c.Accounts {
		account := &c.Accounts[i]
		if account.ID == "" {
			return fmt.Errorf("account #%d: id is required", i)
		}
		if _, ok := ids[account.ID]; ok {
			return fmt.Errorf("duplicate account ID: %s", account.ID)
		}
		ids[account.ID] = struct{}{}

		switch account.Type {
		case AccountTypeClaudeOAuth, AccountTypeGemini:
			if account.RefreshToken == "" {
				return fmt.Errorf("account %s: refresh_token is required for type %s", account.ID, account.Type)
			}
		case AccountTypeClaudeAPI, AccountTypeOpenAIResponses:
			if account.APIKey == "" {
				return fmt.Errorf("account %s: api_key is required for type %s", account.ID, account.Type)
			}
		default:
			return fmt.Errorf("account %s: unknown type %q", account.ID, account.Type)
		}

		if account.Proxy != nil {
			if err := account.Proxy.validate(); err != nil {
				return fmt.Errorf("account %s: %w", account.ID, err)
			}
		}
	}
	return nil
}

func (p *Proxy) validate() error {
	switch p.Type {
	case ProxyTypeNone:
		return nil
	case ProxyTypeSocks5, ProxyTypeHTTP:
		if p.Host == "" || p.Port == 0 {
			return fmt.Errorf("proxy of type %s requires host and port", p.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown proxy type %q", p.Type)
	}
}

// IsNone reports whether the proxy configuration is absent or explicitly none.
func (p *Proxy) IsNone() bool {
	return p == nil || p.Type == ProxyTypeNone
}

// URL renders the proxy as a dialable URL, or "" for none.
func (p *Proxy) URL() string {
	if p.IsNone() {
		return ""
	}
	scheme := p.Type
	if p.Username != "" && p.Password != "" {
		return fmt.Sprintf("%s://%s:%s@%s:%d", scheme, p.Username, p.Password, p.Host, p.Port)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, p.Host, p.Port)
}
