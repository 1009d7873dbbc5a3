package account

import (
	"context"
	"fmt"

	"github.com/relay-for-me/AccountRelayAPI/internal/auth/claude"
	"github.com/relay-for-me/AccountRelayAPI/internal/auth/gemini"
)

// AccessCredential is the resolved secret presented to the upstream API.
// Kind tells the relay whether the value is an OAuth bearer token or a
// static API key.
type AccessCredential struct {
	Kind  CredentialKind
	Value string
}

// Credentials resolves the credential for an upstream call. API key accounts
// answer immediately. OAuth accounts serve the cached access token while it
// is valid and refresh it otherwise; concurrent refreshes are tolerated, the
// last write wins.
func (a *Account) Credentials(ctx context.Context) (AccessCredential, error) {
	if a.Credential.Kind == CredentialAPIKey {
		return AccessCredential{Kind: CredentialAPIKey, Value: a.Credential.APIKey}, nil
	}

	if token, ok := a.tokens.Get(); ok {
		return AccessCredential{Kind: CredentialOAuth, Value: token}, nil
	}

	token, expiresIn, err := a.refreshAccessToken(ctx)
	if err != nil {
		return AccessCredential{}, fmt.Errorf("account %s: %w", a.ID, err)
	}
	a.tokens.Set(token, expiresIn)
	return AccessCredential{Kind: CredentialOAuth, Value: token}, nil
}

func (a *Account) refreshAccessToken(ctx context.Context) (string, int64, error) {
	switch a.Platform {
	case PlatformClaude:
		refresher, err := claude.NewRefresher(a.Proxy)
		if err != nil {
			return "", 0, err
		}
		token, err := refresher.Refresh(ctx, a.Credential.RefreshToken)
		if err != nil {
			return "", 0, err
		}
		return token.AccessToken, token.ExpiresIn, nil
	case PlatformGemini:
		refresher, err := gemini.NewRefresher(a.Proxy)
		if err != nil {
			return "", 0, err
		}
		token, err := refresher.Refresh(ctx, a.Credential.RefreshToken)
		if err != nil {
			return "", 0, err
		}
		return token.AccessToken, token.ExpiresIn, nil
	}
	return "", 0, fmt.Errorf("platform %s does not support OAuth credentials", a.Platform)
}
