package relay

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
)

const defaultCodexBase = "https://api.openai.com/v1"

// CodexURL joins an account's base override with the caller path.
func CodexURL(override, path string) string {
	base := defaultCodexBase
	if override != "" {
		base = override
	}
	return strings.TrimRight(base, "/") + path
}

// Codex relays one Responses API call. Codex accounts authenticate with a
// static API key; anything else is rejected before the request is sent.
func (r *Relayer) Codex(ctx context.Context, acct *account.Account, body []byte, path string, stream bool) (*http.Response, error) {
	if acct.Credential.Kind != account.CredentialAPIKey {
		return nil, UnauthorizedError("Expected API key credentials")
	}
	cred, err := acct.Credentials(ctx)
	if err != nil {
		return nil, OAuthError(err.Error())
	}

	if stream {
		if body, err = sjson.SetBytes(body, "stream", true); err != nil {
			return nil, InternalError(fmt.Sprintf("failed to set stream flag: %v", err))
		}
	}

	url := CodexURL(acct.APIURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Value)
	req.Header.Set("Content-Type", "application/json")

	log.Debugf("relaying codex request: account=%s url=%s stream=%v", acct.ID, url, stream)
	return r.do(acct, req)
}
