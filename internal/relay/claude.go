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

const (
	defaultClaudeURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"

	betaHeaderFull  = "claude-code-20250219,oauth-2025-04-20,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"
	betaHeaderHaiku = "oauth-2025-04-20,interleaved-thinking-2025-05-14"
)

// ClaudeMessagesURL resolves the messages endpoint for an account. Overrides
// may point at a bare host, a /v1 base, or the full messages path.
func ClaudeMessagesURL(override string) string {
	if override == "" {
		return defaultClaudeURL
	}
	base := strings.TrimRight(override, "/")
	switch {
	case strings.HasSuffix(base, "/v1/messages"):
		return base
	case strings.HasSuffix(base, "/v1"):
		return base + "/messages"
	default:
		return base + "/v1/messages"
	}
}

// BetaHeader picks the anthropic-beta value for a model. Haiku models get the
// reduced feature set.
func BetaHeader(model string) string {
	if strings.Contains(model, "haiku") {
		return betaHeaderHaiku
	}
	return betaHeaderFull
}

// Claude relays one Anthropic Messages request. When stream is set the
// stream flag is forced on the body before sending. The caller owns
// resp.Body on success.
func (r *Relayer) Claude(ctx context.Context, acct *account.Account, body []byte, model string, stream bool, clientHeaders http.Header) (*http.Response, error) {
	cred, err := acct.Credentials(ctx)
	if err != nil {
		return nil, OAuthError(err.Error())
	}

	if stream {
		if body, err = sjson.SetBytes(body, "stream", true); err != nil {
			return nil, InternalError(fmt.Sprintf("failed to set stream flag: %v", err))
		}
	}

	url := ClaudeMessagesURL(acct.APIURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	if cred.Kind == account.CredentialOAuth {
		req.Header.Set("Authorization", "Bearer "+cred.Value)
	} else {
		req.Header.Set("x-api-key", cred.Value)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("anthropic-beta", BetaHeader(model))
	req.Header.Set("Content-Type", "application/json")
	ApplyClientHeaders(req.Header, clientHeaders)

	log.Debugf("relaying claude request: account=%s url=%s model=%s stream=%v", acct.ID, url, model, stream)
	return r.do(acct, req)
}
