package relay

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
)

const defaultGeminiBase = "https://cloudcode.googleapis.com/v1"

// GeminiBaseURL resolves the API base for an account.
func GeminiBaseURL(override string) string {
	if override == "" {
		return defaultGeminiBase
	}
	base := strings.TrimRight(override, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Gemini relays one generateContent call. Streaming requests use the SSE
// variant of the method with alt=sse framing. The caller owns resp.Body on
// success.
func (r *Relayer) Gemini(ctx context.Context, acct *account.Account, body []byte, model string, stream bool) (*http.Response, error) {
	cred, err := acct.Credentials(ctx)
	if err != nil {
		return nil, OAuthError(err.Error())
	}

	method := "generateContent"
	if stream {
		method = "streamGenerateContent"
	}
	url := fmt.Sprintf("%s/models/%s:%s", GeminiBaseURL(acct.APIURL), model, method)
	if stream {
		url += "?alt=sse"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	// Cloud Code takes both credential kinds as bearer tokens.
	req.Header.Set("Authorization", "Bearer "+cred.Value)
	req.Header.Set("Content-Type", "application/json")

	log.Debugf("relaying gemini request: account=%s url=%s", acct.ID, url)
	return r.do(acct, req)
}
