// Package relay performs single upstream attempts against the provider APIs:
// URL construction, credential headers, error classification, and usage
// telemetry extraction. Retrying across accounts is the dispatch layer's job.
package relay

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
	"github.com/relay-for-me/AccountRelayAPI/internal/util"
)

const requestTimeout = 600 * time.Second

// Relayer issues one upstream HTTP attempt per call. A single instance is
// shared by all request handlers.
type Relayer struct{}

func NewRelayer() *Relayer { return &Relayer{} }

// do sends the prepared request through the account's proxy and classifies
// non-2xx responses into typed errors. The caller owns resp.Body on success.
func (r *Relayer) do(acct *account.Account, req *http.Request) (*http.Response, error) {
	client, err := util.HTTPClient(acct.Proxy, requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream client: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer func() {
			_ = resp.Body.Close()
		}()
		body, _ := io.ReadAll(resp.Body)
		return nil, ClassifyResponse(resp.StatusCode, string(body))
	}
	return resp, nil
}
