// Package codex serves the OpenAI Responses passthrough endpoints backed by
// openai-responses accounts.
package codex

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
	"github.com/relay-for-me/AccountRelayAPI/internal/api/handlers"
)

// Handler serves the Codex relay endpoints.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler builds a Codex endpoint handler on the shared base.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// Responses handles POST /v1/responses and its alias. The body passes
// through untouched; Responses streams carry no token telemetry, so nothing
// is recorded.
func (h *Handler) Responses(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		h.WriteInvalidRequest(c, err)
		return
	}

	streamResult := gjson.GetBytes(rawJSON, "stream")
	stream := streamResult.Exists() && streamResult.Type != gjson.False

	var flusher http.Flusher
	if stream {
		var ok bool
		if flusher, ok = h.Flusher(c); !ok {
			return
		}
	}

	resp, _, err := h.Dispatch(c.Request.Context(), account.PlatformCodex, rawJSON, func(ctx context.Context, acct *account.Account) (*http.Response, error) {
		return h.Relayer.Codex(ctx, acct, rawJSON, "/responses", stream)
	})
	if err != nil {
		h.WriteRelayError(c, err)
		return
	}

	if !stream {
		defer func() {
			_ = resp.Body.Close()
		}()
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			h.WriteRelayError(c, readErr)
			return
		}
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	handlers.SetSSEHeaders(c)
	c.Status(http.StatusOK)
	h.ForwardStream(c, flusher, resp.Body, nil)
}
